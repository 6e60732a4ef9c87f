package ssh2

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrHostKeyChanged describes a host presenting a key that differs
// from the stored record. Callback reports it as the text of a
// HOST_KEY_NOT_VERIFIABLE DisconnectError, which is fatal to the
// session before user authentication is attempted; that error does
// not wrap ErrHostKeyChanged for errors.Is.
var ErrHostKeyChanged = errors.New("ssh2: host key for this host has changed")

// ErrHostKeyUnknown is returned by Lookup for a host with no stored
// record. Callback turns it into a HOST_KEY_NOT_VERIFIABLE
// DisconnectError when trust-on-first-use is disabled.
var ErrHostKeyUnknown = errors.New("ssh2: no stored host key for this host")

// HostKeyStore is a directory of per-host public key records. The
// record file name is derived from the host and port; its content is a
// public key file container with the host as comment.
//
// The store is read-only during a session except on first use, when a
// new record is written. Concurrent writers may race; last-writer-wins
// is acceptable because both write the same key.
type HostKeyStore struct {
	// Dir is the directory holding the records.
	Dir string

	// TrustOnFirstUse makes the store accept and record keys of
	// previously unseen hosts.
	TrustOnFirstUse bool

	mu sync.Mutex
}

// recordName derives the record file name from a host_port string,
// replacing every byte outside [a-z0-9._-] so arbitrary host names
// cannot escape the store directory.
func recordName(hostPort string) string {
	var b strings.Builder
	b.WriteString("key_")
	for i := 0; i < len(hostPort); i++ {
		c := hostPort[i]
		switch {
		case 'a' <= c && c <= 'z', '0' <= c && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		case 'A' <= c && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(".pub")
	return b.String()
}

// normalizeHostPort turns the hostname given to Dial into the
// host_port form used for record lookup.
func normalizeHostPort(hostname string) string {
	host, port, err := net.SplitHostPort(hostname)
	if err != nil {
		host, port = hostname, "22"
	}
	return host + "_" + port
}

// Lookup returns the stored key for hostname, or ErrHostKeyUnknown.
func (s *HostKeyStore) Lookup(hostname string) (PublicKey, error) {
	path := filepath.Join(s.Dir, recordName(normalizeHostPort(hostname)))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrHostKeyUnknown
		}
		return nil, err
	}
	key, _, err := ParsePublicKeyFile(data)
	return key, err
}

// Add records the key for hostname. Records are only ever added, never
// rewritten in place; an existing record is left untouched.
func (s *HostKeyStore) Add(hostname string, key PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return err
	}
	hostPort := normalizeHostPort(hostname)
	path := filepath.Join(s.Dir, recordName(hostPort))
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, MarshalPublicKeyFile(key, hostPort), 0600)
}

// Callback returns a HostKeyCallback that reconciles the server's key
// with the store: a matching record passes, a missing record is
// accepted and written when TrustOnFirstUse is set, and a different
// key fails the session with HOST_KEY_NOT_VERIFIABLE before any
// authentication is attempted.
func (s *HostKeyStore) Callback() HostKeyCallback {
	return func(hostname string, remote net.Addr, key PublicKey) error {
		stored, err := s.Lookup(hostname)
		switch {
		case err == nil:
			if keysEqual(stored, key) {
				return nil
			}
			return &DisconnectError{
				Reason:  DisconnectHostKeyNotVerifiable,
				Message: fmt.Sprintf("host key mismatch for %s: %v", hostname, ErrHostKeyChanged),
			}
		case errors.Is(err, ErrHostKeyUnknown):
			if !s.TrustOnFirstUse {
				return &DisconnectError{
					Reason:  DisconnectHostKeyNotVerifiable,
					Message: fmt.Sprintf("no host key for %s", hostname),
				}
			}
			return s.Add(hostname, key)
		default:
			return err
		}
	}
}

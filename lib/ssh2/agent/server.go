package agent

import (
	"bytes"
	"context"
	"crypto"
	"crypto/dsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creachadair/taskgroup"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

// agentKey is one private key resident in the agent.
type agentKey struct {
	public      []byte // wire blob, the lookup key
	raw         interface{}
	signer      ssh2.Signer
	description string
}

// Server holds private keys in memory and serves the agent protocol.
// The key table is only touched under the server mutex; clients
// interact purely through protocol messages.
type Server struct {
	// Logf, if set, is used to write logs. If nil, logs are discarded.
	Logf func(string, ...any)

	mu   sync.Mutex
	keys []*agentKey
}

// NewServer returns an empty agent.
func NewServer() *Server {
	return &Server{}
}

func (s *Server) logf(msg string, args ...any) {
	if s.Logf != nil {
		s.Logf(msg, args...)
	}
}

// findKey returns the resident key whose public blob is bitwise equal
// to blob, or nil.
func (s *Server) findKey(blob []byte) *agentKey {
	for _, k := range s.keys {
		if bytes.Equal(k.public, blob) {
			return k
		}
	}
	return nil
}

// AddKey loads a private key into the agent. A duplicate (bitwise
// equal public blob) is reported as success without re-adding.
func (s *Server) AddKey(privateBlob, publicBlob []byte, description string) error {
	raw, err := ssh2.ParsePrivateKeyBlob(privateBlob)
	if err != nil {
		return err
	}
	signer, err := ssh2.NewSignerFromKey(raw)
	if err != nil {
		return err
	}
	if !bytes.Equal(signer.PublicKey().Marshal(), publicBlob) {
		return errors.New("agent: public blob does not match private key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findKey(publicBlob) != nil {
		s.logf("add: key already resident, keeping existing copy")
		return nil
	}
	s.keys = append(s.keys, &agentKey{
		public:      append([]byte(nil), publicBlob...),
		raw:         raw,
		signer:      signer,
		description: description,
	})
	s.logf("add: %d keys resident", len(s.keys))
	return nil
}

// RemoveAllKeys empties the key table.
func (s *Server) RemoveAllKeys() {
	s.mu.Lock()
	s.keys = nil
	s.mu.Unlock()
	s.logf("delete-all: key table cleared")
}

// ListKeys returns copies of the resident public blobs and their
// descriptions, in residence order.
func (s *Server) ListKeys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, Key{
			Blob:        append([]byte(nil), k.public...),
			Description: k.description,
		})
	}
	return keys
}

// serverConn tracks per-connection state: the chain of hosts this
// connection has been forwarded through, kept for audit.
type serverConn struct {
	srv            *Server
	rw             io.ReadWriter
	forwardingPath []string
}

// Serve accepts connections from lst and serves the agent protocol to
// each in its own goroutine until lst closes or ctx ends.
func (s *Server) Serve(ctx context.Context, lst net.Listener) {
	var g taskgroup.Group
	g.Run(func() {
		<-ctx.Done()
		lst.Close()
	})
	for {
		conn, err := lst.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logf("listener stopped: %v", err)
			}
			break
		}
		g.Go(func() error {
			defer conn.Close()
			return s.ServeConn(conn)
		})
	}
	g.Wait()
}

// ServeConn serves the agent protocol on a single connection until it
// closes.
func (s *Server) ServeConn(rw io.ReadWriter) error {
	c := &serverConn{srv: s, rw: rw}
	for {
		reqType, payload, err := readFrame(rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := c.handle(reqType, payload); err != nil {
			return err
		}
	}
}

func (c *serverConn) reply(frameType uint32, payload []byte) error {
	return writeFrame(c.rw, frameType, payload)
}

func (c *serverConn) replyFailure(kind ErrorKind) error {
	return c.reply(msgFailure, binary.BigEndian.AppendUint32(nil, uint32(kind)))
}

func (c *serverConn) handle(reqType uint32, payload []byte) error {
	switch reqType {
	case msgRequestVersion:
		return c.reply(msgVersionResponse, binary.BigEndian.AppendUint32(nil, ProtocolVersion))

	case msgAddKey:
		privateBlob, rest, ok := readLString(payload)
		if !ok {
			return c.replyFailure(ErrSizeError)
		}
		publicBlob, rest, ok := readLString(rest)
		if !ok {
			return c.replyFailure(ErrSizeError)
		}
		description, _, ok := readLString(rest)
		if !ok {
			return c.replyFailure(ErrSizeError)
		}
		if err := c.srv.AddKey(privateBlob, publicBlob, string(description)); err != nil {
			c.srv.logf("add failed: %v", err)
			return c.replyFailure(ErrKeyNotSuitable)
		}
		return c.reply(msgSuccess, nil)

	case msgDeleteAllKeys:
		c.srv.RemoveAllKeys()
		return c.reply(msgSuccess, nil)

	case msgListKeys:
		keys := c.srv.ListKeys()
		out := binary.BigEndian.AppendUint32(nil, uint32(len(keys)))
		for _, k := range keys {
			out = appendLString(out, k.Blob)
			out = appendLString(out, []byte(k.Description))
		}
		return c.reply(msgKeyList, out)

	case msgPrivateKeyOp:
		op, rest, ok := readLString(payload)
		if !ok {
			return c.replyFailure(ErrSizeError)
		}
		publicBlob, rest, ok := readLString(rest)
		if !ok {
			return c.replyFailure(ErrSizeError)
		}
		data, _, ok := readLString(rest)
		if !ok {
			return c.replyFailure(ErrSizeError)
		}
		return c.privateKeyOp(string(op), publicBlob, data)

	case msgForwardingNotice:
		host, rest, ok := readLString(payload)
		if !ok {
			return nil
		}
		display, rest, ok := readLString(rest)
		if !ok {
			return nil
		}
		var port uint32
		if len(rest) >= 4 {
			port = binary.BigEndian.Uint32(rest)
		}
		c.forwardingPath = append(c.forwardingPath, string(host))
		c.srv.logf("forwarding notice: host=%s display=%s port=%d path=%v",
			host, display, port, strings.Join(c.forwardingPath, ","))
		// Informational; no reply.
		return nil
	}

	return c.replyFailure(ErrUnsupportedOp)
}

func (c *serverConn) privateKeyOp(op string, publicBlob, data []byte) error {
	c.srv.mu.Lock()
	key := c.srv.findKey(publicBlob)
	c.srv.mu.Unlock()
	if key == nil {
		return c.replyFailure(ErrKeyNotFound)
	}

	switch op {
	case OpHashAndSign:
		sig, err := key.signer.Sign(rand.Reader, data)
		if err != nil {
			return c.replyFailure(ErrFailure)
		}
		return c.reply(msgOperationComplete, appendLString(nil, ssh2.Marshal(sig)))

	case OpSign:
		// The caller supplies a ready-made digest.
		sig, err := signDigest(key.raw, data)
		if err != nil {
			return c.replyFailure(ErrKeyNotSuitable)
		}
		return c.reply(msgOperationComplete, appendLString(nil, sig))

	case OpDecrypt:
		rsaKey, ok := key.raw.(*rsa.PrivateKey)
		if !ok {
			return c.replyFailure(ErrKeyNotSuitable)
		}
		plain, err := rsa.DecryptPKCS1v15(rand.Reader, rsaKey, data)
		if err != nil {
			return c.replyFailure(ErrDecryptFailed)
		}
		return c.reply(msgOperationComplete, appendLString(nil, plain))

	case OpSSH1Challenge:
		return c.replyFailure(ErrUnsupportedOp)
	}

	return c.replyFailure(ErrUnsupportedOp)
}

// signDigest signs a pre-computed digest with the raw private key.
func signDigest(raw interface{}, digest []byte) ([]byte, error) {
	switch key := raw.(type) {
	case *dsa.PrivateKey:
		r, sv, err := dsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		sig := make([]byte, 40)
		rb, sb := r.Bytes(), sv.Bytes()
		copy(sig[20-len(rb):20], rb)
		copy(sig[40-len(sb):], sb)
		return ssh2.Marshal(&ssh2.Signature{Format: ssh2.KeyAlgoDSA, Blob: sig}), nil
	case *rsa.PrivateKey:
		blob, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest)
		if err != nil {
			return nil, err
		}
		return ssh2.Marshal(&ssh2.Signature{Format: ssh2.KeyAlgoRSA, Blob: blob}), nil
	}
	return nil, fmt.Errorf("agent: cannot sign raw digest with %T", raw)
}

// SocketPath returns the conventional socket location for a user and
// agent pid: /tmp/ssh-<user>/ssh2-<pid>-agent.
func SocketPath(user string, pid int) string {
	return filepath.Join(socketDir(user), fmt.Sprintf("ssh2-%d-agent", pid))
}

func socketDir(user string) string {
	return filepath.Join(os.TempDir(), "ssh-"+user)
}

// Listener is a listening agent socket with its on-disk state.
type Listener struct {
	net.Listener
	Path string
	dir  string
}

// Listen creates the user-scoped socket directory with restrictive
// permissions and listens on a fresh agent socket for this process.
func Listen(user string) (*Listener, error) {
	dir := socketDir(user)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	// The directory may predate us with looser permissions.
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, err
	}
	path := SocketPath(user, os.Getpid())
	lst, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		lst.Close()
		os.Remove(path)
		return nil, err
	}
	return &Listener{Listener: lst, Path: path, dir: dir}, nil
}

// Close shuts the listener and removes the socket and its directory.
func (l *Listener) Close() error {
	err := l.Listener.Close()
	os.Remove(l.Path)
	os.Remove(l.dir)
	return err
}

// WatchParent probes the parent process on every tick and terminates
// this process immediately when it has disappeared, to minimise the
// window in which a leaked client connection could still use the
// keys. The probe is advisory; the socket permissions are the actual
// access control.
func WatchParent(pid int, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for range t.C {
			if err := syscall.Kill(pid, 0); err != nil && errors.Is(err, syscall.ESRCH) {
				// Not a graceful shutdown on purpose.
				os.Exit(1)
			}
		}
	}()
}

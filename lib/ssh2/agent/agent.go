// Package agent implements the SSH2 authentication agent: a local
// custodian for private keys that signs on behalf of its clients
// without releasing key material. The agent speaks its own framed
// request/response protocol over a user-scoped local socket, and may
// be forwarded through an SSH connection.
package agent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

// ProtocolVersion is returned for REQUEST_VERSION.
const ProtocolVersion = 2

// Environment variables advertising a running agent.
const (
	EnvAuthSock = "SSH2_AUTH_SOCK"
	EnvAgentPID = "SSH2_AGENT_PID"
)

// Request type codes sent by agent clients.
const (
	msgRequestVersion   = 1
	msgAddKey           = 202
	msgDeleteAllKeys    = 203
	msgListKeys         = 204
	msgPrivateKeyOp     = 205
	msgForwardingNotice = 206
)

// Response type codes from the agent.
const (
	msgSuccess           = 101
	msgFailure           = 102
	msgVersionResponse   = 103
	msgKeyList           = 104
	msgOperationComplete = 105
)

// Private key operation names.
const (
	OpSign        = "sign"
	OpHashAndSign = "hash-and-sign"
	OpDecrypt     = "decrypt"
	// The SSH1 challenge-response hook is recognised but not
	// implemented; it answers ErrUnsupportedOp.
	OpSSH1Challenge = "ssh1-challenge-response"
)

// ErrorKind classifies agent failures on the wire.
type ErrorKind uint32

const (
	ErrOK ErrorKind = iota
	ErrTimeout
	ErrKeyNotFound
	ErrDecryptFailed
	ErrSizeError
	ErrKeyNotSuitable
	ErrDenied
	ErrFailure
	ErrUnsupportedOp
	ErrBusy
)

func (k ErrorKind) String() string {
	switch k {
	case ErrOK:
		return "ok"
	case ErrTimeout:
		return "timeout"
	case ErrKeyNotFound:
		return "key not found"
	case ErrDecryptFailed:
		return "decrypt failed"
	case ErrSizeError:
		return "size error"
	case ErrKeyNotSuitable:
		return "key not suitable"
	case ErrDenied:
		return "denied"
	case ErrFailure:
		return "failure"
	case ErrUnsupportedOp:
		return "unsupported operation"
	case ErrBusy:
		return "busy"
	}
	return fmt.Sprintf("error %d", uint32(k))
}

// Error is an agent protocol failure response.
type Error struct {
	Kind ErrorKind
}

func (e *Error) Error() string {
	return "agent: " + e.Kind.String()
}

// Key is a public key held by the agent, as reported by List.
type Key struct {
	Blob        []byte
	Description string
}

// maxFrame bounds a single agent protocol frame.
const maxFrame = 1 << 20

// Frames are laid out as
//
//	uint32 length || uint32 type || payload
//
// where length counts the type word and the payload.

func writeFrame(w io.Writer, frameType uint32, payload []byte) error {
	if len(payload)+4 > maxFrame {
		return &Error{ErrSizeError}
	}
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(4+len(payload)))
	binary.BigEndian.PutUint32(buf[4:], frameType)
	copy(buf[8:], payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (frameType uint32, payload []byte, err error) {
	var head [8]byte
	if _, err = io.ReadFull(r, head[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(head[:4])
	if length < 4 || length > maxFrame {
		return 0, nil, fmt.Errorf("agent: invalid frame length %d", length)
	}
	frameType = binary.BigEndian.Uint32(head[4:])
	payload = make([]byte, length-4)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return frameType, payload, nil
}

// Client talks to an agent over conn. It is safe for concurrent use;
// requests are serialised on the connection.
type Client struct {
	mu   sync.Mutex
	conn io.ReadWriter
}

// NewClient returns a Client for an established agent connection.
func NewClient(conn io.ReadWriter) *Client {
	return &Client{conn: conn}
}

// Dial connects to the agent named by the SSH2_AUTH_SOCK environment
// variable. The caller owns the returned net.Conn.
func Dial() (*Client, net.Conn, error) {
	path := os.Getenv(EnvAuthSock)
	if path == "" {
		return nil, nil, errors.New("agent: " + EnvAuthSock + " not set")
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

// call performs one request/response round trip.
func (c *Client) call(reqType uint32, payload []byte) (respType uint32, resp []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.conn, reqType, payload); err != nil {
		return 0, nil, err
	}
	return readFrame(c.conn)
}

// failureToError converts a FAILURE payload to an *Error.
func failureToError(payload []byte) error {
	if len(payload) >= 4 {
		return &Error{ErrorKind(binary.BigEndian.Uint32(payload))}
	}
	return &Error{ErrFailure}
}

// Version asks the agent for its protocol version.
func (c *Client) Version() (uint32, error) {
	respType, resp, err := c.call(msgRequestVersion, nil)
	if err != nil {
		return 0, err
	}
	switch respType {
	case msgVersionResponse:
		if len(resp) < 4 {
			return 0, errors.New("agent: short version response")
		}
		return binary.BigEndian.Uint32(resp), nil
	case msgFailure:
		return 0, failureToError(resp)
	}
	return 0, fmt.Errorf("agent: unexpected response type %d", respType)
}

// Add hands a private key to the agent. Adding a key whose public
// blob the agent already holds succeeds without re-adding.
func (c *Client) Add(privateBlob, publicBlob []byte, description string) error {
	payload := appendLString(nil, privateBlob)
	payload = appendLString(payload, publicBlob)
	payload = appendLString(payload, []byte(description))
	respType, resp, err := c.call(msgAddKey, payload)
	if err != nil {
		return err
	}
	switch respType {
	case msgSuccess:
		return nil
	case msgFailure:
		return failureToError(resp)
	}
	return fmt.Errorf("agent: unexpected response type %d", respType)
}

// RemoveAll deletes every key held by the agent.
func (c *Client) RemoveAll() error {
	respType, resp, err := c.call(msgDeleteAllKeys, nil)
	if err != nil {
		return err
	}
	switch respType {
	case msgSuccess:
		return nil
	case msgFailure:
		return failureToError(resp)
	}
	return fmt.Errorf("agent: unexpected response type %d", respType)
}

// List returns the public halves of all keys the agent holds, in the
// order the agent keeps them.
func (c *Client) List() ([]Key, error) {
	respType, resp, err := c.call(msgListKeys, nil)
	if err != nil {
		return nil, err
	}
	switch respType {
	case msgKeyList:
	case msgFailure:
		return nil, failureToError(resp)
	default:
		return nil, fmt.Errorf("agent: unexpected response type %d", respType)
	}

	if len(resp) < 4 {
		return nil, errors.New("agent: short key list")
	}
	count := binary.BigEndian.Uint32(resp)
	resp = resp[4:]
	var keys []Key
	for i := uint32(0); i < count; i++ {
		var blob, desc []byte
		var ok bool
		if blob, resp, ok = readLString(resp); !ok {
			return nil, errors.New("agent: malformed key list")
		}
		if desc, resp, ok = readLString(resp); !ok {
			return nil, errors.New("agent: malformed key list")
		}
		keys = append(keys, Key{Blob: blob, Description: string(desc)})
	}
	return keys, nil
}

// PrivateKeyOp runs the named operation with the key identified by
// publicBlob. Key lookup is bitwise equality on the blob.
func (c *Client) PrivateKeyOp(op string, publicBlob, data []byte) ([]byte, error) {
	payload := appendLString(nil, []byte(op))
	payload = appendLString(payload, publicBlob)
	payload = appendLString(payload, data)
	respType, resp, err := c.call(msgPrivateKeyOp, payload)
	if err != nil {
		return nil, err
	}
	switch respType {
	case msgOperationComplete:
		result, _, ok := readLString(resp)
		if !ok {
			return nil, errors.New("agent: malformed operation result")
		}
		return result, nil
	case msgFailure:
		return nil, failureToError(resp)
	}
	return nil, fmt.Errorf("agent: unexpected response type %d", respType)
}

// HashAndSign asks the agent to hash data with the key's hash
// function and sign the digest.
func (c *Client) HashAndSign(publicBlob, data []byte) ([]byte, error) {
	return c.PrivateKeyOp(OpHashAndSign, publicBlob, data)
}

// Decrypt asks the agent to decrypt a ciphertext with the private key.
func (c *Client) Decrypt(publicBlob, ciphertext []byte) ([]byte, error) {
	return c.PrivateKeyOp(OpDecrypt, publicBlob, ciphertext)
}

// ForwardingNotice informs the agent that this connection has been
// forwarded through host. It is purely informational and carries no
// reply.
func (c *Client) ForwardingNotice(host, display string, port uint32) error {
	payload := appendLString(nil, []byte(host))
	payload = appendLString(payload, []byte(display))
	payload = binary.BigEndian.AppendUint32(payload, port)
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.conn, msgForwardingNotice, payload)
}

// Signers exposes the agent's keys as ssh2 signers, in agent order,
// for use with ssh2.PublicKeysCallback. Signing is delegated to the
// agent; private keys never reach the caller.
func (c *Client) Signers() ([]ssh2.Signer, error) {
	keys, err := c.List()
	if err != nil {
		return nil, err
	}
	var signers []ssh2.Signer
	for _, key := range keys {
		pub, err := ssh2.ParsePublicKey(key.Blob)
		if err != nil {
			return nil, err
		}
		signers = append(signers, &agentSigner{client: c, pub: pub, blob: key.Blob})
	}
	return signers, nil
}

type agentSigner struct {
	client *Client
	pub    ssh2.PublicKey
	blob   []byte
}

func (s *agentSigner) PublicKey() ssh2.PublicKey {
	return s.pub
}

func (s *agentSigner) Sign(rand io.Reader, data []byte) (*ssh2.Signature, error) {
	wire, err := s.client.HashAndSign(s.blob, data)
	if err != nil {
		return nil, err
	}
	var sig ssh2.Signature
	if err := ssh2.Unmarshal(wire, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// appendLString appends a uint32 length prefixed byte string.
func appendLString(buf, s []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readLString(in []byte) (s, rest []byte, ok bool) {
	if len(in) < 4 {
		return nil, nil, false
	}
	n := binary.BigEndian.Uint32(in)
	in = in[4:]
	if uint32(len(in)) < n {
		return nil, nil, false
	}
	return in[:n], in[n:], true
}

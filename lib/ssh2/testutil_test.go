package ssh2

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net"
	"testing"
)

// memTransport is an in-memory packetConn for exercising the kex and
// auth machinery without a real socket.
type memTransport struct {
	in  <-chan []byte
	out chan<- []byte
}

func (t *memTransport) readPacket() ([]byte, error) {
	p, ok := <-t.in
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

func (t *memTransport) writePacket(p []byte) error {
	// writePacket owns p; hand over a copy like a real transport
	// serialising to the wire.
	c := make([]byte, len(p))
	copy(c, p)
	t.out <- c
	return nil
}

func (t *memTransport) Close() error {
	close(t.out)
	return nil
}

func memPipe() (a, b packetConn) {
	t1 := make(chan []byte, 16)
	t2 := make(chan []byte, 16)
	return &memTransport{in: t1, out: t2}, &memTransport{in: t2, out: t1}
}

// netPipe gives two ends of a TCP connection on the loopback
// interface, so tests exercise real buffered I/O.
func netPipe() (net.Conn, net.Conn, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	defer listener.Close()
	c1, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		return nil, nil, err
	}
	c2, err := listener.Accept()
	if err != nil {
		c1.Close()
		return nil, nil, err
	}
	return c1, c2, nil
}

func testECDSASigner(t *testing.T) Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	return signer
}

func testEd25519Signer(t *testing.T) Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	return signer
}

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

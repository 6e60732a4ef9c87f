package agent

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

// startAgent wires a Client to an in-process Server over a pipe.
func startAgent(t *testing.T) (*Client, *Server) {
	t.Helper()
	srv := NewServer()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	go srv.ServeConn(c2)
	return NewClient(c1), srv
}

func testKeyBlobs(t *testing.T) (priv []byte, pub []byte, signer ssh2.Signer) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	priv, err = ssh2.MarshalPrivateKeyBlob(key)
	if err != nil {
		t.Fatal(err)
	}
	signer, err = ssh2.NewSignerFromKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return priv, signer.PublicKey().Marshal(), signer
}

func TestVersion(t *testing.T) {
	client, _ := startAgent(t)
	v, err := client.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != ProtocolVersion {
		t.Errorf("version = %d, want %d", v, ProtocolVersion)
	}
}

// S6: a fresh agent answers LIST_KEYS with an empty list, not an
// error.
func TestListEmpty(t *testing.T) {
	client, _ := startAgent(t)
	keys, err := client.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("fresh agent lists %d keys", len(keys))
	}
}

func TestAddListSign(t *testing.T) {
	client, _ := startAgent(t)
	priv, pub, signer := testKeyBlobs(t)

	if err := client.Add(priv, pub, "test key"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	keys, err := client.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []Key{{Blob: pub, Description: "test key"}}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}

	// The listing must never contain private key material.
	for _, k := range keys {
		if bytes.Contains(k.Blob, priv) {
			t.Error("private blob leaked through List")
		}
	}

	data := []byte("sign me")
	wire, err := client.HashAndSign(pub, data)
	if err != nil {
		t.Fatalf("HashAndSign: %v", err)
	}
	var sig ssh2.Signature
	if err := ssh2.Unmarshal(wire, &sig); err != nil {
		t.Fatalf("Unmarshal signature: %v", err)
	}
	if err := signer.PublicKey().Verify(data, &sig); err != nil {
		t.Errorf("agent signature did not verify: %v", err)
	}
}

func TestAddDuplicate(t *testing.T) {
	client, srv := startAgent(t)
	priv, pub, _ := testKeyBlobs(t)

	if err := client.Add(priv, pub, "one"); err != nil {
		t.Fatal(err)
	}
	// A duplicate add succeeds and does not grow the table.
	if err := client.Add(priv, pub, "two"); err != nil {
		t.Fatalf("duplicate Add: %v", err)
	}
	if got := len(srv.ListKeys()); got != 1 {
		t.Errorf("key table has %d entries, want 1", got)
	}
	// The original description is kept.
	if got := srv.ListKeys()[0].Description; got != "one" {
		t.Errorf("description = %q, want %q", got, "one")
	}
}

func TestDeleteAll(t *testing.T) {
	client, _ := startAgent(t)
	priv, pub, _ := testKeyBlobs(t)

	if err := client.Add(priv, pub, "k"); err != nil {
		t.Fatal(err)
	}
	if err := client.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	keys, err := client.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("%d keys remain after delete-all", len(keys))
	}
}

func TestSignUnknownKey(t *testing.T) {
	client, _ := startAgent(t)
	_, pub, _ := testKeyBlobs(t)

	_, err := client.HashAndSign(pub, []byte("x"))
	var agentErr *Error
	if !errors.As(err, &agentErr) {
		t.Fatalf("got %v, want *Error", err)
	}
	if agentErr.Kind != ErrKeyNotFound {
		t.Errorf("kind = %v, want %v", agentErr.Kind, ErrKeyNotFound)
	}
}

func TestDecrypt(t *testing.T) {
	client, _ := startAgent(t)
	priv, pub, _ := testKeyBlobs(t)
	if err := client.Add(priv, pub, "k"); err != nil {
		t.Fatal(err)
	}

	parsed, err := ssh2.ParsePrivateKeyBlob(priv)
	if err != nil {
		t.Fatal(err)
	}
	rsaKey := parsed.(*rsa.PrivateKey)
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &rsaKey.PublicKey, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	plain, err := client.Decrypt(pub, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plain) != "secret" {
		t.Errorf("Decrypt gave %q", plain)
	}
}

func TestUnsupportedOp(t *testing.T) {
	client, _ := startAgent(t)
	priv, pub, _ := testKeyBlobs(t)
	if err := client.Add(priv, pub, "k"); err != nil {
		t.Fatal(err)
	}

	_, err := client.PrivateKeyOp(OpSSH1Challenge, pub, []byte("challenge"))
	var agentErr *Error
	if !errors.As(err, &agentErr) || agentErr.Kind != ErrUnsupportedOp {
		t.Errorf("got %v, want unsupported op", err)
	}
}

func TestForwardingNotice(t *testing.T) {
	client, _ := startAgent(t)

	// Purely informational: no reply, and the connection keeps
	// working afterwards.
	if err := client.ForwardingNotice("hop1.example", "hop1:0", 22); err != nil {
		t.Fatalf("ForwardingNotice: %v", err)
	}
	if _, err := client.Version(); err != nil {
		t.Fatalf("Version after notice: %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("frame payload")
	if err := writeFrame(&buf, msgAddKey, payload); err != nil {
		t.Fatal(err)
	}
	typ, got, err := readFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != msgAddKey || !bytes.Equal(got, payload) {
		t.Errorf("frame round trip gave type %d payload %q", typ, got)
	}
}

package ssh2

import (
	"bytes"
	"crypto/dsa"
	"crypto/rand"
	"math/big"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	signers := map[string]Signer{
		"ecdsa":   testECDSASigner(t),
		"ed25519": testEd25519Signer(t),
	}
	rsaSigner, err := NewSignerFromKey(testRSAKey(t))
	if err != nil {
		t.Fatal(err)
	}
	signers["rsa"] = rsaSigner

	data := []byte("some data to be signed")
	for name, signer := range signers {
		sig, err := signer.Sign(rand.Reader, data)
		if err != nil {
			t.Fatalf("%s: Sign: %v", name, err)
		}
		if err := signer.PublicKey().Verify(data, sig); err != nil {
			t.Errorf("%s: Verify: %v", name, err)
		}
		if err := signer.PublicKey().Verify([]byte("other data"), sig); err == nil {
			t.Errorf("%s: signature verified against wrong data", name)
		}
	}
}

func TestPublicKeyBlobRoundTrip(t *testing.T) {
	keys := []PublicKey{
		testECDSASigner(t).PublicKey(),
		testEd25519Signer(t).PublicKey(),
	}
	rsaSigner, _ := NewSignerFromKey(testRSAKey(t))
	keys = append(keys, rsaSigner.PublicKey())

	for _, key := range keys {
		blob := key.Marshal()
		parsed, err := ParsePublicKey(blob)
		if err != nil {
			t.Fatalf("%s: ParsePublicKey: %v", key.Type(), err)
		}
		if parsed.Type() != key.Type() {
			t.Errorf("type changed: %q -> %q", key.Type(), parsed.Type())
		}
		if !bytes.Equal(parsed.Marshal(), blob) {
			t.Errorf("%s: blob changed across round trip", key.Type())
		}
	}
}

// TestDSSBlobLayout checks the wire layout of an ssh-dss blob:
// string "ssh-dss" followed by the mpints p, q, g, y.
func TestDSSBlobLayout(t *testing.T) {
	pub := &dsaPublicKey{
		Parameters: dsa.Parameters{
			P: big.NewInt(0x1234567),
			Q: big.NewInt(0x89abcd),
			G: big.NewInt(2),
		},
		Y: big.NewInt(0xfedcba),
	}
	blob := pub.Marshal()

	name, rest, ok := parseString(blob)
	if !ok || string(name) != KeyAlgoDSA {
		t.Fatalf("blob does not start with %q: %q", KeyAlgoDSA, name)
	}
	for i, want := range []*big.Int{pub.P, pub.Q, pub.G, pub.Y} {
		var got *big.Int
		if got, rest, ok = parseMpint(rest); !ok {
			t.Fatalf("mpint %d missing", i)
		}
		if got.Cmp(want) != 0 {
			t.Errorf("mpint %d = %v, want %v", i, got, want)
		}
	}
	if len(rest) != 0 {
		t.Errorf("%d trailing bytes in blob", len(rest))
	}

	parsed, err := ParsePublicKey(blob)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if parsed.Type() != KeyAlgoDSA {
		t.Errorf("parsed type %q", parsed.Type())
	}
}

func TestParsePublicKeyJunk(t *testing.T) {
	if _, err := ParsePublicKey([]byte("not a key")); err == nil {
		t.Error("expected parse failure")
	}
	blob := testEd25519Signer(t).PublicKey().Marshal()
	if _, err := ParsePublicKey(append(blob, 1, 2, 3)); err == nil {
		t.Error("expected trailing junk to be rejected")
	}
}

func TestSignatureWireFormat(t *testing.T) {
	signer := testEd25519Signer(t)
	sig, err := signer.Sign(rand.Reader, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	wire := Marshal(sig)
	parsed, rest, ok := parseSignatureBody(wire)
	if !ok || len(rest) != 0 {
		t.Fatalf("parseSignatureBody failed")
	}
	if parsed.Format != sig.Format || !bytes.Equal(parsed.Blob, sig.Blob) {
		t.Errorf("signature changed across round trip")
	}
}

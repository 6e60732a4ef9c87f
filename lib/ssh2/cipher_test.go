package ssh2

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"testing"
)

// fakeKexResult gives deterministic key material for cipher tests.
func fakeKexResult() *kexResult {
	return &kexResult{
		H:         []byte("0123456789abcdef0123456789abcdef"),
		K:         appendBytes(nil, []byte("shared-secret-shared-secret-1234")),
		SessionID: []byte("session-id-session-id-0123456789"),
		Hash:      crypto.SHA256,
	}
}

func testPacketCiphers(t *testing.T) map[string]DirectionAlgorithms {
	t.Helper()
	out := map[string]DirectionAlgorithms{}
	for cipher := range cipherModes {
		for mac := range macModes {
			out[cipher+"/"+mac] = DirectionAlgorithms{
				Cipher:      cipher,
				MAC:         mac,
				Compression: compressionNone,
			}
		}
	}
	return out
}

func TestPacketCipherRoundTrip(t *testing.T) {
	kex := fakeKexResult()
	for name, algs := range testPacketCiphers(t) {
		writer, err := newPacketCipher(clientKeys, algs, kex)
		if err != nil {
			t.Fatalf("%s: writer: %v", name, err)
		}
		reader, err := newPacketCipher(clientKeys, algs, kex)
		if err != nil {
			t.Fatalf("%s: reader: %v", name, err)
		}

		want := []byte("the quick brown fox jumps over the lazy dog")
		var buf bytes.Buffer
		payload := append([]byte(nil), want...)
		if err := writer.writeCipherPacket(7, &buf, rand.Reader, payload); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		got, err := reader.readCipherPacket(7, &buf)
		if err != nil {
			t.Fatalf("%s: read: %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s: round trip gave %q, want %q", name, got, want)
		}
	}
}

func TestPacketCipherWrongSeqNum(t *testing.T) {
	kex := fakeKexResult()
	algs := DirectionAlgorithms{Cipher: "aes128-ctr", MAC: "hmac-sha2-256", Compression: compressionNone}
	writer, _ := newPacketCipher(clientKeys, algs, kex)
	reader, _ := newPacketCipher(clientKeys, algs, kex)

	var buf bytes.Buffer
	if err := writer.writeCipherPacket(1, &buf, rand.Reader, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := reader.readCipherPacket(2, &buf); err == nil {
		t.Error("expected MAC failure for wrong sequence number")
	}
}

func TestTransportSequenceNumbers(t *testing.T) {
	// Sequence numbers are monotone and bump by exactly one per
	// packet in each direction, independent of the payload.
	c1, c2, err := netPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	defer c2.Close()

	client := newTransport(c1, rand.Reader, true)
	server := newTransport(c2, rand.Reader, false)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 5; i++ {
			if _, err := server.readPacket(); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < 5; i++ {
		before := client.writer.seqNum
		if err := client.writePacket([]byte{msgServiceRequest, 0, 0, 0, 0}); err != nil {
			t.Fatalf("writePacket: %v", err)
		}
		if got := client.writer.seqNum; got != before+1 {
			t.Fatalf("writer seqNum went %d -> %d", before, got)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("read side: %v", err)
	}
	if server.reader.seqNum != 5 {
		t.Errorf("reader seqNum = %d, want 5", server.reader.seqNum)
	}
}

func TestTransportDisconnectSurfaces(t *testing.T) {
	c1, c2, err := netPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	defer c2.Close()

	client := newTransport(c1, rand.Reader, true)
	server := newTransport(c2, rand.Reader, false)

	go client.writePacket(Marshal(&disconnectMsg{Reason: DisconnectByApplication, Message: "bye"}))

	_, err = server.readPacket()
	d, ok := err.(*DisconnectError)
	if !ok {
		t.Fatalf("got error %v, want *DisconnectError", err)
	}
	if d.Reason != DisconnectByApplication || d.Message != "bye" {
		t.Errorf("disconnect = %#v", d)
	}
}

func TestVersionExchange(t *testing.T) {
	c1, c2, err := netPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	defer c2.Close()

	go func() {
		// A chatty peer: banner lines precede the version.
		c2.Write([]byte("welcome to the machine\r\nplease behave\r\nSSH-2.0-Frobnicator_7 with comment\r\n"))
	}()

	them, err := exchangeVersions(c1, []byte(packageVersion))
	if err != nil {
		t.Fatalf("exchangeVersions: %v", err)
	}
	if string(them) != "SSH-2.0-Frobnicator_7 with comment" {
		t.Errorf("got version %q", them)
	}
	if !acceptableVersion(them) {
		t.Error("2.0 peer should be acceptable")
	}

	id := parseEndpointId(them)
	if id.ProtoVersion != "2.0" || id.SoftwareVersion != "Frobnicator_7" || id.Comment != "with comment" {
		t.Errorf("parsed endpoint id %#v", id)
	}
}

func TestVersionAcceptability(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
	}{
		{"SSH-2.0-foo", true},
		{"SSH-1.99-old", true},
		{"SSH-1.5-ancient", false},
		{"SSH-1.0-ancient", false},
	}
	for _, c := range cases {
		if got := acceptableVersion([]byte(c.line)); got != c.ok {
			t.Errorf("acceptableVersion(%q) = %v, want %v", c.line, got, c.ok)
		}
	}
}

func TestGenerateKeyMaterialDeterministic(t *testing.T) {
	kex := fakeKexResult()
	a := make([]byte, 64)
	b := make([]byte, 64)
	generateKeyMaterial(a, []byte{'A'}, kex)
	generateKeyMaterial(b, []byte{'A'}, kex)
	if !bytes.Equal(a, b) {
		t.Error("key material is not deterministic")
	}
	c := make([]byte, 64)
	generateKeyMaterial(c, []byte{'B'}, kex)
	if bytes.Equal(a, c) {
		t.Error("different tags must give different key material")
	}
}

package ssh2

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"
)

// x11Setup builds an X11 connection setup message carrying the given
// authorization data.
func x11Setup(order binary.ByteOrder, orderByte byte, authName string, authData []byte) []byte {
	var header [12]byte
	header[0] = orderByte
	order.PutUint16(header[2:4], 11) // protocol major
	order.PutUint16(header[6:8], uint16(len(authName)))
	order.PutUint16(header[8:10], uint16(len(authData)))

	out := append([]byte(nil), header[:]...)
	out = append(out, authName...)
	out = append(out, make([]byte, pad4(len(authName))-len(authName))...)
	out = append(out, authData...)
	out = append(out, make([]byte, pad4(len(authData))-len(authData))...)
	return out
}

func TestX11CookieCheck(t *testing.T) {
	fake := bytes.Repeat([]byte{0xAB}, 16)
	realCookie := bytes.Repeat([]byte{0xCD}, 16)
	fwd := &X11Forwarder{FakeCookie: fake, RealCookie: realCookie}

	for _, tc := range []struct {
		name      string
		orderByte byte
		order     binary.ByteOrder
	}{
		{"big-endian", 0x42, binary.BigEndian},
		{"little-endian", 0x6C, binary.LittleEndian},
	} {
		setup := x11Setup(tc.order, tc.orderByte, x11AuthProtocol, fake)
		rewritten, err := fwd.checkCookie(bytes.NewReader(setup))
		if err != nil {
			t.Fatalf("%s: checkCookie: %v", tc.name, err)
		}
		// The fake cookie is replaced by the real one before the
		// setup reaches the display.
		if !bytes.Contains(rewritten, realCookie) {
			t.Errorf("%s: real cookie not substituted", tc.name)
		}
		if bytes.Contains(rewritten, fake) {
			t.Errorf("%s: fake cookie leaked to the display", tc.name)
		}
	}
}

func TestX11CookieMismatchRejected(t *testing.T) {
	fwd := &X11Forwarder{FakeCookie: bytes.Repeat([]byte{1}, 16)}

	spoofed := x11Setup(binary.BigEndian, 0x42, x11AuthProtocol, bytes.Repeat([]byte{9}, 16))
	if _, err := fwd.checkCookie(bytes.NewReader(spoofed)); err == nil {
		t.Error("spoofed cookie accepted")
	}

	wrongProto := x11Setup(binary.BigEndian, 0x42, "XDM-AUTHORIZATION-1", fwd.FakeCookie)
	if _, err := fwd.checkCookie(bytes.NewReader(wrongProto)); err == nil {
		t.Error("unknown auth protocol accepted")
	}

	badOrder := x11Setup(binary.BigEndian, 0x55, x11AuthProtocol, fwd.FakeCookie)
	if _, err := fwd.checkCookie(bytes.NewReader(badOrder)); err == nil {
		t.Error("unknown byte order accepted")
	}
}

func TestNewX11Cookie(t *testing.T) {
	c1, err := NewX11Cookie(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if len(c1) != 16 {
		t.Errorf("cookie length %d", len(c1))
	}
}

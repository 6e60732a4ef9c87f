package ssh2

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
)

const x11ChannelType = "x11"

// x11AuthProtocol is the only X authorization protocol understood by
// the forwarder.
const x11AuthProtocol = "MIT-MAGIC-COOKIE-1"

// RFC 4254 section 6.3.1.
type x11ReqMsg struct {
	SingleConnection bool
	AuthProtocol     string
	AuthCookie       string
	ScreenNumber     uint32
}

// RFC 4254 section 6.3.2.
type x11OpenPayload struct {
	OriginatorAddr string
	OriginatorPort uint32
}

// X11Forwarder proxies peer-initiated X11 channels to a local display
// stream. The fake cookie travels to the peer in the x11-req; a
// connecting client must present it, and the forwarder substitutes the
// real display cookie before splicing the streams.
type X11Forwarder struct {
	// Dial connects to the local display.
	Dial func() (net.Conn, error)

	// FakeCookie is the random cookie advertised to the peer.
	FakeCookie []byte

	// RealCookie, if non-empty, replaces FakeCookie in the X11
	// connection setup before it reaches the display.
	RealCookie []byte
}

// NewX11Cookie generates a random MIT-MAGIC-COOKIE-1 value.
func NewX11Cookie(rand io.Reader) ([]byte, error) {
	cookie := make([]byte, 16)
	if _, err := io.ReadFull(rand, cookie); err != nil {
		return nil, err
	}
	return cookie, nil
}

// RequestX11Forwarding asks the peer to forward X11 connections from
// the session's remote end. The fwd argument must have been registered
// with Client.HandleX11 on the same connection.
func (s *Session) RequestX11Forwarding(fwd *X11Forwarder, screen uint32, singleConnection bool) error {
	req := x11ReqMsg{
		SingleConnection: singleConnection,
		AuthProtocol:     x11AuthProtocol,
		AuthCookie:       hex.EncodeToString(fwd.FakeCookie),
		ScreenNumber:     screen,
	}
	ok, err := s.ch.SendRequest("x11-req", true, Marshal(&req))
	if err == nil && !ok {
		err = errors.New("ssh2: x11-req failed")
	}
	return err
}

// HandleX11 arranges for peer-initiated X11 channel opens to be
// served by fwd. It returns an error if X11 channels are already
// being handled on this connection.
func (c *Client) HandleX11(fwd *X11Forwarder) error {
	ch := c.HandleChannelOpen(x11ChannelType)
	if ch == nil {
		return errors.New("ssh2: x11 channels already handled")
	}
	go func() {
		for newCh := range ch {
			go fwd.serve(newCh)
		}
	}()
	return nil
}

func (f *X11Forwarder) serve(newCh NewChannel) {
	var payload x11OpenPayload
	if err := Unmarshal(newCh.ExtraData(), &payload); err != nil {
		newCh.Reject(ConnectionFailed, "could not parse x11 payload: "+err.Error())
		return
	}

	ch, reqs, err := newCh.Accept()
	if err != nil {
		return
	}
	go DiscardRequests(reqs)
	defer ch.Close()

	setup, err := f.checkCookie(ch)
	if err != nil {
		return
	}

	display, err := f.Dial()
	if err != nil {
		return
	}
	defer display.Close()

	if _, err := display.Write(setup); err != nil {
		return
	}

	done := make(chan struct{}, 1)
	go func() {
		io.Copy(ch, display)
		done <- struct{}{}
	}()
	io.Copy(display, ch)
	<-done
}

// checkCookie reads the X11 connection setup message from the channel,
// verifies that the presented authorization data matches the fake
// cookie, and returns the setup rewritten with the real cookie.
//
// The setup message is a 12 byte header followed by the padded
// authorization protocol name and data. The leading byte selects the
// byte order: 0x42 for big-endian, 0x6C for little-endian.
func (f *X11Forwarder) checkCookie(r io.Reader) ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	var order binary.ByteOrder
	switch header[0] {
	case 0x42:
		order = binary.BigEndian
	case 0x6C:
		order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("ssh2: unknown x11 byte order 0x%02x", header[0])
	}

	nameLen := int(order.Uint16(header[6:8]))
	dataLen := int(order.Uint16(header[8:10]))

	body := make([]byte, pad4(nameLen)+pad4(dataLen))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	name := body[:nameLen]
	data := body[pad4(nameLen) : pad4(nameLen)+dataLen]

	if string(name) != x11AuthProtocol || !bytes.Equal(data, f.FakeCookie) {
		return nil, errors.New("ssh2: x11 authorization cookie mismatch")
	}

	if len(f.RealCookie) != 0 {
		if len(f.RealCookie) != dataLen {
			return nil, errors.New("ssh2: real x11 cookie has wrong length")
		}
		copy(data, f.RealCookie)
	}

	return append(header[:], body...), nil
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

package ssh2

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// packageVersion is the identification string sent during version
// exchange unless the caller overrides it.
const packageVersion = "SSH-2.0-ZSSH2_1.0"

const (
	gcmCipherID    = "aes128-gcm@openssh.com"
	aes128cbcID    = "aes128-cbc"
	tripledescbcID = "3des-cbc"
)

// packetConn represents a transport that implements packet based
// operations.
type packetConn interface {
	// Encrypt and send a packet of data to the remote peer.
	writePacket(packet []byte) error

	// Read a packet from the connection.
	readPacket() ([]byte, error)

	// Close closes the write-side of the connection.
	Close() error
}

// transport is the keyed packet layer: framing, padding, encryption,
// MAC, and the per-direction sequence numbers.
type transport struct {
	reader connectionState
	writer connectionState

	bufReader *bufio.Reader
	bufWriter *bufio.Writer
	rand      io.Reader
	isClient  bool

	io.Closer

	// Initial H used for the session ID. Once assigned this does
	// not change, even during subsequent key exchanges.
	sessionID []byte
}

// connectionState keeps state per direction: a cipher and a sequence
// number. The sequence number is incremented for every packet and
// wraps at 2^32; it is never reset, even by a key change.
type connectionState struct {
	packetCipher
	seqNum           uint32
	dir              direction
	pendingKeyChange chan packetCipher
}

// prepareKeyChange sets up key material for a upcoming key change. The
// key change is effected by the receipt of a msgNewKeys packet in each
// direction.
func (t *transport) prepareKeyChange(algs *Algorithms, kexResult *kexResult) error {
	if t.sessionID == nil {
		t.sessionID = kexResult.SessionID
	}

	ciph, err := newPacketCipher(t.reader.dir, algs.R, kexResult)
	if err != nil {
		return err
	}
	t.reader.pendingKeyChange <- ciph

	ciph, err = newPacketCipher(t.writer.dir, algs.W, kexResult)
	if err != nil {
		return err
	}
	t.writer.pendingKeyChange <- ciph

	return nil
}

// Read and decrypt next packet, skipping debug and ignore messages.
func (t *transport) readPacket() (p []byte, err error) {
	for {
		p, err = t.reader.readPacket(t.bufReader)
		if err != nil {
			break
		}
		if len(p) == 0 || (p[0] != msgIgnore && p[0] != msgDebug) {
			break
		}
	}
	return p, err
}

func (s *connectionState) readPacket(r *bufio.Reader) ([]byte, error) {
	packet, err := s.packetCipher.readCipherPacket(s.seqNum, r)
	s.seqNum++
	if err == nil && len(packet) == 0 {
		err = errors.New("ssh2: zero length packet")
	}

	if len(packet) > 0 {
		switch packet[0] {
		case msgNewKeys:
			select {
			case cipher := <-s.pendingKeyChange:
				s.packetCipher = cipher
			default:
				return nil, errors.New("ssh2: got bogus newkeys message")
			}

		case msgDisconnect:
			// Transform a disconnect message into an error. The factoring
			// below is non-obvious: the protocol above the transport needs
			// the disconnect to surface through the error return.
			var msg disconnectMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return nil, err
			}
			return nil, &DisconnectError{Reason: msg.Reason, Message: msg.Message}
		}
	}

	// The packet may point to an internal buffer, so copy the
	// packet out here.
	fresh := make([]byte, len(packet))
	copy(fresh, packet)

	return fresh, err
}

func (t *transport) writePacket(packet []byte) error {
	if debugTransport {
		t.printPacket(packet, true)
	}
	return t.writer.writePacket(t.bufWriter, t.rand, packet)
}

func (s *connectionState) writePacket(w *bufio.Writer, rand io.Reader, packet []byte) error {
	changeKeys := len(packet) > 0 && packet[0] == msgNewKeys

	err := s.packetCipher.writeCipherPacket(s.seqNum, w, rand, packet)
	if err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	s.seqNum++
	if changeKeys {
		select {
		case cipher := <-s.pendingKeyChange:
			s.packetCipher = cipher
		default:
			panic("ssh2: no key material for msgNewKeys")
		}
	}
	return err
}

const debugTransport = false

func (t *transport) printPacket(p []byte, write bool) {
	if len(p) == 0 {
		return
	}
	who := "server"
	if t.isClient {
		who = "client"
	}
	what := "read"
	if write {
		what = "write"
	}
	fmt.Printf("%s %s data (packet type %d)\n", what, who, p[0])
}

func newTransport(rwc io.ReadWriteCloser, rand io.Reader, isClient bool) *transport {
	t := &transport{
		bufReader: bufio.NewReader(rwc),
		bufWriter: bufio.NewWriter(rwc),
		rand:      rand,
		reader: connectionState{
			packetCipher:     &streamPacketCipher{cipher: noneCipher{}},
			pendingKeyChange: make(chan packetCipher, 1),
		},
		writer: connectionState{
			packetCipher:     &streamPacketCipher{cipher: noneCipher{}},
			pendingKeyChange: make(chan packetCipher, 1),
		},
		Closer:   rwc,
		isClient: isClient,
	}
	if isClient {
		t.reader.dir = serverKeys
		t.writer.dir = clientKeys
	} else {
		t.reader.dir = clientKeys
		t.writer.dir = serverKeys
	}
	return t
}

// direction carries the derivation letters for one direction: IV, key
// and MAC key respectively, per the K1/Kn hash chain.
type direction struct {
	ivTag     []byte
	keyTag    []byte
	macKeyTag []byte
}

var (
	clientKeys = direction{[]byte{'A'}, []byte{'C'}, []byte{'E'}}
	serverKeys = direction{[]byte{'B'}, []byte{'D'}, []byte{'F'}}
)

// generateKeyMaterial fills out with key material generated from K, H
// and the session id, as specified in RFC 4253, section 7.2:
//
//	K1 = HASH(K || H || tag || session_id)
//	K2 = HASH(K || H || K1)
//	Kn = HASH(K || H || K1 || K2 || ... || K(n-1))
func generateKeyMaterial(out, tag []byte, r *kexResult) {
	var digestsSoFar []byte

	h := r.Hash.New()
	for len(out) > 0 {
		h.Reset()
		h.Write(r.K)
		h.Write(r.H)

		if len(digestsSoFar) == 0 {
			h.Write(tag)
			h.Write(r.SessionID)
		} else {
			h.Write(digestsSoFar)
		}
		digest := h.Sum(nil)
		n := copy(out, digest)
		out = out[n:]
		if len(out) > 0 {
			digestsSoFar = append(digestsSoFar, digest...)
		}
	}
}

const maxVersionStringBytes = 255

// Sends and receives a version line. The versionLine string should be
// US ASCII, start with "SSH-2.0-", and should not include a newline.
// exchangeVersions returns the other side's version line.
func exchangeVersions(rw io.ReadWriter, versionLine []byte) (them []byte, err error) {
	// Contrary to the RFC, we do not ignore lines that don't
	// start with "SSH-2.0-" to make the library usable with
	// nonconforming servers.
	for _, c := range versionLine {
		// RFC 4253 disallows non US-ASCII chars, and
		// specifically forbids null chars.
		if c < 32 {
			return nil, errors.New("ssh2: junk character in version line")
		}
	}
	if _, err = rw.Write(append(versionLine, '\r', '\n')); err != nil {
		return
	}

	them, err = readVersion(rw)
	return them, err
}

// maxBannerLines bounds how much pre-version ASCII banner chatter a
// peer may send before its identification line.
const maxBannerLines = 1024

// readVersion reads a version string from the peer, tolerating any
// number of preceding banner lines that do not start with "SSH-".
func readVersion(r io.Reader) ([]byte, error) {
	versionString := make([]byte, 0, 64)
	var ok bool
	var buf [1]byte

	for lines := 0; lines < maxBannerLines; lines++ {
		versionString = versionString[:0]
		for len(versionString) < maxVersionStringBytes {
			_, err := io.ReadFull(r, buf[:])
			if err != nil {
				return nil, err
			}
			// The RFC says that the version should be terminated with \r\n
			// but several SSH servers actually only send a \n.
			if buf[0] == '\n' {
				ok = true
				break
			}

			// non ASCII chars are disallowed, but we are lenient,
			// since Go doesn't use null-terminated strings.
			versionString = append(versionString, buf[0])
		}
		if !ok {
			return nil, errors.New("ssh2: overflow reading version string")
		}
		if bytes.HasPrefix(versionString, []byte("SSH-")) {
			break
		}
		// A banner line; skip it and keep looking for the
		// identification line.
		ok = false
	}
	if !bytes.HasPrefix(versionString, []byte("SSH-")) {
		return nil, errors.New("ssh2: no version line before banner limit")
	}

	// There might be a '\r' on the end which we should remove.
	if len(versionString) > 0 && versionString[len(versionString)-1] == '\r' {
		versionString = versionString[:len(versionString)-1]
	}
	return versionString, nil
}

// protoVersion extracts the protocol version field from an
// identification string, e.g. "2.0" from "SSH-2.0-Foo".
func protoVersion(versionLine []byte) string {
	rest := bytes.TrimPrefix(versionLine, []byte("SSH-"))
	if i := bytes.IndexByte(rest, '-'); i >= 0 {
		rest = rest[:i]
	}
	return string(rest)
}

// acceptableVersion reports whether the peer speaks a protocol version
// we can interoperate with. "1.99" is the RFC 4253 compatibility
// marker for servers that also speak 2.0.
func acceptableVersion(versionLine []byte) bool {
	switch protoVersion(versionLine) {
	case "2.0", "1.99":
		return true
	}
	return false
}

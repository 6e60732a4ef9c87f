package ssh2

import (
	"crypto"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// These are string constants in the SSH protocol.
const (
	compressionNone = "none"
	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"
)

// defaultCiphers specifies the default ciphers in preference order.
var defaultCiphers = []string{
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	gcmCipherID,
	"arcfour256", "arcfour128",
}

// allSupportedCiphers specifies all ciphers which are supported.
var allSupportedCiphers = []string{
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	gcmCipherID,
	"arcfour256", "arcfour128",
	// Not offered by default:
	"arcfour",
}

// defaultKexAlgos specifies the default key-exchange algorithms in
// preference order.
var defaultKexAlgos = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoECDH256, kexAlgoECDH384, kexAlgoECDH521,
	kexAlgoDH14SHA1, kexAlgoDH1SHA1,
}

// allSupportedKexAlgos specifies all key-exchange algorithms supported.
var allSupportedKexAlgos = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoECDH256, kexAlgoECDH384, kexAlgoECDH521,
	kexAlgoDH14SHA1, kexAlgoDH1SHA1,
	// Not enabled by default:
	kexAlgoDHGEXSHA1, kexAlgoDHGEXSHA256,
}

// supportedHostKeyAlgos specifies the supported host-key algorithms in
// preference order.
var supportedHostKeyAlgos = []string{
	KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521,
	KeyAlgoRSA, KeyAlgoDSA,
	KeyAlgoED25519,
}

// supportedMACs specifies a default set of MAC algorithms in preference
// order. Based on RFC 4253 section 6.4, with the hmac-md5 variants
// removed because they have reached the end of their useful life.
var supportedMACs = []string{
	"hmac-sha2-256", "hmac-sha1", "hmac-sha1-96",
}

var supportedCompressions = []string{compressionNone}

// hashFuncs keeps the mapping of supported signature algorithms to the
// hashes used for signing and verification.
var hashFuncs = map[string]crypto.Hash{
	KeyAlgoRSA:      crypto.SHA1,
	KeyAlgoDSA:      crypto.SHA1,
	KeyAlgoECDSA256: crypto.SHA256,
	KeyAlgoECDSA384: crypto.SHA384,
	KeyAlgoECDSA521: crypto.SHA512,
}

// unexpectedMessageError results when the SSH message that we received
// didn't match what we wanted.
func unexpectedMessageError(expected, got uint8) error {
	return fmt.Errorf("ssh2: unexpected message type %d (expected %d)", got, expected)
}

// parseError results from a malformed SSH message.
func parseError(tag uint8) error {
	return fmt.Errorf("ssh2: parse error in message type %d", tag)
}

// findCommon picks the first algorithm on the client's list that also
// appears on the server's list. Client order is the preference.
func findCommon(what string, client []string, server []string) (common string, err error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("ssh2: no common algorithm for %s; client offered: %v, server offered: %v", what, client, server)
}

// DirectionAlgorithms records the algorithms negotiated for one
// direction of the connection.
type DirectionAlgorithms struct {
	Cipher      string `json:"cipher"`
	MAC         string `json:"mac"`
	Compression string `json:"compression"`
}

// Algorithms is the outcome of algorithm negotiation.
type Algorithms struct {
	Kex     string              `json:"kex_algorithm"`
	HostKey string              `json:"host_key_algorithm"`
	W       DirectionAlgorithms `json:"client_to_server_alg_group"`
	R       DirectionAlgorithms `json:"server_to_client_alg_group"`
}

func findAgreedAlgorithms(clientKexInit, serverKexInit *KexInitMsg) (algs *Algorithms, err error) {
	result := &Algorithms{}

	result.Kex, err = findCommon("key exchange", clientKexInit.KexAlgos, serverKexInit.KexAlgos)
	if err != nil {
		return
	}

	result.HostKey, err = findCommon("host key", clientKexInit.ServerHostKeyAlgos, serverKexInit.ServerHostKeyAlgos)
	if err != nil {
		return
	}

	result.W.Cipher, err = findCommon("client to server cipher", clientKexInit.CiphersClientServer, serverKexInit.CiphersClientServer)
	if err != nil {
		return
	}

	result.R.Cipher, err = findCommon("server to client cipher", clientKexInit.CiphersServerClient, serverKexInit.CiphersServerClient)
	if err != nil {
		return
	}

	result.W.MAC, err = findCommon("client to server MAC", clientKexInit.MACsClientServer, serverKexInit.MACsClientServer)
	if err != nil {
		return
	}

	result.R.MAC, err = findCommon("server to client MAC", clientKexInit.MACsServerClient, serverKexInit.MACsServerClient)
	if err != nil {
		return
	}

	result.W.Compression, err = findCommon("client to server compression", clientKexInit.CompressionClientServer, serverKexInit.CompressionClientServer)
	if err != nil {
		return
	}

	result.R.Compression, err = findCommon("server to client compression", clientKexInit.CompressionServerClient, serverKexInit.CompressionServerClient)
	if err != nil {
		return
	}

	return result, nil
}

// If rekeythreshold is too small, we can't make any progress sending
// stuff.
const minRekeyThreshold uint64 = 256

// Config contains configuration data common to both ServerConfig and
// ClientConfig.
type Config struct {
	// Rand provides the source of entropy for cryptographic
	// primitives. If Rand is nil, the cryptographic random reader
	// in package crypto/rand will be used.
	Rand io.Reader

	// The maximum number of bytes sent or received after which a
	// new key is negotiated. It must be at least 256. If
	// unspecified, 1 gigabyte is used.
	RekeyThreshold uint64

	// The allowed key exchanges algorithms. If unspecified then a
	// default set of algorithms is used.
	KeyExchanges []string

	// The allowed cipher algorithms. If unspecified then a sensible
	// default is used.
	Ciphers []string

	// The allowed MAC algorithms. If unspecified then a sensible default
	// is used.
	MACs []string

	// A pointer to the handshake log to allow incremental building.
	ConnLog *HandshakeLog

	// Minimum, preferred and maximum modulus sizes for the
	// diffie-hellman-group-exchange methods.
	GexMinBits       uint
	GexMaxBits       uint
	GexPreferredBits uint
}

// SetDefaults sets sensible values for unset fields in config. This is
// exported for testing: Configs passed to SSH functions are copied and have
// default values set automatically.
func (c *Config) SetDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Ciphers == nil {
		c.Ciphers = defaultCiphers
	}
	var ciphers []string
	for _, cip := range c.Ciphers {
		if cipherModes[cip] != nil {
			// reject the cipher if we have no cipherModes definition
			ciphers = append(ciphers, cip)
		}
	}
	c.Ciphers = ciphers

	if c.KeyExchanges == nil {
		c.KeyExchanges = defaultKexAlgos
	}
	var kexAlgos []string
	for _, k := range c.KeyExchanges {
		if kexAlgoMap[k] != nil {
			kexAlgos = append(kexAlgos, k)
		}
	}
	c.KeyExchanges = kexAlgos

	if c.MACs == nil {
		c.MACs = supportedMACs
	}
	var macs []string
	for _, m := range c.MACs {
		if macModes[m] != nil {
			macs = append(macs, m)
		}
	}
	c.MACs = macs

	if c.RekeyThreshold == 0 {
		// RFC 4253, section 9 suggests rekeying after 1G.
		c.RekeyThreshold = 1 << 30
	}
	if c.RekeyThreshold < minRekeyThreshold {
		c.RekeyThreshold = minRekeyThreshold
	}

	if c.GexMinBits == 0 {
		c.GexMinBits = 1024
	}
	if c.GexPreferredBits == 0 {
		c.GexPreferredBits = 2048
	}
	if c.GexMaxBits == 0 {
		c.GexMaxBits = 8192
	}
}

// buildDataSignedForAuth returns the data that is signed in order to prove
// possession of a private key. See RFC 4252, section 7. The session id
// prefix binds the signature to this session, preventing replay.
func buildDataSignedForAuth(sessionID []byte, req userAuthRequestMsg, algo, pubKey []byte) []byte {
	data := struct {
		Session []byte
		Type    byte
		User    string
		Service string
		Method  string
		Sign    bool
		Algo    []byte
		PubKey  []byte
	}{
		sessionID,
		msgUserAuthRequest,
		req.User,
		req.Service,
		req.Method,
		true,
		algo,
		pubKey,
	}
	return Marshal(data)
}

// newCond is a helper to hide the fact that there is no usable zero
// value for sync.Cond.
func newCond() *sync.Cond { return sync.NewCond(new(sync.Mutex)) }

// window represents the buffer available to clients wishing to write
// to a channel. RFC 4254 5.2 says the window size can grow to 2^32-1.
type window struct {
	*sync.Cond
	win          uint32
	writeWaiters int
	closed       bool
}

// add adds win to the amount of window available for consumers.
func (w *window) add(win uint32) bool {
	// a zero sized window adjust is a noop.
	if win == 0 {
		return true
	}
	w.L.Lock()
	if w.win+win < win {
		w.L.Unlock()
		return false
	}
	w.win += win
	// It is unusual that multiple goroutines would be attempting to reserve
	// window space, but not guaranteed. Use broadcast to notify all waiters
	// that additional window is available.
	w.Broadcast()
	w.L.Unlock()
	return true
}

// close sets the window to closed, so all reservations fail
// immediately.
func (w *window) close() {
	w.L.Lock()
	w.closed = true
	w.Broadcast()
	w.L.Unlock()
}

// reserve reserves win from the available window capacity.
// If no capacity remains, reserve will block. reserve may
// return less than requested.
func (w *window) reserve(win uint32) (uint32, error) {
	var err error
	w.L.Lock()
	w.writeWaiters++
	w.Broadcast()
	for w.win == 0 && !w.closed {
		w.Wait()
	}
	w.writeWaiters--
	if w.win < win {
		win = w.win
	}
	w.win -= win
	if w.closed {
		err = io.EOF
	}
	w.L.Unlock()
	return win, err
}

// waitWriterBlocked waits until some goroutine is blocked for further
// writes. It is used in tests only.
func (w *window) waitWriterBlocked() {
	w.Cond.L.Lock()
	for w.writeWaiters == 0 {
		w.Cond.Wait()
	}
	w.Cond.L.Unlock()
}

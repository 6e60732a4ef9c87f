package ssh2

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

const (
	kexAlgoDH1SHA1          = "diffie-hellman-group1-sha1"
	kexAlgoDH14SHA1         = "diffie-hellman-group14-sha1"
	kexAlgoECDH256          = "ecdh-sha2-nistp256"
	kexAlgoECDH384          = "ecdh-sha2-nistp384"
	kexAlgoECDH521          = "ecdh-sha2-nistp521"
	kexAlgoCurve25519SHA256 = "curve25519-sha256@libssh.org"
	kexAlgoDHGEXSHA1        = "diffie-hellman-group-exchange-sha1"
	kexAlgoDHGEXSHA256      = "diffie-hellman-group-exchange-sha256"
)

// kexResult captures the outcome of a key exchange.
type kexResult struct {
	// Session hash. The first H of a connection becomes the session id.
	H []byte

	// Shared secret, already encoded as an mpint so it can feed the
	// key derivation hash chain directly.
	K []byte

	// Host key as hashed into H.
	HostKey []byte

	// Signature of H.
	Signature []byte

	// Hash function that was used.
	Hash crypto.Hash

	// The session ID, which is the H of the first kex and never
	// changes afterwards.
	SessionID []byte
}

// handshakeMagics holds the inputs to the exchange hash that predate
// the kex itself: both identification strings and both KEXINIT
// payloads.
type handshakeMagics struct {
	clientVersion, serverVersion []byte
	clientKexInit, serverKexInit []byte
}

func (m *handshakeMagics) write(w io.Writer) {
	writeString(w, m.clientVersion)
	writeString(w, m.serverVersion)
	writeString(w, m.clientKexInit)
	writeString(w, m.serverKexInit)
}

func writeString(w io.Writer, s []byte) {
	var lengthBytes [4]byte
	lengthBytes[0] = byte(len(s) >> 24)
	lengthBytes[1] = byte(len(s) >> 16)
	lengthBytes[2] = byte(len(s) >> 8)
	lengthBytes[3] = byte(len(s))
	w.Write(lengthBytes[:])
	w.Write(s)
}

func writeMpint(w io.Writer, n *big.Int) {
	w.Write(appendMpint(nil, n))
}

func writeU32(w io.Writer, n uint32) {
	w.Write(appendU32(nil, n))
}

// kexAlgorithm abstracts over the key exchange methods. A new value is
// obtained through GetNew for every exchange, so implementations may
// keep per-run state.
type kexAlgorithm interface {
	// Server runs the server side of the key exchange.
	Server(p packetConn, rand io.Reader, magics *handshakeMagics, s Signer, c *Config) (*kexResult, error)

	// Client runs the client side of the key exchange.
	Client(p packetConn, rand io.Reader, magics *handshakeMagics, c *Config) (*kexResult, error)

	// GetNew returns a fresh instance for the named variant.
	GetNew(algo string) kexAlgorithm
}

// dhGroup is a multiplicative group suitable for implementing
// Diffie-Hellman key agreement.
type dhGroup struct {
	g, p, pMinus1 *big.Int
}

func (group *dhGroup) GetNew(algo string) kexAlgorithm {
	return &dhGroup{g: group.g, p: group.p, pMinus1: group.pMinus1}
}

func (group *dhGroup) diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error) {
	if theirPublic.Cmp(bigOne) <= 0 || theirPublic.Cmp(group.pMinus1) >= 0 {
		return nil, errors.New("ssh2: DH parameter out of bounds")
	}
	return new(big.Int).Exp(theirPublic, myPrivate, group.p), nil
}

func (group *dhGroup) Client(c packetConn, randSource io.Reader, magics *handshakeMagics, _ *Config) (*kexResult, error) {
	var x *big.Int
	for {
		var err error
		if x, err = rand.Int(randSource, group.pMinus1); err != nil {
			return nil, err
		}
		if x.Sign() > 0 {
			break
		}
	}

	X := new(big.Int).Exp(group.g, x, group.p)
	kexDHInit := kexDHInitMsg{
		X: X,
	}
	if err := c.writePacket(Marshal(&kexDHInit)); err != nil {
		return nil, err
	}

	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}

	var kexDHReply kexDHReplyMsg
	if err = Unmarshal(packet, &kexDHReply); err != nil {
		return nil, err
	}

	ki, err := group.diffieHellman(kexDHReply.Y, x)
	if err != nil {
		return nil, err
	}

	h := crypto.SHA1.New()
	magics.write(h)
	writeString(h, kexDHReply.HostKey)
	writeMpint(h, X)
	writeMpint(h, kexDHReply.Y)

	K := appendMpint(nil, ki)
	h.Write(K)

	return &kexResult{
		H:         h.Sum(nil),
		K:         K,
		HostKey:   kexDHReply.HostKey,
		Signature: kexDHReply.Signature,
		Hash:      crypto.SHA1,
	}, nil
}

func (group *dhGroup) Server(c packetConn, randSource io.Reader, magics *handshakeMagics, priv Signer, _ *Config) (*kexResult, error) {
	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	var kexDHInit kexDHInitMsg
	if err = Unmarshal(packet, &kexDHInit); err != nil {
		return nil, err
	}

	var y *big.Int
	for {
		if y, err = rand.Int(randSource, group.pMinus1); err != nil {
			return nil, err
		}
		if y.Sign() > 0 {
			break
		}
	}

	Y := new(big.Int).Exp(group.g, y, group.p)
	ki, err := group.diffieHellman(kexDHInit.X, y)
	if err != nil {
		return nil, err
	}

	hostKeyBytes := priv.PublicKey().Marshal()

	h := crypto.SHA1.New()
	magics.write(h)
	writeString(h, hostKeyBytes)
	writeMpint(h, kexDHInit.X)
	writeMpint(h, Y)

	K := appendMpint(nil, ki)
	h.Write(K)

	H := h.Sum(nil)

	// H is already a hash, but the hostkey signing will apply its
	// own key-specific hash algorithm.
	sig, err := signAndMarshal(priv, randSource, H)
	if err != nil {
		return nil, err
	}

	kexDHReply := kexDHReplyMsg{
		HostKey:   hostKeyBytes,
		Y:         Y,
		Signature: sig,
	}
	packet = Marshal(&kexDHReply)

	err = c.writePacket(packet)
	return &kexResult{
		H:         H,
		K:         K,
		HostKey:   hostKeyBytes,
		Signature: sig,
		Hash:      crypto.SHA1,
	}, err
}

// dhGEX implements the diffie-hellman-group-exchange methods, where
// the group is negotiated rather than fixed.
type dhGEX struct {
	hashFunc crypto.Hash
}

func (gex *dhGEX) GetNew(algo string) kexAlgorithm {
	switch algo {
	case kexAlgoDHGEXSHA1:
		return &dhGEX{hashFunc: crypto.SHA1}
	case kexAlgoDHGEXSHA256:
		return &dhGEX{hashFunc: crypto.SHA256}
	}
	panic("ssh2: unknown group exchange variant " + algo)
}

func (gex *dhGEX) diffieHellman(p, theirPublic, myPrivate *big.Int) (*big.Int, error) {
	pMinus1 := new(big.Int).Sub(p, bigOne)
	if theirPublic.Cmp(bigOne) <= 0 || theirPublic.Cmp(pMinus1) >= 0 {
		return nil, errors.New("ssh2: DH parameter out of bounds")
	}
	return new(big.Int).Exp(theirPublic, myPrivate, p), nil
}

func (gex *dhGEX) Client(c packetConn, randSource io.Reader, magics *handshakeMagics, config *Config) (*kexResult, error) {
	minBits := uint32(config.GexMinBits)
	preferredBits := uint32(config.GexPreferredBits)
	maxBits := uint32(config.GexMaxBits)

	// Send the request for a group.
	kexDHGexRequest := kexDHGexRequestMsg{
		MinBits:       minBits,
		PreferredBits: preferredBits,
		MaxBits:       maxBits,
	}
	if err := c.writePacket(Marshal(&kexDHGexRequest)); err != nil {
		return nil, err
	}

	// Receive the chosen group.
	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	var msg kexDHGexGroupMsg
	if err = Unmarshal(packet, &msg); err != nil {
		return nil, err
	}

	// reject if p's bit length is outside the requested range
	if msg.P.BitLen() < int(minBits) || msg.P.BitLen() > int(maxBits) {
		return nil, fmt.Errorf("ssh2: server-generated gex p (%d bits) is out of range", msg.P.BitLen())
	}

	p := msg.P
	g := msg.G
	pMinus1 := new(big.Int).Sub(p, bigOne)

	var x *big.Int
	for {
		if x, err = rand.Int(randSource, pMinus1); err != nil {
			return nil, err
		}
		if x.Sign() > 0 {
			break
		}
	}

	X := new(big.Int).Exp(g, x, p)
	kexDHGexInit := kexDHGexInitMsg{
		X: X,
	}
	if err := c.writePacket(Marshal(&kexDHGexInit)); err != nil {
		return nil, err
	}

	packet, err = c.readPacket()
	if err != nil {
		return nil, err
	}

	var kexDHGexReply kexDHGexReplyMsg
	if err = Unmarshal(packet, &kexDHGexReply); err != nil {
		return nil, err
	}

	ki, err := gex.diffieHellman(p, kexDHGexReply.Y, x)
	if err != nil {
		return nil, err
	}

	h := gex.hashFunc.New()
	magics.write(h)
	writeString(h, kexDHGexReply.HostKey)
	writeU32(h, minBits)
	writeU32(h, preferredBits)
	writeU32(h, maxBits)
	writeMpint(h, p)
	writeMpint(h, g)
	writeMpint(h, X)
	writeMpint(h, kexDHGexReply.Y)

	K := appendMpint(nil, ki)
	h.Write(K)

	return &kexResult{
		H:         h.Sum(nil),
		K:         K,
		HostKey:   kexDHGexReply.HostKey,
		Signature: kexDHGexReply.Signature,
		Hash:      gex.hashFunc,
	}, nil
}

func (gex *dhGEX) Server(c packetConn, randSource io.Reader, magics *handshakeMagics, priv Signer, _ *Config) (*kexResult, error) {
	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	var kexDHGexRequest kexDHGexRequestMsg
	if err = Unmarshal(packet, &kexDHGexRequest); err != nil {
		return nil, err
	}

	// The server always offers the well-known 2048-bit MODP group.
	// Generating a fresh safe prime per exchange costs seconds and
	// buys nothing over the fixed group.
	p := dhGroup14P
	g := big.NewInt(2)
	if kexDHGexRequest.MinBits > uint32(p.BitLen()) || kexDHGexRequest.MaxBits < uint32(p.BitLen()) {
		return nil, fmt.Errorf("ssh2: no group within requested gex bounds [%d, %d]",
			kexDHGexRequest.MinBits, kexDHGexRequest.MaxBits)
	}

	kexDHGexGroup := kexDHGexGroupMsg{
		P: p,
		G: g,
	}
	if err := c.writePacket(Marshal(&kexDHGexGroup)); err != nil {
		return nil, err
	}

	packet, err = c.readPacket()
	if err != nil {
		return nil, err
	}

	var kexDHGexInit kexDHGexInitMsg
	if err = Unmarshal(packet, &kexDHGexInit); err != nil {
		return nil, err
	}

	pMinus1 := new(big.Int).Sub(p, bigOne)

	var y *big.Int
	for {
		if y, err = rand.Int(randSource, pMinus1); err != nil {
			return nil, err
		}
		if y.Sign() > 0 {
			break
		}
	}

	Y := new(big.Int).Exp(g, y, p)
	ki, err := gex.diffieHellman(p, kexDHGexInit.X, y)
	if err != nil {
		return nil, err
	}

	hostKeyBytes := priv.PublicKey().Marshal()

	h := gex.hashFunc.New()
	magics.write(h)
	writeString(h, hostKeyBytes)
	writeU32(h, kexDHGexRequest.MinBits)
	writeU32(h, kexDHGexRequest.PreferredBits)
	writeU32(h, kexDHGexRequest.MaxBits)
	writeMpint(h, p)
	writeMpint(h, g)
	writeMpint(h, kexDHGexInit.X)
	writeMpint(h, Y)

	K := appendMpint(nil, ki)
	h.Write(K)

	H := h.Sum(nil)

	sig, err := signAndMarshal(priv, randSource, H)
	if err != nil {
		return nil, err
	}

	kexDHGexReply := kexDHGexReplyMsg{
		HostKey:   hostKeyBytes,
		Y:         Y,
		Signature: sig,
	}

	err = c.writePacket(Marshal(&kexDHGexReply))
	return &kexResult{
		H:         H,
		K:         K,
		HostKey:   hostKeyBytes,
		Signature: sig,
		Hash:      gex.hashFunc,
	}, err
}

// ecdh performs ECDH key agreement using a NIST curve, per RFC 5656,
// section 4.
type ecdh struct {
	curve elliptic.Curve
}

func (kex *ecdh) GetNew(algo string) kexAlgorithm {
	switch algo {
	case kexAlgoECDH256:
		return &ecdh{elliptic.P256()}
	case kexAlgoECDH384:
		return &ecdh{elliptic.P384()}
	case kexAlgoECDH521:
		return &ecdh{elliptic.P521()}
	}
	panic("ssh2: unknown ecdh variant " + algo)
}

func (kex *ecdh) hash() crypto.Hash {
	return ecHash(kex.curve)
}

// ecHash returns the hash to match the given elliptic curve, see RFC
// 5656, section 6.2.1.
func ecHash(curve elliptic.Curve) crypto.Hash {
	bitSize := curve.Params().BitSize
	switch {
	case bitSize <= 256:
		return crypto.SHA256
	case bitSize <= 384:
		return crypto.SHA384
	}
	return crypto.SHA512
}

func (kex *ecdh) Client(c packetConn, rand io.Reader, magics *handshakeMagics, _ *Config) (*kexResult, error) {
	ephKey, err := ecdsa.GenerateKey(kex.curve, rand)
	if err != nil {
		return nil, err
	}

	kexInit := kexECDHInitMsg{
		ClientPubKey: elliptic.Marshal(kex.curve, ephKey.PublicKey.X, ephKey.PublicKey.Y),
	}

	serialized := Marshal(&kexInit)
	if err := c.writePacket(serialized); err != nil {
		return nil, err
	}

	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}

	var reply kexECDHReplyMsg
	if err = Unmarshal(packet, &reply); err != nil {
		return nil, err
	}

	x, y, err := unmarshalECKey(kex.curve, reply.EphemeralPubKey)
	if err != nil {
		return nil, err
	}

	// generate shared secret
	secret, _ := kex.curve.ScalarMult(x, y, ephKey.D.Bytes())

	h := kex.hash().New()
	magics.write(h)
	writeString(h, reply.HostKey)
	writeString(h, kexInit.ClientPubKey)
	writeString(h, reply.EphemeralPubKey)
	K := appendMpint(nil, secret)
	h.Write(K)

	return &kexResult{
		H:         h.Sum(nil),
		K:         K,
		HostKey:   reply.HostKey,
		Signature: reply.Signature,
		Hash:      kex.hash(),
	}, nil
}

// unmarshalECKey parses and checks an EC key.
func unmarshalECKey(curve elliptic.Curve, pubkey []byte) (x, y *big.Int, err error) {
	x, y = elliptic.Unmarshal(curve, pubkey)
	if x == nil {
		return nil, nil, errors.New("ssh2: elliptic.Unmarshal failure")
	}
	if !validateECPublicKey(curve, x, y) {
		return nil, nil, errors.New("ssh2: public key not on curve")
	}
	return x, y, nil
}

// validateECPublicKey checks that the point is a valid public key for
// the given curve. See RFC 5656, section 3.1.
func validateECPublicKey(curve elliptic.Curve, x, y *big.Int) bool {
	if x.Sign() == 0 && y.Sign() == 0 {
		return false
	}

	if x.Cmp(curve.Params().P) >= 0 {
		return false
	}

	if y.Cmp(curve.Params().P) >= 0 {
		return false
	}

	if !curve.IsOnCurve(x, y) {
		return false
	}

	// We don't check if N * PubKey == 0, since
	//
	// - the NIST curves have cofactor = 1, so this is implicit.
	// (We don't foresee an implementation that supports non NIST
	// curves)
	//
	// - for ephemeral keys, we don't need to worry about small
	// subgroup attacks.
	return true
}

func (kex *ecdh) Server(c packetConn, rand io.Reader, magics *handshakeMagics, priv Signer, _ *Config) (*kexResult, error) {
	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}

	var kexECDHInit kexECDHInitMsg
	if err = Unmarshal(packet, &kexECDHInit); err != nil {
		return nil, err
	}

	clientX, clientY, err := unmarshalECKey(kex.curve, kexECDHInit.ClientPubKey)
	if err != nil {
		return nil, err
	}

	// We could cache this key across multiple users/multiple
	// connection attempts, but the benefit is small. OpenSSH
	// generates a new key for each incoming connection.
	ephKey, err := ecdsa.GenerateKey(kex.curve, rand)
	if err != nil {
		return nil, err
	}

	hostKeyBytes := priv.PublicKey().Marshal()

	serializedEphKey := elliptic.Marshal(kex.curve, ephKey.PublicKey.X, ephKey.PublicKey.Y)

	// generate shared secret
	secret, _ := kex.curve.ScalarMult(clientX, clientY, ephKey.D.Bytes())

	h := kex.hash().New()
	magics.write(h)
	writeString(h, hostKeyBytes)
	writeString(h, kexECDHInit.ClientPubKey)
	writeString(h, serializedEphKey)

	K := appendMpint(nil, secret)
	h.Write(K)

	H := h.Sum(nil)

	sig, err := signAndMarshal(priv, rand, H)
	if err != nil {
		return nil, err
	}

	reply := kexECDHReplyMsg{
		EphemeralPubKey: serializedEphKey,
		HostKey:         hostKeyBytes,
		Signature:       sig,
	}

	serialized := Marshal(&reply)
	if err := c.writePacket(serialized); err != nil {
		return nil, err
	}

	return &kexResult{
		H:         H,
		K:         K,
		HostKey:   hostKeyBytes,
		Signature: sig,
		Hash:      kex.hash(),
	}, nil
}

// curve25519sha256 implements curve25519-sha256@libssh.org.
type curve25519sha256 struct{}

func (kex *curve25519sha256) GetNew(algo string) kexAlgorithm {
	return &curve25519sha256{}
}

type curve25519KeyPair struct {
	priv [32]byte
	pub  [32]byte
}

func (kp *curve25519KeyPair) generate(rand io.Reader) error {
	if _, err := io.ReadFull(rand, kp.priv[:]); err != nil {
		return err
	}
	curve25519.ScalarBaseMult(&kp.pub, &kp.priv)
	return nil
}

// curve25519Zeros is used to check for the degenerate all-zero shared
// secret.
var curve25519Zeros [32]byte

func (kex *curve25519sha256) Client(c packetConn, rand io.Reader, magics *handshakeMagics, _ *Config) (*kexResult, error) {
	var kp curve25519KeyPair
	if err := kp.generate(rand); err != nil {
		return nil, err
	}
	if err := c.writePacket(Marshal(&kexECDHInitMsg{kp.pub[:]})); err != nil {
		return nil, err
	}

	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}

	var reply kexECDHReplyMsg
	if err = Unmarshal(packet, &reply); err != nil {
		return nil, err
	}
	if len(reply.EphemeralPubKey) != 32 {
		return nil, errors.New("ssh2: peer's curve25519 public value has wrong length")
	}

	var servPub, secret [32]byte
	copy(servPub[:], reply.EphemeralPubKey)
	curve25519.ScalarMult(&secret, &kp.priv, &servPub)
	if subtle.ConstantTimeCompare(secret[:], curve25519Zeros[:]) == 1 {
		return nil, errors.New("ssh2: peer's curve25519 public value has wrong order")
	}

	h := crypto.SHA256.New()
	magics.write(h)
	writeString(h, reply.HostKey)
	writeString(h, kp.pub[:])
	writeString(h, reply.EphemeralPubKey)

	ki := new(big.Int).SetBytes(secret[:])
	K := appendMpint(nil, ki)
	h.Write(K)

	return &kexResult{
		H:         h.Sum(nil),
		K:         K,
		HostKey:   reply.HostKey,
		Signature: reply.Signature,
		Hash:      crypto.SHA256,
	}, nil
}

func (kex *curve25519sha256) Server(c packetConn, rand io.Reader, magics *handshakeMagics, priv Signer, _ *Config) (*kexResult, error) {
	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	var kexInit kexECDHInitMsg
	if err = Unmarshal(packet, &kexInit); err != nil {
		return nil, err
	}

	if len(kexInit.ClientPubKey) != 32 {
		return nil, errors.New("ssh2: peer's curve25519 public value has wrong length")
	}

	var kp curve25519KeyPair
	if err := kp.generate(rand); err != nil {
		return nil, err
	}

	var clientPub, secret [32]byte
	copy(clientPub[:], kexInit.ClientPubKey)
	curve25519.ScalarMult(&secret, &kp.priv, &clientPub)
	if subtle.ConstantTimeCompare(secret[:], curve25519Zeros[:]) == 1 {
		return nil, errors.New("ssh2: peer's curve25519 public value has wrong order")
	}

	hostKeyBytes := priv.PublicKey().Marshal()

	h := crypto.SHA256.New()
	magics.write(h)
	writeString(h, hostKeyBytes)
	writeString(h, kexInit.ClientPubKey)
	writeString(h, kp.pub[:])

	ki := new(big.Int).SetBytes(secret[:])
	K := appendMpint(nil, ki)
	h.Write(K)

	H := h.Sum(nil)

	sig, err := signAndMarshal(priv, rand, H)
	if err != nil {
		return nil, err
	}

	reply := kexECDHReplyMsg{
		EphemeralPubKey: kp.pub[:],
		HostKey:         hostKeyBytes,
		Signature:       sig,
	}
	if err := c.writePacket(Marshal(&reply)); err != nil {
		return nil, err
	}
	return &kexResult{
		H:         H,
		K:         K,
		HostKey:   hostKeyBytes,
		Signature: sig,
		Hash:      crypto.SHA256,
	}, nil
}

var (
	dhGroup1P  *big.Int
	dhGroup14P *big.Int

	kexAlgoMap = map[string]kexAlgorithm{}
)

func init() {
	// This is the group called diffie-hellman-group1-sha1 in RFC 4253
	// and Oakley Group 2 in RFC 2409.
	dhGroup1P, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381FFFFFFFFFFFFFFFF", 16)

	kexAlgoMap[kexAlgoDH1SHA1] = &dhGroup{
		g:       new(big.Int).SetInt64(2),
		p:       dhGroup1P,
		pMinus1: new(big.Int).Sub(dhGroup1P, bigOne),
	}

	// This is the group called diffie-hellman-group14-sha1 in RFC
	// 4253 and Oakley Group 14 in RFC 3526.
	dhGroup14P, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF", 16)

	kexAlgoMap[kexAlgoDH14SHA1] = &dhGroup{
		g:       new(big.Int).SetInt64(2),
		p:       dhGroup14P,
		pMinus1: new(big.Int).Sub(dhGroup14P, bigOne),
	}

	kexAlgoMap[kexAlgoECDH521] = &ecdh{elliptic.P521()}
	kexAlgoMap[kexAlgoECDH384] = &ecdh{elliptic.P384()}
	kexAlgoMap[kexAlgoECDH256] = &ecdh{elliptic.P256()}
	kexAlgoMap[kexAlgoCurve25519SHA256] = &curve25519sha256{}
	kexAlgoMap[kexAlgoDHGEXSHA1] = &dhGEX{hashFunc: crypto.SHA1}
	kexAlgoMap[kexAlgoDHGEXSHA256] = &dhGEX{hashFunc: crypto.SHA256}
}

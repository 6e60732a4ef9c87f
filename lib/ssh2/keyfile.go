package ssh2

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/dsa"
	"crypto/md5"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sync"
)

// Magic identifying codes for private and public key files.
const (
	keyMagicPublic           = 0x73736801
	keyMagicPrivate          = 0x73736802
	keyMagicPrivateEncrypted = 0x73736803
)

const (
	keyFileCipherNone = "none"
	keyFileCipher3DES = "3des-cbc"
)

// ErrKeyEncrypted is returned when a private key file needs a
// passphrase and none (or a wrong one) was supplied.
var ErrKeyEncrypted = errors.New("ssh2: private key is encrypted")

// A key file is a binary container:
//
//	uint32  magic
//	uint32  total length
//	string  comment
//	string  cipher name        (private files only)
//	string  key blob           (encrypted for magic 0x73736803)
//
// The public blob uses the wire format of RFC 4253 section 6.6; the
// private blob extends it with the secret parameters.

// MarshalPublicKeyFile serialises a public key with its comment.
func MarshalPublicKeyFile(key PublicKey, comment string) []byte {
	blob := key.Marshal()
	body := appendString(nil, comment)
	body = appendBytes(body, blob)

	out := appendU32(nil, keyMagicPublic)
	out = appendU32(out, uint32(8+len(body)))
	return append(out, body...)
}

// ParsePublicKeyFile parses the container written by
// MarshalPublicKeyFile.
func ParsePublicKeyFile(data []byte) (key PublicKey, comment string, err error) {
	magic, rest, ok := parseU32(data)
	if !ok || magic != keyMagicPublic {
		return nil, "", errors.New("ssh2: bad public key file magic")
	}
	total, rest, ok := parseU32(rest)
	if !ok || uint32(len(data)) < total {
		return nil, "", errors.New("ssh2: truncated public key file")
	}
	commentBytes, rest, ok := parseString(rest)
	if !ok {
		return nil, "", errors.New("ssh2: malformed public key file")
	}
	blob, _, ok := parseString(rest)
	if !ok {
		return nil, "", errors.New("ssh2: malformed public key file")
	}
	key, err = ParsePublicKey(blob)
	if err != nil {
		return nil, "", err
	}
	return key, string(commentBytes), nil
}

// MarshalPrivateKeyFile serialises a signer's private key, protecting
// it with the passphrase when one is given. Only DSA and RSA keys use
// this container; other key types are stored in PEM.
func MarshalPrivateKeyFile(rand io.Reader, key interface{}, comment, passphrase string) ([]byte, error) {
	blob, err := marshalPrivateBlob(key)
	if err != nil {
		return nil, err
	}

	magic := uint32(keyMagicPrivate)
	cipherName := keyFileCipherNone
	if passphrase != "" {
		magic = keyMagicPrivateEncrypted
		cipherName = keyFileCipher3DES
		if blob, err = encryptKeyBlob(rand, blob, passphrase); err != nil {
			return nil, err
		}
	}

	body := appendString(nil, comment)
	body = appendString(body, cipherName)
	body = appendBytes(body, blob)

	out := appendU32(nil, magic)
	out = appendU32(out, uint32(8+len(body)))
	return append(out, body...), nil
}

// ParsePrivateKeyFile parses the container written by
// MarshalPrivateKeyFile. For an encrypted container, a wrong or empty
// passphrase yields ErrKeyEncrypted.
func ParsePrivateKeyFile(data []byte, passphrase string) (signer Signer, comment string, err error) {
	magic, rest, ok := parseU32(data)
	if !ok {
		return nil, "", errors.New("ssh2: truncated private key file")
	}
	if magic != keyMagicPrivate && magic != keyMagicPrivateEncrypted {
		return nil, "", errors.New("ssh2: bad private key file magic")
	}
	total, rest, ok := parseU32(rest)
	if !ok || uint32(len(data)) < total {
		return nil, "", errors.New("ssh2: truncated private key file")
	}
	commentBytes, rest, ok := parseString(rest)
	if !ok {
		return nil, "", errors.New("ssh2: malformed private key file")
	}
	cipherName, rest, ok := parseString(rest)
	if !ok {
		return nil, "", errors.New("ssh2: malformed private key file")
	}
	blob, _, ok := parseString(rest)
	if !ok {
		return nil, "", errors.New("ssh2: malformed private key file")
	}

	if magic == keyMagicPrivateEncrypted {
		if string(cipherName) != keyFileCipher3DES {
			return nil, "", fmt.Errorf("ssh2: unsupported key file cipher %q", cipherName)
		}
		if passphrase == "" {
			return nil, "", ErrKeyEncrypted
		}
		if blob, err = decryptKeyBlob(blob, passphrase); err != nil {
			return nil, "", err
		}
	}

	key, err := parsePrivateBlob(blob)
	if err != nil {
		if magic == keyMagicPrivateEncrypted {
			// Almost certainly a wrong passphrase.
			return nil, "", ErrKeyEncrypted
		}
		return nil, "", err
	}
	signer, err = NewSignerFromKey(key)
	if err != nil {
		return nil, "", err
	}
	return signer, string(commentBytes), nil
}

// ParseRawPrivateKeyFile parses the private key container but returns
// the raw key instead of a Signer, for callers that need to re-encode
// the key material, such as when handing it to the agent.
func ParseRawPrivateKeyFile(data []byte, passphrase string) (key interface{}, comment string, err error) {
	signer, comment, err := ParsePrivateKeyFile(data, passphrase)
	if err != nil {
		return nil, "", err
	}
	switch s := signer.(type) {
	case *dsaPrivateKey:
		return s.PrivateKey, comment, nil
	case *wrappedSigner:
		return s.signer, comment, nil
	}
	return nil, "", fmt.Errorf("ssh2: cannot extract raw key from %T", signer)
}

// MarshalPrivateKeyBlob serialises a raw private key into the wire
// blob used by the key file container and the authentication agent.
func MarshalPrivateKeyBlob(key interface{}) ([]byte, error) {
	return marshalPrivateBlob(key)
}

// ParsePrivateKeyBlob is the inverse of MarshalPrivateKeyBlob.
func ParsePrivateKeyBlob(blob []byte) (interface{}, error) {
	return parsePrivateBlob(blob)
}

func marshalPrivateBlob(key interface{}) ([]byte, error) {
	switch key := key.(type) {
	case *dsa.PrivateKey:
		w := struct {
			Name          string
			P, Q, G, Y, X *big.Int
		}{KeyAlgoDSA, key.P, key.Q, key.G, key.Y, key.X}
		return Marshal(&w), nil
	case *rsa.PrivateKey:
		if len(key.Primes) != 2 {
			return nil, errors.New("ssh2: multi-prime RSA keys are not supported")
		}
		w := struct {
			Name    string
			E, N, D *big.Int
			P, Q    *big.Int
		}{KeyAlgoRSA, big.NewInt(int64(key.E)), key.N, key.D, key.Primes[0], key.Primes[1]}
		return Marshal(&w), nil
	}
	return nil, fmt.Errorf("ssh2: unsupported private key type %T for key file", key)
}

func parsePrivateBlob(blob []byte) (interface{}, error) {
	name, rest, ok := parseString(blob)
	if !ok {
		return nil, errors.New("ssh2: malformed private key blob")
	}
	switch string(name) {
	case KeyAlgoDSA:
		var w struct {
			P, Q, G, Y, X *big.Int
		}
		if err := Unmarshal(rest, &w); err != nil {
			return nil, err
		}
		return &dsa.PrivateKey{
			PublicKey: dsa.PublicKey{
				Parameters: dsa.Parameters{P: w.P, Q: w.Q, G: w.G},
				Y:          w.Y,
			},
			X: w.X,
		}, nil
	case KeyAlgoRSA:
		var w struct {
			E, N, D *big.Int
			P, Q    *big.Int
		}
		if err := Unmarshal(rest, &w); err != nil {
			return nil, err
		}
		if w.E.BitLen() > 24 {
			return nil, errors.New("ssh2: exponent too large")
		}
		key := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{N: w.N, E: int(w.E.Int64())},
			D:         w.D,
			Primes:    []*big.Int{w.P, w.Q},
		}
		key.Precompute()
		if err := key.Validate(); err != nil {
			return nil, err
		}
		return key, nil
	}
	return nil, fmt.Errorf("ssh2: unsupported private key blob type %q", name)
}

// passphraseKey derives 24 bytes of 3DES key material from a
// passphrase by chained MD5, the conventional derivation for this
// container format.
func passphraseKey(passphrase string) []byte {
	d1 := md5.Sum([]byte(passphrase))
	h := md5.New()
	h.Write(d1[:])
	h.Write([]byte(passphrase))
	d2 := h.Sum(nil)
	return append(d1[:], d2[:8]...)
}

func encryptKeyBlob(rand io.Reader, blob []byte, passphrase string) ([]byte, error) {
	block, err := des.NewTripleDESCipher(passphraseKey(passphrase))
	if err != nil {
		return nil, err
	}

	// Prefix with the true length, then pad to a block multiple with
	// random bytes.
	plain := appendBytes(nil, blob)
	padded := len(plain)
	if rem := padded % des.BlockSize; rem != 0 {
		padded += des.BlockSize - rem
	}
	buf := make([]byte, padded)
	copy(buf, plain)
	if _, err := io.ReadFull(rand, buf[len(plain):]); err != nil {
		return nil, err
	}

	iv := make([]byte, des.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	return buf, nil
}

// PassphrasePrompt obtains a passphrase from the surrounding
// application, e.g. by asking the user.
type PassphrasePrompt func(prompt string) (string, error)

// maxPassphraseAttempts bounds how often a wrong passphrase may be
// retried when opening an encrypted key file.
const maxPassphraseAttempts = 3

// KeyFileSigner returns a Signer backed by a key file pair on disk.
// The public half is loaded eagerly from path + ".pub"; the private
// half is read, and decrypted if necessary, only when a signature is
// first requested. This keeps passphrase prompting out of the probe
// phase of publickey authentication.
func KeyFileSigner(path string, prompt PassphrasePrompt) (Signer, error) {
	pubData, err := os.ReadFile(path + ".pub")
	if err != nil {
		return nil, err
	}
	pub, comment, err := ParsePublicKeyFile(pubData)
	if err != nil {
		return nil, err
	}
	return &keyFileSigner{path: path, prompt: prompt, pub: pub, comment: comment}, nil
}

type keyFileSigner struct {
	path    string
	prompt  PassphrasePrompt
	pub     PublicKey
	comment string

	mu     sync.Mutex
	signer Signer
}

func (s *keyFileSigner) PublicKey() PublicKey {
	return s.pub
}

func (s *keyFileSigner) Sign(rand io.Reader, data []byte) (*Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil {
		signer, err := s.load()
		if err != nil {
			return nil, err
		}
		s.signer = signer
	}
	return s.signer.Sign(rand, data)
}

func (s *keyFileSigner) load() (Signer, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	signer, _, err := ParsePrivateKeyFile(data, "")
	if err == nil {
		return signer, nil
	}
	if !errors.Is(err, ErrKeyEncrypted) {
		return nil, err
	}
	if s.prompt == nil {
		return nil, ErrKeyEncrypted
	}
	for i := 0; i < maxPassphraseAttempts; i++ {
		passphrase, err := s.prompt(fmt.Sprintf("Passphrase for key %q: ", s.path))
		if err != nil {
			return nil, err
		}
		signer, _, err = ParsePrivateKeyFile(data, passphrase)
		if err == nil {
			return signer, nil
		}
		if !errors.Is(err, ErrKeyEncrypted) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("ssh2: too many passphrase attempts for %q", s.path)
}

func decryptKeyBlob(blob []byte, passphrase string) ([]byte, error) {
	if len(blob)%des.BlockSize != 0 || len(blob) == 0 {
		return nil, errors.New("ssh2: encrypted key blob is not a block multiple")
	}
	block, err := des.NewTripleDESCipher(passphraseKey(passphrase))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(blob))
	iv := make([]byte, des.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, blob)

	inner, _, ok := parseString(buf)
	if !ok {
		return nil, ErrKeyEncrypted
	}
	return inner, nil
}

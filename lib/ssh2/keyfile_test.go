package ssh2

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrivateKeyFileRoundTrip(t *testing.T) {
	key := testRSAKey(t)

	data, err := MarshalPrivateKeyFile(rand.Reader, key, "test key", "")
	require.NoError(t, err)

	signer, comment, err := ParsePrivateKeyFile(data, "")
	require.NoError(t, err)
	require.Equal(t, "test key", comment)

	sig, err := signer.Sign(rand.Reader, []byte("data"))
	require.NoError(t, err)
	require.NoError(t, signer.PublicKey().Verify([]byte("data"), sig))
}

func TestPrivateKeyFileEncrypted(t *testing.T) {
	key := testRSAKey(t)

	data, err := MarshalPrivateKeyFile(rand.Reader, key, "enc key", "hunter2")
	require.NoError(t, err)

	// No passphrase and a wrong passphrase both fail with
	// ErrKeyEncrypted; only the right one opens the container.
	_, _, err = ParsePrivateKeyFile(data, "")
	require.ErrorIs(t, err, ErrKeyEncrypted)

	_, _, err = ParsePrivateKeyFile(data, "wrong")
	require.ErrorIs(t, err, ErrKeyEncrypted)

	signer, comment, err := ParsePrivateKeyFile(data, "hunter2")
	require.NoError(t, err)
	require.Equal(t, "enc key", comment)
	require.Equal(t, KeyAlgoRSA, signer.PublicKey().Type())
}

func TestPublicKeyFileRoundTrip(t *testing.T) {
	pub := testEd25519Signer(t).PublicKey()
	data := MarshalPublicKeyFile(pub, "alice@example")

	parsed, comment, err := ParsePublicKeyFile(data)
	require.NoError(t, err)
	require.Equal(t, "alice@example", comment)
	require.True(t, bytes.Equal(parsed.Marshal(), pub.Marshal()))
}

func TestKeyFileMagics(t *testing.T) {
	pub := testEd25519Signer(t).PublicKey()
	data := MarshalPublicKeyFile(pub, "c")
	magic, _, ok := parseU32(data)
	require.True(t, ok)
	require.Equal(t, uint32(keyMagicPublic), magic)

	key := testRSAKey(t)
	plain, err := MarshalPrivateKeyFile(rand.Reader, key, "c", "")
	require.NoError(t, err)
	magic, _, _ = parseU32(plain)
	require.Equal(t, uint32(keyMagicPrivate), magic)

	enc, err := MarshalPrivateKeyFile(rand.Reader, key, "c", "pw")
	require.NoError(t, err)
	magic, _, _ = parseU32(enc)
	require.Equal(t, uint32(keyMagicPrivateEncrypted), magic)
}

func TestKeyFileSignerLazyPassphrase(t *testing.T) {
	dir := t.TempDir()
	key := testRSAKey(t)
	signer, err := NewSignerFromKey(key)
	require.NoError(t, err)

	priv, err := MarshalPrivateKeyFile(rand.Reader, key, "lazy", "letmein")
	require.NoError(t, err)
	path := filepath.Join(dir, "id_test")
	require.NoError(t, os.WriteFile(path, priv, 0600))
	require.NoError(t, os.WriteFile(path+".pub", MarshalPublicKeyFile(signer.PublicKey(), "lazy"), 0644))

	prompts := 0
	lazy, err := KeyFileSigner(path, func(string) (string, error) {
		prompts++
		if prompts < 2 {
			return "wrong", nil
		}
		return "letmein", nil
	})
	require.NoError(t, err)
	// The public half is available without touching the passphrase.
	require.Equal(t, 0, prompts)
	require.Equal(t, KeyAlgoRSA, lazy.PublicKey().Type())

	sig, err := lazy.Sign(rand.Reader, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, 2, prompts)
	require.NoError(t, lazy.PublicKey().Verify([]byte("payload"), sig))

	// The decrypted key is cached; further signatures do not prompt.
	_, err = lazy.Sign(rand.Reader, []byte("payload2"))
	require.NoError(t, err)
	require.Equal(t, 2, prompts)
}

func TestKeyFileSignerAttemptsExhausted(t *testing.T) {
	dir := t.TempDir()
	key := testRSAKey(t)
	signer, err := NewSignerFromKey(key)
	require.NoError(t, err)

	priv, err := MarshalPrivateKeyFile(rand.Reader, key, "k", "secret")
	require.NoError(t, err)
	path := filepath.Join(dir, "id_test")
	require.NoError(t, os.WriteFile(path, priv, 0600))
	require.NoError(t, os.WriteFile(path+".pub", MarshalPublicKeyFile(signer.PublicKey(), "k"), 0644))

	prompts := 0
	lazy, err := KeyFileSigner(path, func(string) (string, error) {
		prompts++
		return "always wrong", nil
	})
	require.NoError(t, err)

	_, err = lazy.Sign(rand.Reader, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrKeyEncrypted))
	require.Equal(t, maxPassphraseAttempts, prompts)
}

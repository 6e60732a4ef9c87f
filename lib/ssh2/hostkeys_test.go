package ssh2

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostKeyStoreFirstUse(t *testing.T) {
	store := &HostKeyStore{Dir: t.TempDir(), TrustOnFirstUse: true}
	key := testEd25519Signer(t).PublicKey()

	cb := store.Callback()
	require.NoError(t, cb("host.example.com:22", nil, key))

	// The record is now on disk and keeps matching.
	stored, err := store.Lookup("host.example.com:22")
	require.NoError(t, err)
	require.True(t, keysEqual(stored, key))
	require.NoError(t, cb("host.example.com:22", nil, key))
}

func TestHostKeyStoreChangeIsFatal(t *testing.T) {
	store := &HostKeyStore{Dir: t.TempDir(), TrustOnFirstUse: true}
	cb := store.Callback()

	require.NoError(t, cb("host:22", nil, testEd25519Signer(t).PublicKey()))

	err := cb("host:22", nil, testECDSASigner(t).PublicKey())
	require.Error(t, err)
	var d *DisconnectError
	require.True(t, errors.As(err, &d))
	require.Equal(t, DisconnectHostKeyNotVerifiable, d.Reason)
}

func TestHostKeyStoreUnknownWithoutTOFU(t *testing.T) {
	store := &HostKeyStore{Dir: t.TempDir()}
	err := store.Callback()("unseen:22", nil, testEd25519Signer(t).PublicKey())
	var d *DisconnectError
	require.True(t, errors.As(err, &d))
	require.Equal(t, DisconnectHostKeyNotVerifiable, d.Reason)
}

func TestHostKeyStoreRecordNames(t *testing.T) {
	// Hostile host names cannot escape the store directory.
	require.Equal(t, "key_.._.._etc_passwd_22.pub", recordName("../../etc/passwd_22"))
	require.Equal(t, "key_host.example.com_2222.pub", recordName("host.example.com_2222"))
	require.Equal(t, "key_upper.case_22.pub", recordName("UPPER.CASE_22"))
}

func TestHostKeyStoreDefaultPort(t *testing.T) {
	store := &HostKeyStore{Dir: t.TempDir(), TrustOnFirstUse: true}
	key := testEd25519Signer(t).PublicKey()
	require.NoError(t, store.Add("bare-host", key))

	// A bare host name is recorded under port 22.
	stored, err := store.Lookup("bare-host:22")
	require.NoError(t, err)
	require.True(t, keysEqual(stored, key))
}

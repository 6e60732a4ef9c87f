package zssh2

import (
	"crypto/rand"
	"crypto/rsa"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

func writeTestHostKey(t *testing.T, dir string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	data, err := ssh2.MarshalPrivateKeyFile(rand.Reader, key, "host key", "")
	require.NoError(t, err)
	path := filepath.Join(dir, "hostkey")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestLoadDaemonConfig(t *testing.T) {
	dir := t.TempDir()
	hostKey := writeTestHostKey(t, dir)

	cfgPath := filepath.Join(dir, "zssh2d.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
listen_address: 127.0.0.1:2022
host_key_files:
  - `+hostKey+`
login_grace_seconds: 30
password_guesses: 2
deny_hosts:
  - "*.blocked.example"
log_level: debug
`), 0644))

	cfg, err := LoadDaemonConfig(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:2022", cfg.ListenAddress)
	require.Equal(t, 2, cfg.PasswordGuesses)
	require.Equal(t, []string{"*.blocked.example"}, cfg.DenyHosts)

	serverConf, err := cfg.ServerConfig()
	require.NoError(t, err)
	require.Equal(t, 2, serverConf.PasswordGuesses)
	require.Equal(t, []string{"*.blocked.example"}, serverConf.DenyHosts)
}

func TestLoadDaemonConfigRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("listen_address: x\nhost_key_files: [k]\nbogus_field: 1\n"), 0644))
	_, err := LoadDaemonConfig(cfgPath)
	require.Error(t, err)
}

func TestLoadDaemonConfigValidation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "incomplete.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("listen_address: 127.0.0.1:2022\n"), 0644))
	_, err := LoadDaemonConfig(cfgPath)
	require.Error(t, err)
}

func TestPublicKeyPolicy(t *testing.T) {
	dir := t.TempDir()
	hostKey := writeTestHostKey(t, dir)

	userKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	signer, err := ssh2.NewSignerFromKey(userKey)
	require.NoError(t, err)

	keysDir := filepath.Join(dir, "keys")
	userDir := filepath.Join(keysDir, "alice")
	require.NoError(t, os.MkdirAll(userDir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "laptop.pub"),
		ssh2.MarshalPublicKeyFile(signer.PublicKey(), "laptop"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "laptop.command"),
		[]byte("/usr/bin/backup\n"), 0644))

	cfg := &DaemonConfig{
		ListenAddress:     "127.0.0.1:0",
		HostKeyFiles:      []string{hostKey},
		AuthorizedKeysDir: keysDir,
	}
	serverConf, err := cfg.ServerConfig()
	require.NoError(t, err)
	require.NotNil(t, serverConf.PublicKeyCallback)

	perms, err := serverConf.PublicKeyCallback(fakeConnMetadata{user: "alice"}, signer.PublicKey())
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/backup", perms.ForcedCommand)

	otherKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	otherSigner, err := ssh2.NewSignerFromKey(otherKey)
	require.NoError(t, err)
	_, err = serverConf.PublicKeyCallback(fakeConnMetadata{user: "alice"}, otherSigner.PublicKey())
	require.Error(t, err)

	_, err = serverConf.PublicKeyCallback(fakeConnMetadata{user: "nobody"}, signer.PublicKey())
	require.Error(t, err)
}

func TestMonitorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitor(reg)
	m.Handshake(nil)
	m.AuthAttempt("publickey", nil)
	m.KexSelected("curve25519-sha256@libssh.org")
	m.ChannelOpened()
	m.ChannelClosed()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

type fakeConnMetadata struct {
	user string
}

func (f fakeConnMetadata) User() string          { return f.user }
func (f fakeConnMetadata) SessionID() []byte     { return nil }
func (f fakeConnMetadata) ClientVersion() []byte { return nil }
func (f fakeConnMetadata) ServerVersion() []byte { return nil }
func (f fakeConnMetadata) RemoteAddr() net.Addr  { return nil }
func (f fakeConnMetadata) LocalAddr() net.Addr   { return nil }

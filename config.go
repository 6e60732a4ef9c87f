// Package zssh2 is the framework layer around the SSH2 protocol
// engine in lib/ssh2: daemon configuration, logging glue and
// monitoring. The engine itself stays free of these dependencies.
package zssh2

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

// DaemonConfig is the YAML-file configuration of the server daemon.
type DaemonConfig struct {
	// ListenAddress is the TCP address the daemon accepts
	// connections on.
	ListenAddress string `yaml:"listen_address"`

	// HostKeyFiles name the private key files to load as host keys.
	HostKeyFiles []string `yaml:"host_key_files"`

	// Ciphers, MACs and KeyExchanges override the engine defaults
	// when non-empty. Entries the engine does not support are
	// dropped.
	Ciphers      []string `yaml:"ciphers,omitempty"`
	MACs         []string `yaml:"macs,omitempty"`
	KeyExchanges []string `yaml:"key_exchanges,omitempty"`

	// LoginGraceSeconds bounds the time from accept to a successful
	// authentication.
	LoginGraceSeconds int `yaml:"login_grace_seconds,omitempty"`

	// PasswordGuesses is the number of wrong passwords tolerated
	// before the method is disabled for a session.
	PasswordGuesses int `yaml:"password_guesses,omitempty"`

	// AllowHosts and DenyHosts are wildcard host patterns applied
	// before authentication.
	AllowHosts []string `yaml:"allow_hosts,omitempty"`
	DenyHosts  []string `yaml:"deny_hosts,omitempty"`

	// AuthorizedKeysDir holds one directory per user, each with the
	// public key file containers that user may authenticate with.
	AuthorizedKeysDir string `yaml:"authorized_keys_dir,omitempty"`

	// BannerFile is sent to clients before authentication.
	BannerFile string `yaml:"banner_file,omitempty"`

	// MetricsAddress, when set, exposes prometheus metrics over HTTP.
	MetricsAddress string `yaml:"metrics_address,omitempty"`

	// LogLevel selects the logrus level (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`
}

// LoadDaemonConfig reads and validates a YAML daemon configuration.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DaemonConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration that would otherwise
// fail only at the first connection.
func (c *DaemonConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address must be set")
	}
	if len(c.HostKeyFiles) == 0 {
		return fmt.Errorf("at least one host key file must be configured")
	}
	return nil
}

// ServerConfig builds the engine configuration: host keys loaded from
// disk, negotiation preferences, timers and the host filter. The
// caller attaches its authentication callbacks afterwards.
func (c *DaemonConfig) ServerConfig() (*ssh2.ServerConfig, error) {
	conf := &ssh2.ServerConfig{
		PasswordGuesses: c.PasswordGuesses,
		AllowHosts:      c.AllowHosts,
		DenyHosts:       c.DenyHosts,
		LoginGraceTime:  time.Duration(c.LoginGraceSeconds) * time.Second,
	}
	conf.Ciphers = c.Ciphers
	conf.MACs = c.MACs
	conf.KeyExchanges = c.KeyExchanges

	for _, path := range c.HostKeyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		signer, _, err := ssh2.ParsePrivateKeyFile(data, "")
		if err != nil {
			// Host keys may also be kept in PEM.
			signer, err = ssh2.ParsePrivateKey(data)
			if err != nil {
				return nil, fmt.Errorf("host key %s: %w", path, err)
			}
		}
		conf.AddHostKey(signer)
		log.WithFields(log.Fields{
			"path": path,
			"type": signer.PublicKey().Type(),
		}).Info("loaded host key")
	}

	if c.AuthorizedKeysDir != "" {
		conf.PublicKeyCallback = c.publicKeyPolicy()
	}

	if c.BannerFile != "" {
		banner, err := os.ReadFile(c.BannerFile)
		if err != nil {
			return nil, err
		}
		conf.BannerCallback = func(ssh2.ConnMetadata) string { return string(banner) }
	}

	return conf, nil
}

// publicKeyPolicy authorizes a key when a bitwise-equal public blob is
// on file under <dir>/<user>/. A sibling <name>.command file attaches
// a forced command to the key.
func (c *DaemonConfig) publicKeyPolicy() func(conn ssh2.ConnMetadata, key ssh2.PublicKey) (*ssh2.Permissions, error) {
	return func(conn ssh2.ConnMetadata, key ssh2.PublicKey) (*ssh2.Permissions, error) {
		userDir := filepath.Join(c.AuthorizedKeysDir, filepath.Base(conn.User()))
		entries, err := os.ReadDir(userDir)
		if err != nil {
			return nil, fmt.Errorf("user %q has no authorized keys", conn.User())
		}
		blob := key.Marshal()
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".pub") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(userDir, e.Name()))
			if err != nil {
				continue
			}
			stored, _, err := ssh2.ParsePublicKeyFile(data)
			if err != nil {
				log.WithField("file", e.Name()).WithError(err).Warn("skipping unreadable authorized key")
				continue
			}
			if !bytes.Equal(stored.Marshal(), blob) {
				continue
			}
			perms := &ssh2.Permissions{}
			base := strings.TrimSuffix(e.Name(), ".pub")
			if cmd, err := os.ReadFile(filepath.Join(userDir, base+".command")); err == nil {
				perms.ForcedCommand = strings.TrimSpace(string(cmd))
			}
			return perms, nil
		}
		return nil, fmt.Errorf("no matching key for user %q", conn.User())
	}
}

package ssh2

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"
)

// The Permissions type holds the outcome of a successful
// authorization decision.
type Permissions struct {
	// CriticalOptions indicate restrictions to the default
	// permissions, and are typically used in conjunction with
	// user certificates or per-key options. The server must
	// enforce them or reject the connection.
	CriticalOptions map[string]string

	// Extensions are extra functionality that the server may
	// offer on authenticated connections. Lack of support for an
	// extension does not preclude authenticating a user.
	Extensions map[string]string

	// ForcedCommand, when non-empty, overrides whatever command the
	// client asks a session channel to run.
	ForcedCommand string
}

// PasswordChangeRequired may be returned from
// ServerConfig.PasswordCallback to demand a password change from the
// client before the method can succeed. The prompt is forwarded in
// the PASSWD_CHANGEREQ packet.
type PasswordChangeRequired struct {
	Prompt string
}

func (p *PasswordChangeRequired) Error() string {
	return "ssh2: password change required: " + p.Prompt
}

// maxPasswordLength bounds a client-supplied password before it is
// handed to any validation API. Unhygienic system libraries have
// misbehaved on longer inputs.
const maxPasswordLength = 64

// defaultPasswordGuesses is how many wrong passwords a client may try
// before the method is disabled for the session.
const defaultPasswordGuesses = 3

// defaultMaxAuthTries bounds the total failed attempts over all
// methods before the server disconnects the client.
const defaultMaxAuthTries = 6

// ServerConfig holds server specific configuration data.
type ServerConfig struct {
	// Config contains configuration shared between client and server.
	Config

	hostKeys []Signer

	// NoClientAuth is true if clients are allowed to connect without
	// authenticating.
	NoClientAuth bool

	// MaxAuthTries specifies the maximum number of authentication attempts
	// permitted per connection. If set to a negative number, the number of
	// attempts are unlimited. If unset, a sensible default is used.
	MaxAuthTries int

	// PasswordGuesses is the number of wrong passwords tolerated before
	// the password method is disabled for the session. If unset, a
	// sensible default is used.
	PasswordGuesses int

	// PasswordCallback, if non-nil, is called when a user
	// attempts to authenticate using a password. It may return a
	// *PasswordChangeRequired error to demand a new password.
	PasswordCallback func(conn ConnMetadata, password []byte) (*Permissions, error)

	// PasswordChangeCallback handles the client's reply to a
	// PASSWD_CHANGEREQ: the old and the replacement password. When
	// nil, change replies are validated through PasswordCallback
	// and the replacement is discarded.
	PasswordChangeCallback func(conn ConnMetadata, oldPassword, newPassword []byte) (*Permissions, error)

	// PublicKeyCallback is the user-authorization policy for public
	// keys: given a candidate key it reports whether the key matches,
	// and may attach a forced command through the returned
	// Permissions. Its verdict is cached per connection (up to
	// maxCachedPubKeys keys), so the probe and the signed request for
	// a cached key share a single call.
	PublicKeyCallback func(conn ConnMetadata, key PublicKey) (*Permissions, error)

	// AuthLogCallback, if non-nil, is called to log all authentication
	// attempts.
	AuthLogCallback func(conn ConnMetadata, method string, err error)

	// AllowHosts and DenyHosts are wildcard patterns matched against
	// the client address (and its reverse mapping, when available)
	// before any authentication method may succeed. An empty
	// AllowHosts list allows every host not matched by DenyHosts.
	AllowHosts []string
	DenyHosts  []string

	// ReverseMapping, if non-nil, resolves the remote address to a
	// host name for the allow/deny check. An error denies the
	// connection, which makes the mapping strict.
	ReverseMapping func(addr net.Addr) (string, error)

	// LoginGraceTime is the window from connection establishment to
	// USERAUTH_SUCCESS. On expiry the connection is torn down. Zero
	// disables the timer.
	LoginGraceTime time.Duration

	// ServerVersion is the version identification string to announce in
	// the public handshake.
	// If empty, a reasonable default is used.
	// Note that RFC 4253 section 4.2 requires that this string start with
	// "SSH-2.0-".
	ServerVersion string

	// BannerCallback, if present, is called and the return string is sent to
	// the client after key exchange completed but before authentication.
	BannerCallback func(conn ConnMetadata) string
}

// AddHostKey adds a private key as a host key. If an existing host
// key exists with the same algorithm, it is overwritten. Each server
// config must have at least one host key.
func (s *ServerConfig) AddHostKey(key Signer) {
	for i, k := range s.hostKeys {
		if k.PublicKey().Type() == key.PublicKey().Type() {
			s.hostKeys[i] = key
			return
		}
	}

	s.hostKeys = append(s.hostKeys, key)
}

// cachedPubKey contains the results of querying the authorization
// policy about a public key.
type cachedPubKey struct {
	user       string
	pubKeyData []byte
	result     error
	perms      *Permissions
}

const maxCachedPubKeys = 16

// pubKeyCache caches tests for public keys. Since SSH clients will
// query whether a public key is acceptable before attempting to
// authenticate with it, we end up with duplicate queries for public
// key validity. The cache only applies to a single ServerConn.
type pubKeyCache struct {
	keys []cachedPubKey
}

// get returns the result for a given user/key pair.
func (c *pubKeyCache) get(user string, pubKeyData []byte) (cachedPubKey, bool) {
	for _, k := range c.keys {
		if k.user == user && bytes.Equal(k.pubKeyData, pubKeyData) {
			return k, true
		}
	}
	return cachedPubKey{}, false
}

// add adds the given tuple to the cache.
func (c *pubKeyCache) add(candidate cachedPubKey) {
	if len(c.keys) < maxCachedPubKeys {
		c.keys = append(c.keys, candidate)
	}
}

// ServerConn is an authenticated SSH connection, as seen from the
// server.
type ServerConn struct {
	Conn

	// If the succeeding authentication callback returned a
	// non-nil Permissions pointer, it is stored here.
	Permissions *Permissions
}

// NewServerConn starts a new SSH server with c as the underlying
// transport. It starts with a handshake and, if the handshake is
// unsuccessful, it closes the connection and returns an error. The
// Request and NewChannel channels must be serviced, or the connection
// will hang.
func NewServerConn(c net.Conn, config *ServerConfig) (*ServerConn, <-chan NewChannel, <-chan *Request, error) {
	fullConf := *config
	fullConf.SetDefaults()
	s := &connection{
		sshConn: sshConn{conn: c},
	}
	perms, err := s.serverHandshake(&fullConf)
	if err != nil {
		c.Close()
		return nil, nil, nil, err
	}
	s.mux = newMux(s.transport)
	return &ServerConn{s, perms}, s.mux.incomingChannels, s.mux.incomingRequests, nil
}

// signAndMarshal lives in keys.go and the kex machinery in kex.go; the
// server handshake only wires them together.

// serverHandshake performs key exchange and user authentication.
func (s *connection) serverHandshake(config *ServerConfig) (*Permissions, error) {
	if len(config.hostKeys) == 0 {
		return nil, errors.New("ssh2: server has no host keys")
	}

	if !config.NoClientAuth && config.PasswordCallback == nil && config.PublicKeyCallback == nil {
		return nil, errors.New("ssh2: no authentication methods configured but NoClientAuth is also false")
	}

	if config.ServerVersion != "" {
		s.serverVersion = []byte(config.ServerVersion)
	} else {
		s.serverVersion = []byte(packageVersion)
	}

	// The login grace period runs from here to USERAUTH_SUCCESS;
	// expiry forces the connection down.
	var grace *time.Timer
	if config.LoginGraceTime > 0 {
		grace = time.AfterFunc(config.LoginGraceTime, func() {
			s.sshConn.conn.Close()
		})
		defer grace.Stop()
	}

	var err error
	s.clientVersion, err = exchangeVersions(s.sshConn.conn, s.serverVersion)
	if err != nil {
		return nil, err
	}

	tr := newTransport(s.sshConn.conn, config.Rand, false /* not client */)

	if !acceptableVersion(s.clientVersion) {
		// Pre-kex packets are unencrypted, so the refusal can still
		// go out as a proper DISCONNECT.
		msg := fmt.Sprintf("unsupported client version %q", s.clientVersion)
		tr.writePacket(Marshal(&disconnectMsg{
			Reason:  DisconnectProtocolVersionNotSupported,
			Message: msg,
		}))
		return nil, &DisconnectError{
			Reason:  DisconnectProtocolVersionNotSupported,
			Message: msg,
		}
	}

	s.transport = newServerTransport(tr, s.clientVersion, s.serverVersion, config)

	if err := s.transport.requestInitialKeyChange(); err != nil {
		return nil, err
	}

	// We just did the key change, so the session ID is established.
	s.sessionID = s.transport.getSessionID()

	var packet []byte
	if packet, err = s.transport.readPacket(); err != nil {
		return nil, err
	}

	var serviceRequest serviceRequestMsg
	if err = Unmarshal(packet, &serviceRequest); err != nil {
		return nil, err
	}
	if serviceRequest.Service != serviceUserAuth {
		s.writeDisconnect(DisconnectServiceNotAvailable, "requested service not available")
		return nil, errors.New("ssh2: requested service is different from ssh-userauth")
	}

	// The allow/deny host filter runs before any method may succeed.
	if err := s.checkHostAccess(config); err != nil {
		s.writeDisconnect(DisconnectHostNotAllowedToConnect, "host not allowed to connect")
		return nil, err
	}

	serviceAccept := serviceAcceptMsg{
		Service: serviceUserAuth,
	}
	if err := s.transport.writePacket(Marshal(&serviceAccept)); err != nil {
		return nil, err
	}

	perms, err := s.serverAuthenticate(config)
	if err != nil {
		return nil, err
	}
	if grace != nil {
		grace.Stop()
	}
	return perms, nil
}

// checkHostAccess applies the allow/deny host patterns to the remote
// address and, when configured, its reverse mapping.
func (s *connection) checkHostAccess(config *ServerConfig) error {
	if len(config.AllowHosts) == 0 && len(config.DenyHosts) == 0 {
		return nil
	}

	names := []string{addrHost(s.RemoteAddr())}
	if config.ReverseMapping != nil {
		name, err := config.ReverseMapping(s.RemoteAddr())
		if err != nil {
			return fmt.Errorf("ssh2: reverse mapping of %v failed: %v", s.RemoteAddr(), err)
		}
		names = append(names, name)
	}

	for _, name := range names {
		if matchPatternList(config.DenyHosts, name) {
			return fmt.Errorf("ssh2: host %q denied by policy", name)
		}
	}
	if len(config.AllowHosts) > 0 {
		for _, name := range names {
			if matchPatternList(config.AllowHosts, name) {
				return nil
			}
		}
		return fmt.Errorf("ssh2: host %v not on allow list", names)
	}
	return nil
}

func addrHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *connection) writeDisconnect(reason uint32, msg string) error {
	m := disconnectMsg{
		Reason:  reason,
		Message: msg,
	}
	return s.transport.writePacket(Marshal(&m))
}

func (s *connection) serverAuthenticate(config *ServerConfig) (*Permissions, error) {
	sessionID := s.transport.getSessionID()
	var cache pubKeyCache
	var perms *Permissions

	maxTries := config.MaxAuthTries
	if maxTries == 0 {
		maxTries = defaultMaxAuthTries
	}
	passwordGuesses := config.PasswordGuesses
	if passwordGuesses <= 0 {
		passwordGuesses = defaultPasswordGuesses
	}
	passwordDisabled := config.PasswordCallback == nil

	authFailures := 0
	bannerSent := false

userAuthLoop:
	for {
		if maxTries > 0 && authFailures >= maxTries {
			s.writeDisconnect(DisconnectNoMoreAuthMethodsAvailable, "too many authentication failures")
			return nil, errors.New("ssh2: too many authentication failures")
		}

		var userAuthReq userAuthRequestMsg
		if packet, err := s.transport.readPacket(); err != nil {
			return nil, err
		} else if err = Unmarshal(packet, &userAuthReq); err != nil {
			return nil, err
		}

		if userAuthReq.Service != serviceSSH {
			return nil, errors.New("ssh2: client attempted to negotiate for unknown service: " + userAuthReq.Service)
		}

		if s.user != "" && s.user != userAuthReq.User {
			// The resolved local identity persists across method
			// attempts; a user switch mid-authentication is a
			// protocol violation.
			s.writeDisconnect(DisconnectProtocolError, "user changed during authentication")
			return nil, errors.New("ssh2: client changed the user mid-authentication")
		}
		s.user = userAuthReq.User

		if !bannerSent && config.BannerCallback != nil {
			if msg := config.BannerCallback(s); msg != "" {
				bannerMsg := &userAuthBannerMsg{
					Message: msg,
				}
				if err := s.transport.writePacket(Marshal(bannerMsg)); err != nil {
					return nil, err
				}
			}
			bannerSent = true
		}

		perms = nil
		authErr := errors.New("ssh2: no auth passed yet")

		switch userAuthReq.Method {
		case "none":
			if config.NoClientAuth {
				authErr = nil
			}
		case "password":
			if passwordDisabled {
				authErr = errors.New("ssh2: password auth not available")
				break
			}

			payload := userAuthReq.Payload
			isChangeReply, payload, ok := parseBool(payload)
			if !ok {
				return nil, parseError(msgUserAuthRequest)
			}
			password, payload, ok := parseString(payload)
			if !ok {
				return nil, parseError(msgUserAuthRequest)
			}
			var newPassword []byte
			if isChangeReply {
				if newPassword, payload, ok = parseString(payload); !ok {
					return nil, parseError(msgUserAuthRequest)
				}
			}
			if len(payload) > 0 {
				return nil, parseError(msgUserAuthRequest)
			}
			if len(password) > maxPasswordLength || len(newPassword) > maxPasswordLength {
				authErr = fmt.Errorf("ssh2: password of %d bytes exceeds limit", len(password))
				break
			}

			if isChangeReply && config.PasswordChangeCallback != nil {
				perms, authErr = config.PasswordChangeCallback(s, password, newPassword)
			} else {
				perms, authErr = config.PasswordCallback(s, password)
			}

			var changeReq *PasswordChangeRequired
			if errors.As(authErr, &changeReq) {
				// Send the change request back and keep the
				// session in the auth loop; this attempt counts
				// neither as success nor as a wasted guess.
				req := userAuthPasswdChangeReqMsg{
					Prompt: changeReq.Prompt,
				}
				if err := s.transport.writePacket(Marshal(&req)); err != nil {
					return nil, err
				}
				continue userAuthLoop
			}

			if authErr != nil {
				passwordGuesses--
				if passwordGuesses <= 0 {
					// Out of guesses: disable the method for the
					// rest of the session and drop it from the
					// advertised list.
					passwordDisabled = true
				}
			}
		case "publickey":
			if config.PublicKeyCallback == nil {
				authErr = errors.New("ssh2: publickey auth not available")
				break
			}

			payload := userAuthReq.Payload
			isQuery, payload, ok := parseBool(payload)
			if !ok {
				return nil, parseError(msgUserAuthRequest)
			}
			algoBytes, payload, ok := parseString(payload)
			if !ok {
				return nil, parseError(msgUserAuthRequest)
			}
			algo := string(algoBytes)

			pubKeyData, payload, ok := parseString(payload)
			if !ok {
				return nil, parseError(msgUserAuthRequest)
			}

			candidate, ok := cache.get(s.user, pubKeyData)
			if !ok {
				candidate.user = s.user
				candidate.pubKeyData = dup(pubKeyData)
				pubKey, err := ParsePublicKey(candidate.pubKeyData)
				if err != nil {
					return nil, err
				}
				candidate.perms, candidate.result = config.PublicKeyCallback(s, pubKey)
				cache.add(candidate)
			}

			if isQuery {
				// The client can query if the given public key
				// would be okay.
				if len(payload) > 0 {
					return nil, parseError(msgUserAuthRequest)
				}

				if candidate.result == nil {
					okMsg := userAuthPubKeyOkMsg{
						Algo:   algo,
						PubKey: candidate.pubKeyData,
					}
					if err := s.transport.writePacket(Marshal(&okMsg)); err != nil {
						return nil, err
					}
					continue userAuthLoop
				}
				authErr = candidate.result
			} else {
				sigBlob, payload, ok := parseString(payload)
				if !ok || len(payload) > 0 {
					return nil, parseError(msgUserAuthRequest)
				}
				sig, rest, ok := parseSignatureBody(sigBlob)
				if !ok || len(rest) > 0 {
					return nil, parseError(msgUserAuthRequest)
				}
				// Ensure the public key algo and signature algo
				// are supported.  Compare the private key
				// algorithm name that corresponds to algo with
				// sig.Format.  This is usually the same, but
				// for certs, the names differ.
				if !contains(supportedHostKeyAlgos, algo) || algo != sig.Format {
					authErr = fmt.Errorf("ssh2: algorithm %q not accepted", sig.Format)
					break
				}
				pubKey, err := ParsePublicKey(candidate.pubKeyData)
				if err != nil {
					return nil, err
				}

				// The signature binds the session id, which
				// prevents replay across sessions.
				signedData := buildDataSignedForAuth(sessionID, userAuthReq, algoBytes, candidate.pubKeyData)

				if err := pubKey.Verify(signedData, sig); err != nil {
					return nil, err
				}

				authErr = candidate.result
				perms = candidate.perms
			}
		default:
			authErr = fmt.Errorf("ssh2: unknown method %q", userAuthReq.Method)
		}

		if config.AuthLogCallback != nil {
			config.AuthLogCallback(s, userAuthReq.Method, authErr)
		}

		if authErr == nil {
			break userAuthLoop
		}

		authFailures++

		var failureMsg userAuthFailureMsg
		if config.PasswordCallback != nil && !passwordDisabled {
			failureMsg.Methods = append(failureMsg.Methods, "password")
		}
		if config.PublicKeyCallback != nil {
			failureMsg.Methods = append(failureMsg.Methods, "publickey")
		}

		if len(failureMsg.Methods) == 0 {
			s.writeDisconnect(DisconnectNoMoreAuthMethodsAvailable, "no authentication methods remain")
			return nil, errors.New("ssh2: no authentication methods remain")
		}

		if err := s.transport.writePacket(Marshal(&failureMsg)); err != nil {
			return nil, err
		}
	}

	if err := s.transport.writePacket([]byte{msgUserAuthSuccess}); err != nil {
		return nil, err
	}
	return perms, nil
}

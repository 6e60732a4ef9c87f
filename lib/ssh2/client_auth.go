package ssh2

import (
	"bytes"
	"errors"
	"fmt"
)

// clientAuthenticate authenticates with the remote server. See RFC 4252.
func (c *connection) clientAuthenticate(config *ClientConfig) error {
	// initiate user auth session
	if err := c.transport.writePacket(Marshal(&serviceRequestMsg{serviceUserAuth})); err != nil {
		return err
	}
	packet, err := c.transport.readPacket()
	if err != nil {
		return err
	}
	var serviceAccept serviceAcceptMsg
	if err := Unmarshal(packet, &serviceAccept); err != nil {
		return err
	}

	// during the authentication phase the client first attempts the "none" method
	// then any untried methods suggested by the server.
	sessionID := c.transport.getSessionID()
	tried := make(map[string]bool)
	var lastMethods []string
	for auth := AuthMethod(new(noneAuth)); auth != nil; {
		ok, methods, err := auth.auth(sessionID, config.User, c.transport, config)
		if err != nil {
			return err
		}
		if ok {
			if l := config.ConnLog; l != nil {
				l.userAuth().MethodUsed = auth.method()
			}
			return nil
		}
		tried[auth.method()] = true
		if methods == nil {
			methods = lastMethods
		}
		lastMethods = methods
		if l := config.ConnLog; l != nil {
			l.userAuth().MethodsAvailable = methods
		}

		auth = nil

	findNext:
		for _, a := range config.Auth {
			candidateMethod := a.method()
			if tried[candidateMethod] {
				continue
			}
			for _, meth := range methods {
				if meth == candidateMethod {
					auth = a
					break findNext
				}
			}
		}
	}
	return fmt.Errorf("ssh2: unable to authenticate, attempted methods %v, no supported methods remain", keys(tried))
}

func keys(m map[string]bool) []string {
	s := make([]string, 0, len(m))

	for key := range m {
		s = append(s, key)
	}
	return s
}

// An AuthMethod represents an instance of an RFC 4252 authentication
// method. Each invocation runs the method's state machine to a
// terminal result; methods that need several round trips keep their
// state in the method value itself.
type AuthMethod interface {
	// auth authenticates user over transport c.
	// Returns true if authentication is successful.
	// If authentication is not successful, a []string of alternative
	// method names is returned. If the slice is nil, it will be ignored
	// and the previous set of possible methods will be reused.
	auth(session []byte, user string, c packetConn, config *ClientConfig) (bool, []string, error)

	// method returns the RFC 4252 method name.
	method() string
}

// "none" authentication, RFC 4252 section 5.2.
type noneAuth int

func (n *noneAuth) auth(session []byte, user string, c packetConn, config *ClientConfig) (bool, []string, error) {
	if err := c.writePacket(Marshal(&userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "none",
	})); err != nil {
		return false, nil, err
	}

	return handleAuthResponse(c, config)
}

func (n *noneAuth) method() string {
	return "none"
}

// passwordCallback is an AuthMethod that fetches the password through
// a function call, e.g. by prompting the user.
type passwordCallback struct {
	prompt func() (secret string, err error)

	// change collects replacement credentials when the server
	// responds with PASSWD_CHANGEREQ. When nil, a change request
	// terminates the method.
	change func(prompt string) (old, replacement string, err error)

	// attempts bounds how many times prompt is consulted before the
	// method gives up.
	attempts int
}

type passwordAuthMsg struct {
	User     string `sshtype:"50"`
	Service  string
	Method   string
	Reply    bool
	Password string
}

type passwordChangeAuthMsg struct {
	User        string `sshtype:"50"`
	Service     string
	Method      string
	Reply       bool
	OldPassword string
	NewPassword string
}

func (cb *passwordCallback) auth(session []byte, user string, c packetConn, config *ClientConfig) (bool, []string, error) {
	attempts := cb.attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastMethods []string
	for i := 0; i < attempts; i++ {
		pw, err := cb.prompt()
		if err != nil {
			return false, nil, err
		}

		if err := c.writePacket(Marshal(&passwordAuthMsg{
			User:     user,
			Service:  serviceSSH,
			Method:   cb.method(),
			Reply:    false,
			Password: pw,
		})); err != nil {
			return false, nil, err
		}

		success, methods, err := cb.handleResponse(c, user, config)
		if err != nil || success {
			return success, methods, err
		}
		if methods != nil {
			lastMethods = methods
			if !contains(methods, cb.method()) {
				// The server took "password" off the table; no use
				// prompting again.
				return false, methods, nil
			}
		}
	}
	return false, lastMethods, nil
}

// handleResponse is handleAuthResponse extended with the
// PASSWD_CHANGEREQ round trip that only the password method can see.
func (cb *passwordCallback) handleResponse(c packetConn, user string, config *ClientConfig) (bool, []string, error) {
	for {
		packet, err := c.readPacket()
		if err != nil {
			return false, nil, err
		}

		switch packet[0] {
		case msgUserAuthBanner:
			if err := handleBannerResponse(packet, config); err != nil {
				return false, nil, err
			}
		case msgUserAuthPasswdChangeReq:
			var req userAuthPasswdChangeReqMsg
			if err := Unmarshal(packet, &req); err != nil {
				return false, nil, err
			}
			if cb.change == nil {
				return false, nil, errors.New("ssh2: server requires a password change")
			}
			old, replacement, err := cb.change(req.Prompt)
			if err != nil {
				return false, nil, err
			}
			if err := c.writePacket(Marshal(&passwordChangeAuthMsg{
				User:        user,
				Service:     serviceSSH,
				Method:      cb.method(),
				Reply:       true,
				OldPassword: old,
				NewPassword: replacement,
			})); err != nil {
				return false, nil, err
			}
		case msgUserAuthFailure:
			var msg userAuthFailureMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return false, nil, err
			}
			return false, msg.Methods, nil
		case msgUserAuthSuccess:
			return true, nil, nil
		default:
			return false, nil, unexpectedMessageError(msgUserAuthSuccess, packet[0])
		}
	}
}

func (cb *passwordCallback) method() string {
	return "password"
}

// Password returns an AuthMethod using the given password.
func Password(secret string) AuthMethod {
	return &passwordCallback{prompt: func() (string, error) { return secret, nil }}
}

// PasswordCallback returns an AuthMethod that fetches the password up
// to attempts times through the provided function.
func PasswordCallback(attempts int, prompt func() (secret string, err error)) AuthMethod {
	return &passwordCallback{prompt: prompt, attempts: attempts}
}

// PasswordWithChange is like PasswordCallback but also accepts a
// handler for server-initiated password change requests.
func PasswordWithChange(attempts int, prompt func() (string, error), change func(prompt string) (old, replacement string, err error)) AuthMethod {
	return &passwordCallback{prompt: prompt, change: change, attempts: attempts}
}

type publickeyAuthMsg struct {
	User    string `sshtype:"50"`
	Service string
	Method  string
	// HasSig indicates to the receiver packet that the auth request is signed and
	// should be used for authentication of the request.
	HasSig   bool
	Algoname string
	PubKey   []byte
	// Sig is tagged with "rest" so Marshal will exclude it during
	// validateKey
	Sig []byte `ssh2:"rest"`
}

// publicKeyCallback is an AuthMethod that uses a set of key
// pairs for authentication: agent-held keys first, in agent order,
// then local key files in configuration order. The caller arranges
// that ordering when composing the candidate list.
type publicKeyCallback func() ([]Signer, error)

func (cb publicKeyCallback) method() string {
	return "publickey"
}

func (cb publicKeyCallback) auth(session []byte, user string, c packetConn, config *ClientConfig) (bool, []string, error) {
	// Authentication is performed in two stages. The first stage sends an
	// enquiry to test if each key is acceptable to the remote. The second
	// stage attempts to authenticate with the valid keys obtained in the
	// first stage.

	signers, err := cb()
	if err != nil {
		return false, nil, err
	}
	var methods []string
	for _, signer := range signers {
		ok, err := validateKey(signer.PublicKey(), user, c, config)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			// Probe rejected; advance to the next candidate.
			continue
		}

		pub := signer.PublicKey()
		pubKey := pub.Marshal()
		sign, err := signer.Sign(config.Rand, buildDataSignedForAuth(session, userAuthRequestMsg{
			User:    user,
			Service: serviceSSH,
			Method:  cb.method(),
		}, []byte(pub.Type()), pubKey))
		if err != nil {
			return false, nil, err
		}

		// manually wrap the serialized signature in a string
		s := Marshal(sign)
		sig := appendBytes(make([]byte, 0, len(s)+4), s)

		msg := publickeyAuthMsg{
			User:     user,
			Service:  serviceSSH,
			Method:   cb.method(),
			HasSig:   true,
			Algoname: pub.Type(),
			PubKey:   pubKey,
			Sig:      sig,
		}
		p := Marshal(&msg)
		if err := c.writePacket(p); err != nil {
			return false, nil, err
		}
		var success bool
		success, methods, err = handleAuthResponse(c, config)
		if err != nil {
			return false, nil, err
		}
		// A rejection of a signed request is terminal for the whole
		// method: the server recognised the key but refused the
		// authentication.
		return success, methods, err
	}
	return false, methods, nil
}

// validateKey validates the key provided is acceptable to the server.
func validateKey(key PublicKey, user string, c packetConn, config *ClientConfig) (bool, error) {
	pubKey := key.Marshal()
	msg := publickeyAuthMsg{
		User:     user,
		Service:  serviceSSH,
		Method:   "publickey",
		HasSig:   false,
		Algoname: key.Type(),
		PubKey:   pubKey,
	}
	if err := c.writePacket(Marshal(&msg)); err != nil {
		return false, err
	}

	return confirmKeyAck(key, c, config)
}

func confirmKeyAck(key PublicKey, c packetConn, config *ClientConfig) (bool, error) {
	pubKey := key.Marshal()
	algoname := key.Type()

	for {
		packet, err := c.readPacket()
		if err != nil {
			return false, err
		}
		switch packet[0] {
		case msgUserAuthBanner:
			if err := handleBannerResponse(packet, config); err != nil {
				return false, err
			}
		case msgUserAuthPubKeyOk:
			var msg userAuthPubKeyOkMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return false, err
			}
			if msg.Algo != algoname || !bytes.Equal(msg.PubKey, pubKey) {
				return false, nil
			}
			return true, nil
		case msgUserAuthFailure:
			return false, nil
		default:
			return false, unexpectedMessageError(msgUserAuthSuccess, packet[0])
		}
	}
}

// PublicKeys returns an AuthMethod that uses the given key
// pairs.
func PublicKeys(signers ...Signer) AuthMethod {
	return publicKeyCallback(func() ([]Signer, error) { return signers, nil })
}

// PublicKeysCallback returns an AuthMethod that runs the given
// function to obtain a list of key pairs.
func PublicKeysCallback(getSigners func() (signers []Signer, err error)) AuthMethod {
	return publicKeyCallback(getSigners)
}

// handleAuthResponse returns whether the preceding authentication
// request succeeded along with a list of remaining authentication
// methods to try next and an error if an unexpected response was
// received.
func handleAuthResponse(c packetConn, config *ClientConfig) (bool, []string, error) {
	for {
		packet, err := c.readPacket()
		if err != nil {
			return false, nil, err
		}

		switch packet[0] {
		case msgUserAuthBanner:
			if err := handleBannerResponse(packet, config); err != nil {
				return false, nil, err
			}
		case msgUserAuthFailure:
			var msg userAuthFailureMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return false, nil, err
			}
			if l := config.ConnLog; l != nil {
				l.userAuth().PartialSuccess = msg.PartialSuccess
			}
			return false, msg.Methods, nil
		case msgUserAuthSuccess:
			return true, nil, nil
		default:
			return false, nil, unexpectedMessageError(msgUserAuthSuccess, packet[0])
		}
	}
}

func handleBannerResponse(packet []byte, config *ClientConfig) error {
	var msg userAuthBannerMsg
	if err := Unmarshal(packet, &msg); err != nil {
		return err
	}

	if l := config.ConnLog; l != nil {
		l.userAuth().Banner = msg.Message
	}
	if config.BannerCallback != nil {
		return config.BannerCallback(msg.Message)
	}
	return nil
}

func contains(list []string, e string) bool {
	for _, s := range list {
		if s == e {
			return true
		}
	}
	return false
}

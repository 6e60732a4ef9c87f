package ssh2

import (
	"crypto/sha256"
	"encoding/base64"
)

// EndpointId is a parsed SSH identification string.
type EndpointId struct {
	Raw             string `json:"raw,omitempty"`
	ProtoVersion    string `json:"version,omitempty"`
	SoftwareVersion string `json:"software,omitempty"`
	Comment         string `json:"comment,omitempty"`
}

// HostKeyLog records the host key presented by the server during key
// exchange. Only public material is recorded.
type HostKeyLog struct {
	Algorithm         string `json:"algorithm,omitempty"`
	Fingerprint       string `json:"fingerprint_sha256,omitempty"`
	KeyBase64         string `json:"key,omitempty"`
	TrustedOnFirstUse bool   `json:"trusted_on_first_use,omitempty"`
}

// UserAuthLog records the progress of user authentication.
type UserAuthLog struct {
	Banner           string   `json:"banner,omitempty"`
	MethodsAvailable []string `json:"methods_available,omitempty"`
	MethodUsed       string   `json:"method_used,omitempty"`
	PartialSuccess   bool     `json:"partial_success,omitempty"`
}

// HandshakeLog is built incrementally while a connection is set up.
// Attach one via Config.ConnLog to observe the handshake; it records
// negotiation artifacts only, never key material.
type HandshakeLog struct {
	Banner             string       `json:"banner,omitempty"`
	ClientID           *EndpointId  `json:"client_id,omitempty"`
	ServerID           *EndpointId  `json:"server_id,omitempty"`
	ClientKex          *KexInitMsg  `json:"client_key_exchange,omitempty"`
	ServerKex          *KexInitMsg  `json:"server_key_exchange,omitempty"`
	AlgorithmSelection *Algorithms  `json:"algorithm_selection,omitempty"`
	ServerHostKey      *HostKeyLog  `json:"server_host_key,omitempty"`
	UserAuth           *UserAuthLog `json:"userauth,omitempty"`
	Rekeys             int          `json:"rekeys,omitempty"`
}

func (l *HandshakeLog) recordHostKey(key PublicKey) {
	if l == nil {
		return
	}
	blob := key.Marshal()
	sum := sha256.Sum256(blob)
	l.ServerHostKey = &HostKeyLog{
		Algorithm:   key.Type(),
		Fingerprint: "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:]),
		KeyBase64:   base64.StdEncoding.EncodeToString(blob),
	}
}

func (l *HandshakeLog) userAuth() *UserAuthLog {
	if l.UserAuth == nil {
		l.UserAuth = &UserAuthLog{}
	}
	return l.UserAuth
}

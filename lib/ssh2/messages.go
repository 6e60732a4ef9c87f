package ssh2

import (
	"fmt"
	"math/big"
)

// Message numbers fixed by the SSH2 protocol suite.
const (
	// Transport layer.
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit = 20
	msgNewKeys = 21

	// Numbers 30-49 are per key-exchange method.
	msgKexDHInit  = 30
	msgKexDHReply = 31

	msgKexDHGexGroup   = 31
	msgKexDHGexInit    = 32
	msgKexDHGexReply   = 33
	msgKexDHGexRequest = 34

	msgKexECDHInit  = 30
	msgKexECDHReply = 31

	// User authentication.
	msgUserAuthRequest = 50
	msgUserAuthFailure = 51
	msgUserAuthSuccess = 52
	msgUserAuthBanner  = 53

	// Numbers 60-79 are per authentication method.
	msgUserAuthPubKeyOk        = 60
	msgUserAuthPasswdChangeReq = 60

	// Connection protocol.
	msgGlobalRequest            = 80
	msgRequestSuccess           = 81
	msgRequestFailure           = 82
	msgChannelOpen              = 90
	msgChannelOpenConfirm       = 91
	msgChannelOpenFailure       = 92
	msgChannelWindowAdjust      = 93
	msgChannelData              = 94
	msgChannelExtendedData      = 95
	msgChannelEOF               = 96
	msgChannelClose             = 97
	msgChannelRequest           = 98
	msgChannelSuccess           = 99
	msgChannelFailure           = 100
)

// Disconnect reason codes, RFC 4253 section 11.1.
const (
	DisconnectHostNotAllowedToConnect     uint32 = 1
	DisconnectProtocolError               uint32 = 2
	DisconnectKeyExchangeFailed           uint32 = 3
	DisconnectReserved                    uint32 = 4
	DisconnectMACError                    uint32 = 5
	DisconnectCompressionError            uint32 = 6
	DisconnectServiceNotAvailable         uint32 = 7
	DisconnectProtocolVersionNotSupported uint32 = 8
	DisconnectHostKeyNotVerifiable        uint32 = 9
	DisconnectConnectionLost              uint32 = 10
	DisconnectByApplication               uint32 = 11
	DisconnectTooManyConnections          uint32 = 12
	DisconnectAuthCancelledByUser         uint32 = 13
	DisconnectNoMoreAuthMethodsAvailable  uint32 = 14
	DisconnectIllegalUserName             uint32 = 15

	// The original engine reported failed authentication through its
	// own reason code past the RFC table.
	DisconnectAuthenticationError uint32 = 16
)

type disconnectMsg struct {
	Reason   uint32 `sshtype:"1"`
	Message  string
	Language string
}

// DisconnectError is returned when the peer sends, or the transport
// generates, an SSH_MSG_DISCONNECT. It is terminal for the session.
type DisconnectError struct {
	Reason  uint32
	Message string
}

func (d *DisconnectError) Error() string {
	return fmt.Sprintf("ssh2: disconnect reason %d: %s", d.Reason, d.Message)
}

type ignoreMsg struct {
	Data string `sshtype:"2"`
}

type unimplementedMsg struct {
	Sequence uint32 `sshtype:"3"`
}

type debugMsg struct {
	AlwaysDisplay bool `sshtype:"4"`
	Message       string
	Language      string
}

type serviceRequestMsg struct {
	Service string `sshtype:"5"`
}

type serviceAcceptMsg struct {
	Service string `sshtype:"6"`
}

// KexInitMsg is the algorithm negotiation message. It is exported so
// that handshake observers can record both sides' offers.
type KexInitMsg struct {
	Cookie                  [16]byte `sshtype:"20" json:"cookie"`
	KexAlgos                []string `json:"kex_algorithms"`
	ServerHostKeyAlgos      []string `json:"host_key_algorithms"`
	CiphersClientServer     []string `json:"client_to_server_ciphers"`
	CiphersServerClient     []string `json:"server_to_client_ciphers"`
	MACsClientServer        []string `json:"client_to_server_macs"`
	MACsServerClient        []string `json:"server_to_client_macs"`
	CompressionClientServer []string `json:"client_to_server_compression"`
	CompressionServerClient []string `json:"server_to_client_compression"`
	LanguagesClientServer   []string `json:"client_to_server_languages"`
	LanguagesServerClient   []string `json:"server_to_client_languages"`
	FirstKexFollows         bool     `json:"first_kex_follows"`
	Reserved                uint32   `json:"-"`
}

// NEWKEYS and USERAUTH_SUCCESS carry no fields; they are emitted as a
// bare type byte and decoded to these placeholder values.
type newKeysMsg struct{}

type userAuthSuccessMsg struct{}

type kexDHInitMsg struct {
	X *big.Int `sshtype:"30"`
}

type kexDHReplyMsg struct {
	HostKey   []byte `sshtype:"31"`
	Y         *big.Int
	Signature []byte
}

type kexDHGexRequestMsg struct {
	MinBits       uint32 `sshtype:"34"`
	PreferredBits uint32
	MaxBits       uint32
}

type kexDHGexGroupMsg struct {
	P *big.Int `sshtype:"31"`
	G *big.Int
}

type kexDHGexInitMsg struct {
	X *big.Int `sshtype:"32"`
}

type kexDHGexReplyMsg struct {
	HostKey   []byte `sshtype:"33"`
	Y         *big.Int
	Signature []byte
}

type kexECDHInitMsg struct {
	ClientPubKey []byte `sshtype:"30"`
}

type kexECDHReplyMsg struct {
	HostKey         []byte `sshtype:"31"`
	EphemeralPubKey []byte
	Signature       []byte
}

type userAuthRequestMsg struct {
	User    string `sshtype:"50"`
	Service string
	Method  string
	Payload []byte `ssh2:"rest"`
}

type userAuthFailureMsg struct {
	Methods        []string `sshtype:"51"`
	PartialSuccess bool
}

type userAuthBannerMsg struct {
	Message  string `sshtype:"53"`
	Language string
}

type userAuthPubKeyOkMsg struct {
	Algo   string `sshtype:"60"`
	PubKey []byte
}

type userAuthPasswdChangeReqMsg struct {
	Prompt   string `sshtype:"60"`
	Language string
}

type globalRequestMsg struct {
	Type      string `sshtype:"80"`
	WantReply bool
	Data      []byte `ssh2:"rest"`
}

type globalRequestSuccessMsg struct {
	Data []byte `sshtype:"81" ssh2:"rest"`
}

type globalRequestFailureMsg struct {
	Data []byte `sshtype:"82" ssh2:"rest"`
}

type channelOpenMsg struct {
	ChanType         string `sshtype:"90"`
	PeersID          uint32
	PeersWindow      uint32
	MaxPacketSize    uint32
	TypeSpecificData []byte `ssh2:"rest"`
}

type channelOpenConfirmMsg struct {
	PeersID          uint32 `sshtype:"91"`
	MyID             uint32
	MyWindow         uint32
	MaxPacketSize    uint32
	TypeSpecificData []byte `ssh2:"rest"`
}

// Channel open failure reason codes, RFC 4254 section 5.1.
type RejectionReason uint32

const (
	Prohibited RejectionReason = iota + 1
	ConnectionFailed
	UnknownChannelType
	ResourceShortage
)

func (r RejectionReason) String() string {
	switch r {
	case Prohibited:
		return "administratively prohibited"
	case ConnectionFailed:
		return "connect failed"
	case UnknownChannelType:
		return "unknown channel type"
	case ResourceShortage:
		return "resource shortage"
	}
	return "unknown reason"
}

type channelOpenFailureMsg struct {
	PeersID  uint32 `sshtype:"92"`
	Reason   RejectionReason
	Message  string
	Language string
}

// OpenChannelError is returned when the peer rejects a CHANNEL_OPEN.
type OpenChannelError struct {
	Reason  RejectionReason
	Message string
}

func (e *OpenChannelError) Error() string {
	return fmt.Sprintf("ssh2: rejected: %s (%s)", e.Reason, e.Message)
}

type windowAdjustMsg struct {
	PeersID         uint32 `sshtype:"93"`
	AdditionalBytes uint32
}

type channelDataMsg struct {
	PeersID uint32 `sshtype:"94"`
	Length  uint32
	Rest    []byte `ssh2:"rest"`
}

type channelExtendedDataMsg struct {
	PeersID  uint32 `sshtype:"95"`
	Datatype uint32
	Length   uint32
	Rest     []byte `ssh2:"rest"`
}

type channelEOFMsg struct {
	PeersID uint32 `sshtype:"96"`
}

type channelCloseMsg struct {
	PeersID uint32 `sshtype:"97"`
}

type channelRequestMsg struct {
	PeersID             uint32 `sshtype:"98"`
	Request             string
	WantReply           bool
	RequestSpecificData []byte `ssh2:"rest"`
}

type channelRequestSuccessMsg struct {
	PeersID uint32 `sshtype:"99"`
}

type channelRequestFailureMsg struct {
	PeersID uint32 `sshtype:"100"`
}

// decode parses an incoming packet into its typed message for
// dispatch and debug display.
func decode(packet []byte) (interface{}, error) {
	var msg interface{}
	switch packet[0] {
	case msgDisconnect:
		msg = new(disconnectMsg)
	case msgIgnore:
		msg = new(ignoreMsg)
	case msgUnimplemented:
		msg = new(unimplementedMsg)
	case msgDebug:
		msg = new(debugMsg)
	case msgServiceRequest:
		msg = new(serviceRequestMsg)
	case msgServiceAccept:
		msg = new(serviceAcceptMsg)
	case msgKexInit:
		msg = new(KexInitMsg)
	case msgKexDHInit:
		msg = new(kexDHInitMsg)
	case msgKexDHReply:
		msg = new(kexDHReplyMsg)
	case msgNewKeys:
		return new(newKeysMsg), nil
	case msgUserAuthSuccess:
		return new(userAuthSuccessMsg), nil
	case msgUserAuthRequest:
		msg = new(userAuthRequestMsg)
	case msgUserAuthFailure:
		msg = new(userAuthFailureMsg)
	case msgUserAuthBanner:
		msg = new(userAuthBannerMsg)
	case msgGlobalRequest:
		msg = new(globalRequestMsg)
	case msgRequestSuccess:
		msg = new(globalRequestSuccessMsg)
	case msgRequestFailure:
		msg = new(globalRequestFailureMsg)
	case msgChannelOpen:
		msg = new(channelOpenMsg)
	case msgChannelOpenConfirm:
		msg = new(channelOpenConfirmMsg)
	case msgChannelOpenFailure:
		msg = new(channelOpenFailureMsg)
	case msgChannelWindowAdjust:
		msg = new(windowAdjustMsg)
	case msgChannelData:
		msg = new(channelDataMsg)
	case msgChannelExtendedData:
		msg = new(channelExtendedDataMsg)
	case msgChannelEOF:
		msg = new(channelEOFMsg)
	case msgChannelClose:
		msg = new(channelCloseMsg)
	case msgChannelRequest:
		msg = new(channelRequestMsg)
	case msgChannelSuccess:
		msg = new(channelRequestSuccessMsg)
	case msgChannelFailure:
		msg = new(channelRequestFailureMsg)
	default:
		return nil, unexpectedMessageError(0, packet[0])
	}
	if err := Unmarshal(packet, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

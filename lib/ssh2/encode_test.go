package ssh2

import (
	"bytes"
	"math/big"
	"reflect"
	"testing"
)

func TestMpintRoundTrip(t *testing.T) {
	cases := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(127),
		big.NewInt(128), // forces the leading zero byte
		big.NewInt(255),
		big.NewInt(256),
		big.NewInt(-1),
		big.NewInt(-128),
		new(big.Int).Lsh(big.NewInt(1), 521),
	}
	for _, want := range cases {
		buf := appendMpint(nil, want)
		got, rest, ok := parseMpint(buf)
		if !ok {
			t.Fatalf("parseMpint(% x) failed", buf)
		}
		if len(rest) != 0 {
			t.Errorf("parseMpint(% x): %d trailing bytes", buf, len(rest))
		}
		if got.Cmp(want) != 0 {
			t.Errorf("round trip of %v gave %v", want, got)
		}
	}
}

func TestMpintEncoding(t *testing.T) {
	// Zero is the empty string.
	if got := appendMpint(nil, big.NewInt(0)); !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Errorf("mpint(0) = % x, want empty string", got)
	}
	// A positive number with the MSB set gets a zero byte prefix.
	if got := appendMpint(nil, big.NewInt(0x80)); !bytes.Equal(got, []byte{0, 0, 0, 2, 0, 0x80}) {
		t.Errorf("mpint(0x80) = % x", got)
	}
}

func TestNameListRoundTrip(t *testing.T) {
	cases := [][]string{
		nil,
		{"aes128-ctr"},
		{"aes128-ctr", "hmac-sha1", "none"},
	}
	for _, want := range cases {
		buf := appendNameList(nil, want)
		got, rest, ok := parseNameList(buf)
		if !ok || len(rest) != 0 {
			t.Fatalf("parseNameList(% x) failed", buf)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip of %v gave %v", want, got)
		}
	}
}

func TestStringAndBoolRoundTrip(t *testing.T) {
	buf := appendString(nil, "hello")
	buf = appendBool(buf, true)
	buf = appendBool(buf, false)
	buf = appendU32(buf, 0xdeadbeef)

	s, buf, ok := parseString(buf)
	if !ok || string(s) != "hello" {
		t.Fatalf("parseString gave %q", s)
	}
	b1, buf, _ := parseBool(buf)
	b2, buf, _ := parseBool(buf)
	if !b1 || b2 {
		t.Errorf("bools round tripped as %v, %v", b1, b2)
	}
	u, buf, _ := parseU32(buf)
	if u != 0xdeadbeef || len(buf) != 0 {
		t.Errorf("uint32 round tripped as %x with %d bytes left", u, len(buf))
	}
}

func TestMarshalUnmarshalMessages(t *testing.T) {
	cases := []interface{}{
		&disconnectMsg{Reason: DisconnectProtocolError, Message: "bad", Language: "en"},
		&serviceRequestMsg{Service: serviceUserAuth},
		&serviceAcceptMsg{Service: serviceUserAuth},
		&kexDHInitMsg{X: big.NewInt(42424242)},
		&userAuthRequestMsg{User: "u", Service: serviceSSH, Method: "none", Payload: []byte{}},
		&userAuthFailureMsg{Methods: []string{"publickey", "password"}, PartialSuccess: true},
		&channelOpenMsg{ChanType: "session", PeersID: 3, PeersWindow: 1 << 20, MaxPacketSize: 1 << 15, TypeSpecificData: []byte{}},
		&channelOpenConfirmMsg{PeersID: 3, MyID: 4, MyWindow: 99, MaxPacketSize: 32768, TypeSpecificData: []byte{}},
		&channelOpenFailureMsg{PeersID: 3, Reason: Prohibited, Message: "no", Language: "en"},
		&windowAdjustMsg{PeersID: 1, AdditionalBytes: 4096},
		&channelRequestMsg{PeersID: 2, Request: "exec", WantReply: true, RequestSpecificData: appendString(nil, "ls")},
		&channelEOFMsg{PeersID: 9},
		&channelCloseMsg{PeersID: 9},
		&globalRequestMsg{Type: "tcpip-forward", WantReply: true, Data: []byte{1, 2, 3}},
	}

	for _, want := range cases {
		packet := Marshal(want)
		got := reflect.New(reflect.TypeOf(want).Elem()).Interface()
		if err := Unmarshal(packet, got); err != nil {
			t.Fatalf("Unmarshal(%T): %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip of %T:\n got %#v\nwant %#v", want, got, want)
		}
	}
}

func TestKexInitRoundTrip(t *testing.T) {
	want := &KexInitMsg{
		KexAlgos:                defaultKexAlgos,
		ServerHostKeyAlgos:      supportedHostKeyAlgos,
		CiphersClientServer:     defaultCiphers,
		CiphersServerClient:     defaultCiphers,
		MACsClientServer:        supportedMACs,
		MACsServerClient:        supportedMACs,
		CompressionClientServer: supportedCompressions,
		CompressionServerClient: supportedCompressions,
	}
	copy(want.Cookie[:], []byte("0123456789abcdef"))

	var got KexInitMsg
	if err := Unmarshal(Marshal(want), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(&got, want) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", &got, want)
	}
}

func TestUnmarshalWrongType(t *testing.T) {
	packet := Marshal(&serviceRequestMsg{Service: "x"})
	var msg serviceAcceptMsg
	if err := Unmarshal(packet, &msg); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestUnmarshalShortPacket(t *testing.T) {
	var msg channelOpenMsg
	if err := Unmarshal([]byte{msgChannelOpen, 0, 0}, &msg); err == nil {
		t.Error("expected short read error")
	}
}

func TestDecodeKnownMessages(t *testing.T) {
	p := Marshal(&channelDataMsg{PeersID: 7, Length: 3, Rest: []byte("abc")})
	msg, err := decode(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := msg.(*channelDataMsg)
	if !ok || data.PeersID != 7 || string(data.Rest) != "abc" {
		t.Errorf("decode gave %#v", msg)
	}
}

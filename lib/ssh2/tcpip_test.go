package ssh2

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// directTCPIPServer accepts direct-tcpip channels, reports the
// requested destination, and echoes the stream back.
func directTCPIPServer(chans <-chan NewChannel, seen chan<- string) {
	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			newCh.Reject(UnknownChannelType, "unknown channel type")
			continue
		}
		var payload struct {
			DestAddr   string
			DestPort   uint32
			OriginAddr string
			OriginPort uint32
		}
		if err := Unmarshal(newCh.ExtraData(), &payload); err != nil {
			newCh.Reject(ConnectionFailed, "bad payload")
			continue
		}
		seen <- payload.DestAddr
		ch, reqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go DiscardRequests(reqs)
		go func() {
			defer ch.Close()
			io.Copy(ch, ch)
		}()
	}
}

func TestDirectTCPIP(t *testing.T) {
	userKey := testEd25519Signer(t)
	serverConf := baseServerConfig(t, userKey.PublicKey())
	clientConf := &ClientConfig{
		User: "alice",
		Auth: []AuthMethod{PublicKeys(userKey)},
	}

	c1, c2, err := netPipe()
	require.NoError(t, err)

	seen := make(chan string, 1)
	go func() {
		conn, chans, reqs, err := NewServerConn(c2, serverConf)
		if err != nil {
			return
		}
		defer conn.Close()
		go DiscardRequests(reqs)
		directTCPIPServer(chans, seen)
	}()

	clientC, chans, reqs, err := NewClientConn(c1, "127.0.0.1:22", clientConf)
	require.NoError(t, err)
	defer clientC.Close()
	client := NewClient(clientC, chans, reqs)

	conn, err := client.Dial("tcp", "db.internal.example:5432")
	require.NoError(t, err)
	require.Equal(t, "db.internal.example", <-seen)

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
	require.NoError(t, conn.Close())
}

func TestDirectTCPIPRejected(t *testing.T) {
	userKey := testEd25519Signer(t)
	serverConf := baseServerConfig(t, userKey.PublicKey())
	clientConf := &ClientConfig{
		User: "alice",
		Auth: []AuthMethod{PublicKeys(userKey)},
	}

	c1, c2, err := netPipe()
	require.NoError(t, err)

	go func() {
		conn, chans, reqs, err := NewServerConn(c2, serverConf)
		if err != nil {
			return
		}
		defer conn.Close()
		go DiscardRequests(reqs)
		for newCh := range chans {
			newCh.Reject(Prohibited, "forwarding disabled")
		}
	}()

	clientC, chans, reqs, err := NewClientConn(c1, "127.0.0.1:22", clientConf)
	require.NoError(t, err)
	defer clientC.Close()
	client := NewClient(clientC, chans, reqs)

	_, err = client.Dial("tcp", "db.internal.example:5432")
	var openErr *OpenChannelError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, Prohibited, openErr.Reason)
}

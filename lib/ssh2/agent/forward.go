package agent

import (
	"errors"
	"io"
	"net"
	"os"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

// channelType is the channel carrying forwarded agent frames.
const channelType = "auth-agent@ssh.com"

// RequestAgentForwarding asks the peer to forward agent requests
// arising on the session's remote side back over the connection.
func RequestAgentForwarding(session *ssh2.Session) error {
	ok, err := session.SendRequest("auth-agent-req@ssh.com", true, nil)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("agent: forwarding request denied")
	}
	return nil
}

// ForwardToAgent routes incoming agent channels on client to the
// local agent socket from the environment. It must be called before
// RequestAgentForwarding.
func ForwardToAgent(client *ssh2.Client) error {
	return ForwardToLocal(client, func() (net.Conn, error) {
		path := os.Getenv(EnvAuthSock)
		if path == "" {
			return nil, errors.New("agent: " + EnvAuthSock + " not set")
		}
		return net.Dial("unix", path)
	})
}

// ForwardToLocal routes incoming agent channels on client to the
// agent connection produced by dial.
func ForwardToLocal(client *ssh2.Client, dial func() (net.Conn, error)) error {
	channels := client.HandleChannelOpen(channelType)
	if channels == nil {
		return errors.New("agent: already have handler for " + channelType)
	}

	go func() {
		for ch := range channels {
			channel, reqs, err := ch.Accept()
			if err != nil {
				continue
			}
			go ssh2.DiscardRequests(reqs)
			go func() {
				defer channel.Close()
				conn, err := dial()
				if err != nil {
					return
				}
				defer conn.Close()
				splice(channel, conn)
			}()
		}
	}()
	return nil
}

// OpenForwarded opens an agent channel towards the peer and speaks
// the agent protocol through it. This is the server-side entry point
// once a session has requested agent forwarding.
func OpenForwarded(conn ssh2.Conn) (*Client, error) {
	ch, reqs, err := conn.OpenChannel(channelType, nil)
	if err != nil {
		return nil, err
	}
	go ssh2.DiscardRequests(reqs)
	return NewClient(ch), nil
}

func splice(a io.ReadWriter, b io.ReadWriter) {
	done := make(chan struct{}, 1)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	io.Copy(b, a)
	<-done
}

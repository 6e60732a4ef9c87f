package agent

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"net"
	"testing"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

func netPipe() (net.Conn, net.Conn, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	defer listener.Close()
	c1, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		return nil, nil, err
	}
	c2, err := listener.Accept()
	if err != nil {
		c1.Close()
		return nil, nil, err
	}
	return c1, c2, nil
}

func testHostKey(t *testing.T) ssh2.Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh2.NewSignerFromKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// The happy path of publickey authentication with an agent-held key:
// the agent is the signing oracle, the client never touches the
// private key, and the first candidate the agent returns is probed,
// signed and accepted.
func TestAgentBackedPublicKeyAuth(t *testing.T) {
	client, _ := startAgent(t)
	priv, pub, _ := testKeyBlobs(t)
	if err := client.Add(priv, pub, "login key"); err != nil {
		t.Fatal(err)
	}

	serverConf := &ssh2.ServerConfig{}
	serverConf.AddHostKey(testHostKey(t))
	serverConf.PublicKeyCallback = func(conn ssh2.ConnMetadata, key ssh2.PublicKey) (*ssh2.Permissions, error) {
		if string(key.Marshal()) == string(pub) {
			return &ssh2.Permissions{}, nil
		}
		return nil, errors.New("unknown key")
	}

	clientConf := &ssh2.ClientConfig{
		User:            "alice",
		Auth:            []ssh2.AuthMethod{ssh2.PublicKeysCallback(client.Signers)},
		HostKeyCallback: ssh2.InsecureIgnoreHostKey(),
	}

	c1, c2, err := netPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	defer c2.Close()

	srvErr := make(chan error, 1)
	go func() {
		conn, chans, reqs, err := ssh2.NewServerConn(c2, serverConf)
		srvErr <- err
		if err != nil {
			return
		}
		go ssh2.DiscardRequests(reqs)
		for newCh := range chans {
			newCh.Reject(ssh2.Prohibited, "no channels in this test")
		}
		_ = conn
	}()

	conn, _, _, err := ssh2.NewClientConn(c1, "127.0.0.1:22", clientConf)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer conn.Close()
	if err := <-srvErr; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

// Forwarded agent frames traverse an auth-agent@ssh.com channel: the
// server side opens the channel and talks to the client's local agent
// through it.
func TestAgentForwardingChannel(t *testing.T) {
	srv := NewServer()
	priv, pub, _ := testKeyBlobs(t)
	if err := srv.AddKey(priv, pub, "forwarded"); err != nil {
		t.Fatal(err)
	}

	serverConf := &ssh2.ServerConfig{NoClientAuth: true}
	serverConf.AddHostKey(testHostKey(t))

	clientConf := &ssh2.ClientConfig{
		User:            "alice",
		HostKeyCallback: ssh2.InsecureIgnoreHostKey(),
	}

	c1, c2, err := netPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	defer c2.Close()

	type serverResult struct {
		conn ssh2.Conn
		err  error
	}
	results := make(chan serverResult, 1)
	go func() {
		conn, chans, reqs, err := ssh2.NewServerConn(c2, serverConf)
		if err != nil {
			results <- serverResult{nil, err}
			return
		}
		go ssh2.DiscardRequests(reqs)
		go func() {
			for newCh := range chans {
				newCh.Reject(ssh2.Prohibited, "unused")
			}
		}()
		results <- serverResult{conn, nil}
	}()

	clientC, chans, reqs, err := ssh2.NewClientConn(c1, "127.0.0.1:22", clientConf)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer clientC.Close()
	client := ssh2.NewClient(clientC, chans, reqs)

	res := <-results
	if res.err != nil {
		t.Fatalf("server handshake: %v", res.err)
	}

	// The client end splices agent channels to its local agent.
	if err := ForwardToLocal(client, func() (net.Conn, error) {
		a, b := net.Pipe()
		go srv.ServeConn(b)
		return a, nil
	}); err != nil {
		t.Fatalf("ForwardToLocal: %v", err)
	}

	remote, err := OpenForwarded(res.conn)
	if err != nil {
		t.Fatalf("OpenForwarded: %v", err)
	}
	keys, err := remote.List()
	if err != nil {
		t.Fatalf("List over forwarded channel: %v", err)
	}
	if len(keys) != 1 || keys[0].Description != "forwarded" {
		t.Errorf("forwarded listing = %#v", keys)
	}

	// The forwarding notice rides the same channel.
	if err := remote.ForwardingNotice("gateway.example", "gw:0", 22); err != nil {
		t.Errorf("ForwardingNotice: %v", err)
	}
}

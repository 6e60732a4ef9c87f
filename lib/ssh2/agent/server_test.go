package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestListenSocketLifecycle(t *testing.T) {
	lst, err := Listen("testuser-zssh2")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	wantDir := filepath.Join(os.TempDir(), "ssh-testuser-zssh2")
	if !strings.HasPrefix(lst.Path, wantDir) {
		t.Errorf("socket path %q not under %q", lst.Path, wantDir)
	}
	if want := fmt.Sprintf("ssh2-%d-agent", os.Getpid()); filepath.Base(lst.Path) != want {
		t.Errorf("socket name %q, want %q", filepath.Base(lst.Path), want)
	}

	info, err := os.Stat(wantDir)
	if err != nil {
		t.Fatalf("socket dir missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("socket dir mode %o, want 0700", perm)
	}

	// The socket serves the protocol.
	srv := NewServer()
	go srv.Serve(testContext(t), lst)

	conn, err := net.Dial("unix", lst.Path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewClient(conn)
	if _, err := client.Version(); err != nil {
		t.Fatalf("Version over socket: %v", err)
	}
	conn.Close()

	// Closing removes the socket and its directory.
	lst.Close()
	if _, err := os.Stat(lst.Path); !os.IsNotExist(err) {
		t.Errorf("socket file still present: %v", err)
	}
	if _, err := os.Stat(wantDir); !os.IsNotExist(err) {
		t.Errorf("socket dir still present: %v", err)
	}
}

// Program zssh2-agent runs the SSH2 authentication agent on a
// user-scoped socket, and offers subcommands to talk to a running
// agent.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
	"github.com/zmap/zssh2/lib/ssh2/agent"
)

var flags struct {
	Parent   int `flag:"watch-parent,PID to watch; the agent exits when it disappears"`
	Interval int `flag:"watch-interval,Parent probe interval in seconds (default 10)"`
}

func main() {
	root := &command.C{
		Name:     command.ProgramName(),
		Help:     "Hold SSH2 private keys in memory and sign on behalf of clients.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name: "run",
				Help: "Serve the agent until interrupted.",
				Run:  command.Adapt(runServe),
			},
			{
				Name:  "add",
				Usage: "<key-file> [passphrase]",
				Help:  "Load a private key file into the running agent.",
				Run:   command.Adapt(runAdd),
			},
			{
				Name: "list",
				Help: "List the public keys held by the running agent.",
				Run:  command.Adapt(runList),
			},
			{
				Name: "delete-all",
				Help: "Remove every key from the running agent.",
				Run:  command.Adapt(runDeleteAll),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	command.RunOrFail(root.NewEnv(nil).SetContext(ctx), os.Args[1:])
}

func runServe(env *command.Env) error {
	srv := agent.NewServer()
	srv.Logf = log.Printf

	u, err := user.Current()
	if err != nil {
		return err
	}
	lst, err := agent.Listen(u.Username)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer lst.Close()

	// The eval-able exports mirror the classic agent start-up.
	fmt.Printf("%s=%s; export %s;\n", agent.EnvAuthSock, lst.Path, agent.EnvAuthSock)
	fmt.Printf("%s=%d; export %s;\n", agent.EnvAgentPID, os.Getpid(), agent.EnvAgentPID)

	if flags.Parent != 0 {
		agent.WatchParent(flags.Parent, time.Duration(flags.Interval)*time.Second)
	}

	srv.Serve(env.Context(), lst)
	return nil
}

func dialAgent() (*agent.Client, error) {
	client, _, err := agent.Dial()
	return client, err
}

func runAdd(env *command.Env, keyFile string, rest ...string) error {
	passphrase := ""
	if len(rest) > 0 {
		passphrase = rest[0]
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}
	raw, comment, err := ssh2.ParseRawPrivateKeyFile(data, passphrase)
	if err != nil {
		return err
	}
	privBlob, err := ssh2.MarshalPrivateKeyBlob(raw)
	if err != nil {
		return err
	}
	signer, err := ssh2.NewSignerFromKey(raw)
	if err != nil {
		return err
	}
	if comment == "" {
		comment = keyFile
	}

	client, err := dialAgent()
	if err != nil {
		return err
	}
	return client.Add(privBlob, signer.PublicKey().Marshal(), comment)
}

func runList(env *command.Env) error {
	client, err := dialAgent()
	if err != nil {
		return err
	}
	keys, err := client.List()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("The agent has no keys.")
		return nil
	}
	for i, key := range keys {
		pub, err := ssh2.ParsePublicKey(key.Blob)
		kind := "unparseable"
		if err == nil {
			kind = pub.Type()
		}
		fmt.Printf("%2d. %s %s (%d bytes)\n", i+1, kind, key.Description, len(key.Blob))
	}
	return nil
}

func runDeleteAll(env *command.Env) error {
	client, err := dialAgent()
	if err != nil {
		return err
	}
	return client.RemoveAll()
}

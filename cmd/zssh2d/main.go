// Command zssh2d is a minimal SSH2 server daemon built on the engine
// in lib/ssh2. It authenticates clients against an authorized-keys
// directory, runs exec requests, and exposes prometheus metrics.
package main

import (
	"encoding/binary"
	"net"
	"net/http"
	"os"
	"os/exec"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	flags "github.com/zmap/zflags"

	zssh2 "github.com/zmap/zssh2"
	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

// Options are the command line flags of the daemon.
type Options struct {
	ConfigFile string `short:"c" long:"config" default:"zssh2d.yaml" description:"Path to the YAML daemon configuration"`
	LogLevel   string `long:"log-level" description:"Override the configured log level"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	cfg, err := zssh2.LoadDaemonConfig(opts.ConfigFile)
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}
	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if err := zssh2.InitLogging(level); err != nil {
		log.Fatalf("could not configure logging: %v", err)
	}

	registry := prometheus.NewRegistry()
	monitor := zssh2.NewMonitor(registry)
	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			log.WithField("address", cfg.MetricsAddress).Info("serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	serverConf, err := cfg.ServerConfig()
	if err != nil {
		log.Fatalf("could not build server config: %v", err)
	}
	serverConf.AuthLogCallback = zssh2.AuthLog(monitor)

	lst, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("could not listen on %s: %v", cfg.ListenAddress, err)
	}
	log.WithField("address", cfg.ListenAddress).Info("listening")

	for {
		conn, err := lst.Accept()
		if err != nil {
			log.WithError(err).Error("accept failed")
			continue
		}
		go serve(conn, serverConf, monitor)
	}
}

func serve(conn net.Conn, config *ssh2.ServerConfig, monitor *zssh2.Monitor) {
	defer conn.Close()

	serverConn, chans, reqs, err := ssh2.NewServerConn(conn, config)
	monitor.Handshake(err)
	if err != nil {
		log.WithField("remote", conn.RemoteAddr()).WithError(err).Info("handshake failed")
		return
	}
	log.WithFields(log.Fields{
		"remote": conn.RemoteAddr(),
		"user":   serverConn.User(),
	}).Info("session established")

	go ssh2.DiscardRequests(reqs)

	var forced string
	if serverConn.Permissions != nil {
		forced = serverConn.Permissions.ForcedCommand
	}

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh2.UnknownChannelType, "only session channels are served")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		monitor.ChannelOpened()
		go func() {
			defer monitor.ChannelClosed()
			serveSession(ch, requests, forced)
		}()
	}
}

// serveSession handles the requests of one session channel. Only exec
// is honoured; interactive shells and ptys are outside this daemon's
// remit.
func serveSession(ch ssh2.Channel, requests <-chan *ssh2.Request, forced string) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var msg struct{ Command string }
			if err := ssh2.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			command := msg.Command
			if forced != "" {
				// The key's forced command wins over whatever the
				// client asked for.
				command = forced
			}
			runCommand(ch, command)
			return
		case "env":
			// Accepted and discarded: the daemon runs commands in a
			// clean environment.
			req.Reply(true, nil)
		default:
			req.Reply(false, nil)
		}
	}
}

func runCommand(ch ssh2.Channel, command string) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = ch
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()

	status := 0
	if err := cmd.Run(); err != nil {
		status = 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		}
		log.WithError(err).Info("command failed")
	}

	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], uint32(status))
	ch.SendRequest("exit-status", false, payload[:])
	ch.CloseWrite()
}

package zssh2

import (
	"net"

	log "github.com/sirupsen/logrus"

	ssh2 "github.com/zmap/zssh2/lib/ssh2"
)

// InitLogging configures the process-wide logrus defaults.
func InitLogging(level string) error {
	if level == "" {
		level = "info"
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

// AuthLog returns an AuthLogCallback for the engine. Failed
// authentications are security relevant and log at warning; the rest
// of the session lifecycle logs at info.
func AuthLog(m *Monitor) func(conn ssh2.ConnMetadata, method string, err error) {
	return func(conn ssh2.ConnMetadata, method string, err error) {
		if m != nil {
			m.AuthAttempt(method, err)
		}
		fields := log.Fields{
			"user":   conn.User(),
			"method": method,
			"remote": addrString(conn.RemoteAddr()),
		}
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("authentication failed")
			return
		}
		log.WithFields(fields).Info("authentication succeeded")
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

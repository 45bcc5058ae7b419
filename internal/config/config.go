package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"/var/lib/shellgate"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/var/lib/shellgate/shellgate.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8000"`
	SSHAddr  string `envconfig:"SSH_ADDR" default:":2200"`

	// Terminal session settings
	SessionTTL  string `envconfig:"SESSION_TTL" default:"30m"`
	MaxSessions int    `envconfig:"MAX_SESSIONS" default:"64"`

	// TerminalDriver selects how the gateway reaches a node's shell:
	// "ssh" uses the in-process SSH client, "exec" spawns an ssh client
	// subprocess attached to a local PTY.
	TerminalDriver string `envconfig:"TERMINAL_DRIVER" default:"ssh"`
	SSHClientPath  string `envconfig:"SSH_CLIENT_PATH" default:"ssh"`

	// ProxyACLPath points at the YAML key table for the SSH front door.
	// Empty disables the SSH listener.
	ProxyACLPath string `envconfig:"PROXY_ACL_PATH" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// TTL returns the parsed session TTL, falling back to 30 minutes if the
// configured value does not parse.
func TTL() time.Duration {
	d, err := time.ParseDuration(Cfg.SessionTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

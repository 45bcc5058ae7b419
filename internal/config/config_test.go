package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Load()
	if Cfg.HTTPAddr == "" || Cfg.SSHAddr == "" {
		t.Fatalf("listen addresses missing: %+v", Cfg)
	}
	if Cfg.MaxSessions <= 0 {
		t.Fatalf("max sessions = %d", Cfg.MaxSessions)
	}
}

func TestTTL(t *testing.T) {
	orig := Cfg.SessionTTL
	defer func() { Cfg.SessionTTL = orig }()

	cases := map[string]time.Duration{
		"45s":    45 * time.Second,
		"2h":     2 * time.Hour,
		"":       30 * time.Minute,
		"banana": 30 * time.Minute,
		"-5m":    30 * time.Minute,
	}
	for in, want := range cases {
		Cfg.SessionTTL = in
		if got := TTL(); got != want {
			t.Fatalf("TTL with %q = %s, want %s", in, got, want)
		}
	}
}

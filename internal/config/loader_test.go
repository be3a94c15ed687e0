package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAppConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadAppConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}

	if cfg.Server.Port != 13478 {
		t.Errorf("port = %d, want default 13478", cfg.Server.Port)
	}
	if !cfg.Rooms.WaitingRoomDefault {
		t.Error("waiting room default should be enabled")
	}
	if cfg.Rooms.StaleParticipantTimeout != time.Minute {
		t.Errorf("stale timeout = %s, want 1m", cfg.Rooms.StaleParticipantTimeout)
	}
}

func TestLoadAppConfigMergesYAMLOverDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeFile(t, dir, "server.yaml", "port: 9000\n")
	writeFile(t, dir, "rooms.yaml", "waitingRoomDefault: false\nstaleParticipantTimeout: 30s\n")

	cfg, err := LoadAppConfig(dir)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.PingInterval != 30000 {
		t.Errorf("pingInterval = %d, untouched fields must keep defaults", cfg.Server.PingInterval)
	}
	if cfg.Rooms.WaitingRoomDefault {
		t.Error("waitingRoomDefault not overridden")
	}
	if cfg.Rooms.StaleParticipantTimeout != 30*time.Second {
		t.Errorf("stale timeout = %s, want 30s", cfg.Rooms.StaleParticipantTimeout)
	}
	if cfg.Rooms.ChatHistoryLimit != 200 {
		t.Errorf("chatHistoryLimit = %d, want default 200", cfg.Rooms.ChatHistoryLimit)
	}
}

func TestLoadAppConfigJSONFallback(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeFile(t, dir, "server.json", `{"port": 8443, "publicIp": "203.0.113.5"}`)

	cfg, err := LoadAppConfig(dir)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.Server.PublicIP != "203.0.113.5" {
		t.Errorf("publicIp = %q, want 203.0.113.5", cfg.Server.PublicIP)
	}
}

func TestLoadAppConfigRejectsBadNetwork(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeFile(t, dir, "security.yaml", "adminsNetworks:\n  - not-a-cidr\n")

	if _, err := LoadAppConfig(dir); err == nil {
		t.Fatal("expected an error for an unparsable admin network")
	}
}

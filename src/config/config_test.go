package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"BROKER_URL", "DB_PATH", "LISTEN_PORT", "PRIVATE_MODE_CODE", "SNAPSHOT_INTERVAL_SECONDS", "BEHIND_PROXY"} {
		os.Unsetenv(k)
	}

	c := Load()
	if c.DBPath != "data/control_plane.db" {
		t.Fatalf("unexpected DBPath default: %s", c.DBPath)
	}
	if c.ListenPort != "8090" {
		t.Fatalf("unexpected ListenPort default: %s", c.ListenPort)
	}
	if c.PrivateModeCode != "unlock" {
		t.Fatalf("unexpected PrivateModeCode default: %s", c.PrivateModeCode)
	}
	if c.SnapshotInterval != 60*time.Second {
		t.Fatalf("unexpected SnapshotInterval default: %s", c.SnapshotInterval)
	}
	if c.BrokerURL != "" {
		t.Fatalf("expected empty BrokerURL default, got %s", c.BrokerURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/custom.db")
	t.Setenv("SNAPSHOT_INTERVAL_SECONDS", "15")
	t.Setenv("PRIVATE_MODE_CODE", "letmein")

	c := Load()
	if c.DBPath != "/tmp/custom.db" {
		t.Fatalf("DBPath override not applied: %s", c.DBPath)
	}
	if c.SnapshotInterval != 15*time.Second {
		t.Fatalf("SnapshotInterval override not applied: %s", c.SnapshotInterval)
	}
	if c.PrivateModeCode != "letmein" {
		t.Fatalf("PrivateModeCode override not applied: %s", c.PrivateModeCode)
	}
}

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/simcircuit/internal/config"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadClientConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.toml")
	if err := config.WriteTemplate(base, "client", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	overrides := writeConfig(t, dir, "login.toml", `
simulator_addr = "10.1.2.3:13000"
circuit_code = 424242
agent_id = "aaaaaaaa-0000-0000-0000-000000000001"
session_id = "bbbbbbbb-0000-0000-0000-000000000002"
cors_origins = [" http://viewer.local ", ""]

[circuit]
max_retries = 5
resend_initial_delay = "250ms"
`)

	cfg, err := loadClientConfig(base, overrides)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SimulatorAddr != "10.1.2.3:13000" {
		t.Fatalf("unexpected simulator addr: %q", cfg.SimulatorAddr)
	}
	if cfg.CircuitCode != 424242 {
		t.Fatalf("unexpected circuit code: %d", cfg.CircuitCode)
	}
	if cfg.AgentID != "aaaaaaaa-0000-0000-0000-000000000001" {
		t.Fatalf("unexpected agent id: %q", cfg.AgentID)
	}
	if len(cfg.CorsOrigins) != 1 || cfg.CorsOrigins[0] != "http://viewer.local" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CorsOrigins)
	}
	if cfg.DebugAddr != "127.0.0.1:9100" {
		t.Fatalf("base debug addr should survive: %q", cfg.DebugAddr)
	}
	if cfg.Circuit.MaxRetries != 5 || cfg.Circuit.ResendInitialDelay != "250ms" {
		t.Fatalf("unexpected circuit overrides: %+v", cfg.Circuit)
	}
	if cfg.Circuit.AckDelay != "100ms" {
		t.Fatalf("unset circuit key should keep base value: %q", cfg.Circuit.AckDelay)
	}

	opts, err := config.ClientOptions(cfg)
	if err != nil {
		t.Fatalf("client options: %v", err)
	}
	if opts.Circuit.MaxRetries != 5 || opts.Circuit.Resend.InitialDelay != 250*time.Millisecond {
		t.Fatalf("unexpected circuit options: %+v", opts.Circuit)
	}
}

func TestLoadClientConfigWithoutOverrides(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.toml")
	if err := config.WriteTemplate(base, "client", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := loadClientConfig(base, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SimulatorAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected simulator addr: %q", cfg.SimulatorAddr)
	}
}

func TestLoadClientConfigRejectsBadOverrides(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.toml")
	if err := config.WriteTemplate(base, "client", false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cases := map[string]string{
		"unknown key": `simulator_port = 9000`,
		"bad agent":   `agent_id = "not-a-uuid"`,
		"empty addr":  `simulator_addr = "  "`,
		"bad delay":   "[circuit]\nresend_initial_delay = \"later\"",
	}
	for name, content := range cases {
		path := writeConfig(t, dir, "bad.toml", content)
		if _, err := loadClientConfig(base, path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadClientConfig(base, filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("expected error for missing override file")
	}
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/simcircuit/internal/logging"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// ClientConfig is the on-disk configuration of circuitctl.
type ClientConfig struct {
	Name             string        `toml:"name"`
	SimulatorAddr    string        `toml:"simulator_addr"`
	CircuitCode      uint32        `toml:"circuit_code"`
	AgentID          string        `toml:"agent_id"`
	SessionID        string        `toml:"session_id"`
	TemplatePath     string        `toml:"template_path"`
	DebugAddr        string        `toml:"debug_addr"`
	DebugToken       string        `toml:"debug_token"`
	CorsOrigins      []string      `toml:"cors_origins"`
	HistoryCapacity  int           `toml:"history_capacity"`
	MaxBitsPerSecond float32       `toml:"max_bits_per_second"`
	LogLevel         string        `toml:"log_level"`
	Circuit          CircuitConfig `toml:"circuit"`
}

// CircuitConfig holds reliability settings. Durations use time.ParseDuration
// syntax; empty values keep the circuit defaults.
type CircuitConfig struct {
	TickInterval       string  `toml:"tick_interval"`
	AckDelay           string  `toml:"ack_delay"`
	WriteTimeout       string  `toml:"write_timeout"`
	MaxRetries         int     `toml:"max_retries"`
	MaxAcksPerPacket   int     `toml:"max_acks_per_packet"`
	DedupeWindow       int     `toml:"dedupe_window"`
	MaxPendingReliable int     `toml:"max_pending_reliable"`
	InboundQueue       int     `toml:"inbound_queue"`
	ResendInitialDelay string  `toml:"resend_initial_delay"`
	ResendMultiplier   float64 `toml:"resend_multiplier"`
	ResendMaxDelay     string  `toml:"resend_max_delay"`
	ResendJitter       bool    `toml:"resend_jitter"`
	MaxDatagramBytes   int     `toml:"max_datagram_bytes"`
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "circuitctl"
	}
	if cfg.DebugAddr == "" {
		cfg.DebugAddr = "127.0.0.1:9100"
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("client config missing name")
	}
	if strings.TrimSpace(cfg.SimulatorAddr) == "" {
		return fmt.Errorf("client config missing simulator_addr")
	}
	if _, err := parseUUID("agent_id", cfg.AgentID, true); err != nil {
		return err
	}
	if _, err := parseUUID("session_id", cfg.SessionID, false); err != nil {
		return err
	}
	if cfg.HistoryCapacity < 0 {
		return fmt.Errorf("history_capacity must not be negative")
	}
	if cfg.MaxBitsPerSecond < 0 {
		return fmt.Errorf("max_bits_per_second must not be negative")
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("unknown log_level: %s", cfg.LogLevel)
		}
	}
	if err := ValidateCircuitConfig(cfg.Circuit); err != nil {
		return fmt.Errorf("circuit invalid: %w", err)
	}
	return nil
}

func ValidateCircuitConfig(cfg CircuitConfig) error {
	durations := []struct {
		key, raw string
	}{
		{"tick_interval", cfg.TickInterval},
		{"ack_delay", cfg.AckDelay},
		{"write_timeout", cfg.WriteTimeout},
		{"resend_initial_delay", cfg.ResendInitialDelay},
		{"resend_max_delay", cfg.ResendMaxDelay},
	}
	for _, d := range durations {
		if _, err := parseDuration(d.key, d.raw); err != nil {
			return err
		}
	}
	if cfg.MaxRetries < 0 || cfg.MaxAcksPerPacket < 0 || cfg.DedupeWindow < 0 || cfg.MaxPendingReliable < 0 || cfg.InboundQueue < 0 {
		return fmt.Errorf("circuit limits must not be negative")
	}
	if cfg.MaxAcksPerPacket > 255 {
		return fmt.Errorf("max_acks_per_packet %d exceeds 255", cfg.MaxAcksPerPacket)
	}
	if cfg.ResendMultiplier < 0 {
		return fmt.Errorf("resend_multiplier must not be negative")
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func parseUUID(key, raw string, required bool) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return uuid.Nil, fmt.Errorf("client config missing %s", key)
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return id, nil
}

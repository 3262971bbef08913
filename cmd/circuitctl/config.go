package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/simcircuit/internal/config"
)

// overrideFile is a partial config layered over config.toml. Only keys present
// in the file replace the base values.
type overrideFile struct {
	SimulatorAddr    string          `toml:"simulator_addr"`
	CircuitCode      uint32          `toml:"circuit_code"`
	AgentID          string          `toml:"agent_id"`
	SessionID        string          `toml:"session_id"`
	TemplatePath     string          `toml:"template_path"`
	DebugAddr        string          `toml:"debug_addr"`
	DebugToken       string          `toml:"debug_token"`
	CorsOrigins      []string        `toml:"cors_origins"`
	HistoryCapacity  int             `toml:"history_capacity"`
	MaxBitsPerSecond float32         `toml:"max_bits_per_second"`
	LogLevel         string          `toml:"log_level"`
	Circuit          circuitOverride `toml:"circuit"`
}

type circuitOverride struct {
	AckDelay           string  `toml:"ack_delay"`
	MaxRetries         int     `toml:"max_retries"`
	ResendInitialDelay string  `toml:"resend_initial_delay"`
	ResendMultiplier   float64 `toml:"resend_multiplier"`
	ResendMaxDelay     string  `toml:"resend_max_delay"`
	ResendJitter       bool    `toml:"resend_jitter"`
}

// loadClientConfig reads the base config and applies an optional override
// file, typically a per-session login result.
func loadClientConfig(basePath, overridePath string) (config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig(basePath)
	if err != nil {
		return config.ClientConfig{}, err
	}
	if strings.TrimSpace(overridePath) == "" {
		return cfg, nil
	}

	var raw overrideFile
	meta, err := toml.DecodeFile(overridePath, &raw)
	if err != nil {
		return config.ClientConfig{}, fmt.Errorf("load circuitctl overrides: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.ClientConfig{}, fmt.Errorf("unknown override key: %s", undecoded[0])
	}

	if meta.IsDefined("simulator_addr") {
		cfg.SimulatorAddr = strings.TrimSpace(raw.SimulatorAddr)
	}
	if meta.IsDefined("circuit_code") {
		cfg.CircuitCode = raw.CircuitCode
	}
	if meta.IsDefined("agent_id") {
		cfg.AgentID = strings.TrimSpace(raw.AgentID)
	}
	if meta.IsDefined("session_id") {
		cfg.SessionID = strings.TrimSpace(raw.SessionID)
	}
	if meta.IsDefined("template_path") {
		cfg.TemplatePath = strings.TrimSpace(raw.TemplatePath)
	}
	if meta.IsDefined("debug_addr") {
		cfg.DebugAddr = strings.TrimSpace(raw.DebugAddr)
	}
	if meta.IsDefined("debug_token") {
		cfg.DebugToken = strings.TrimSpace(raw.DebugToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("history_capacity") {
		cfg.HistoryCapacity = raw.HistoryCapacity
	}
	if meta.IsDefined("max_bits_per_second") {
		cfg.MaxBitsPerSecond = raw.MaxBitsPerSecond
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("circuit", "ack_delay") {
		cfg.Circuit.AckDelay = raw.Circuit.AckDelay
	}
	if meta.IsDefined("circuit", "max_retries") {
		cfg.Circuit.MaxRetries = raw.Circuit.MaxRetries
	}
	if meta.IsDefined("circuit", "resend_initial_delay") {
		cfg.Circuit.ResendInitialDelay = raw.Circuit.ResendInitialDelay
	}
	if meta.IsDefined("circuit", "resend_multiplier") {
		cfg.Circuit.ResendMultiplier = raw.Circuit.ResendMultiplier
	}
	if meta.IsDefined("circuit", "resend_max_delay") {
		cfg.Circuit.ResendMaxDelay = raw.Circuit.ResendMaxDelay
	}
	if meta.IsDefined("circuit", "resend_jitter") {
		cfg.Circuit.ResendJitter = raw.Circuit.ResendJitter
	}

	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

package config

import (
	"time"

	"github.com/danmuck/simcircuit/internal/client"
	"github.com/danmuck/simcircuit/internal/debugapi"
	"github.com/danmuck/simcircuit/internal/protocol/circuit"
	"github.com/danmuck/simcircuit/internal/protocol/template"
)

// ClientSession builds the login identifiers for client.New.
func ClientSession(cfg ClientConfig) (client.Session, error) {
	agent, err := parseUUID("agent_id", cfg.AgentID, true)
	if err != nil {
		return client.Session{}, err
	}
	session, err := parseUUID("session_id", cfg.SessionID, false)
	if err != nil {
		return client.Session{}, err
	}
	return client.Session{
		Address:     cfg.SimulatorAddr,
		CircuitCode: cfg.CircuitCode,
		AgentID:     agent,
		SessionID:   session,
	}, nil
}

// ClientOptions maps the file settings onto client.Config. Unset values keep
// their defaults.
func ClientOptions(cfg ClientConfig) (client.Config, error) {
	circ, err := CircuitOptions(cfg.Circuit)
	if err != nil {
		return client.Config{}, err
	}
	circ.Name = cfg.Name
	out := client.DefaultConfig()
	out.Circuit = circ
	if cfg.HistoryCapacity > 0 {
		out.HistoryCapacity = cfg.HistoryCapacity
	}
	if cfg.MaxBitsPerSecond > 0 {
		out.MaxBitsPerSecond = cfg.MaxBitsPerSecond
	}
	return out.WithDefaults(), nil
}

func CircuitOptions(cfg CircuitConfig) (circuit.Config, error) {
	out := circuit.DefaultConfig()
	var err error
	set := func(dst *time.Duration, key, raw string) {
		if err != nil {
			return
		}
		var d time.Duration
		if d, err = parseDuration(key, raw); err == nil && d > 0 {
			*dst = d
		}
	}
	set(&out.TickInterval, "tick_interval", cfg.TickInterval)
	set(&out.AckDelay, "ack_delay", cfg.AckDelay)
	set(&out.WriteTimeout, "write_timeout", cfg.WriteTimeout)
	set(&out.Resend.InitialDelay, "resend_initial_delay", cfg.ResendInitialDelay)
	set(&out.Resend.MaxDelay, "resend_max_delay", cfg.ResendMaxDelay)
	if err != nil {
		return circuit.Config{}, err
	}
	if cfg.MaxRetries > 0 {
		out.MaxRetries = cfg.MaxRetries
	}
	if cfg.MaxAcksPerPacket > 0 {
		out.MaxAcksPerPacket = cfg.MaxAcksPerPacket
	}
	if cfg.DedupeWindow > 0 {
		out.DedupeWindow = cfg.DedupeWindow
	}
	if cfg.MaxPendingReliable > 0 {
		out.MaxPendingReliable = cfg.MaxPendingReliable
	}
	if cfg.InboundQueue > 0 {
		out.InboundQueue = cfg.InboundQueue
	}
	if cfg.ResendMultiplier > 0 {
		out.Resend.Multiplier = cfg.ResendMultiplier
	}
	if cfg.MaxDatagramBytes > 0 {
		out.Limits.MaxDatagramBytes = cfg.MaxDatagramBytes
	}
	out.Resend.Jitter = cfg.ResendJitter
	if err := out.Validate(); err != nil {
		return circuit.Config{}, err
	}
	return out, nil
}

// DebugOptions builds the debug API settings.
func DebugOptions(cfg ClientConfig) debugapi.Config {
	out := debugapi.DefaultConfig()
	out.ID = cfg.Name
	if cfg.DebugAddr != "" {
		out.Addr = cfg.DebugAddr
	}
	out.CORSOrigins = append([]string(nil), cfg.CorsOrigins...)
	out.Token = cfg.DebugToken
	return out
}

// Registry loads the configured template file, or the built-in set when no
// path is given.
func Registry(cfg ClientConfig) (*template.Registry, error) {
	if cfg.TemplatePath == "" {
		return template.Builtin()
	}
	return template.Load(cfg.TemplatePath)
}

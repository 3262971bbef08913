package circuit

import (
	"fmt"
	"time"

	"github.com/danmuck/simcircuit/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines circuit reliability and queue limits.
type Config struct {
	// Name labels logs and metrics; defaults to the remote address.
	Name               string
	TickInterval       time.Duration
	AckDelay           time.Duration
	WriteTimeout       time.Duration
	MaxRetries         int
	MaxAcksPerPacket   int
	DedupeWindow       int
	MaxPendingReliable int
	InboundQueue       int
	SendQueue          int
	Resend             BackoffConfig
	Limits             frame.Limits
}

func DefaultConfig() Config {
	return Config{
		TickInterval:       100 * time.Millisecond,
		AckDelay:           100 * time.Millisecond,
		WriteTimeout:       5 * time.Second,
		MaxRetries:         3,
		MaxAcksPerPacket:   100,
		DedupeWindow:       300,
		MaxPendingReliable: 1024,
		InboundQueue:       256,
		SendQueue:          64,
		Resend: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       false,
		},
		Limits: frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.AckDelay <= 0 {
		c.AckDelay = d.AckDelay
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxAcksPerPacket <= 0 {
		c.MaxAcksPerPacket = d.MaxAcksPerPacket
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = d.DedupeWindow
	}
	if c.MaxPendingReliable <= 0 {
		c.MaxPendingReliable = d.MaxPendingReliable
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = d.InboundQueue
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.Resend.InitialDelay <= 0 {
		c.Resend = d.Resend
	}
	if c.Limits.MaxDatagramBytes <= 0 {
		c.Limits.MaxDatagramBytes = d.Limits.MaxDatagramBytes
	}
	if c.Limits.MaxBodyBytes <= 0 {
		c.Limits.MaxBodyBytes = d.Limits.MaxBodyBytes
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxAcksPerPacket > frame.MaxAcks {
		return fmt.Errorf("circuit: max_acks_per_packet %d exceeds %d", c.MaxAcksPerPacket, frame.MaxAcks)
	}
	if c.Resend.MaxDelay > 0 && c.Resend.MaxDelay < c.Resend.InitialDelay {
		return fmt.Errorf("circuit: resend max_delay %s below initial_delay %s", c.Resend.MaxDelay, c.Resend.InitialDelay)
	}
	return nil
}

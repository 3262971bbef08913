// Package client composes a circuit, a dispatcher and a history pool into one
// simulator connection.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/danmuck/simcircuit/internal/dispatch"
	"github.com/danmuck/simcircuit/internal/history"
	logs "github.com/danmuck/simcircuit/internal/logging"
	"github.com/danmuck/simcircuit/internal/protocol/circuit"
	"github.com/danmuck/simcircuit/internal/protocol/codec"
	"github.com/danmuck/simcircuit/internal/protocol/template"
	"github.com/google/uuid"
)

var (
	ErrAddressRequired  = errors.New("client: simulator address required")
	ErrAgentIDRequired  = errors.New("client: agent id required")
	ErrRegistryRequired = errors.New("client: template registry required")
	ErrAlreadyOpen      = errors.New("client: already open")
	ErrNotOpen          = errors.New("client: not open")
	ErrClosed           = errors.New("client: closed")
)

// Throttle shares of the total bandwidth, in wire order: resend, land, wind,
// cloud, task, texture, asset.
var throttleShares = [7]float32{0.1, 0.1, 0.02, 0.02, 0.25, 0.26, 0.25}

// Session carries the identifiers handed out by the login service.
type Session struct {
	Address     string
	CircuitCode uint32
	AgentID     uuid.UUID
	SessionID   uuid.UUID
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return ErrAddressRequired
	}
	if s.AgentID == uuid.Nil {
		return ErrAgentIDRequired
	}
	return nil
}

type Config struct {
	Circuit         circuit.Config
	HistoryCapacity int

	// MaxBitsPerSecond is split across the throttle categories by
	// SendAgentThrottle when no explicit rate is given.
	MaxBitsPerSecond float32
}

func DefaultConfig() Config {
	return Config{
		Circuit:          circuit.DefaultConfig(),
		HistoryCapacity:  history.DefaultCapacity,
		MaxBitsPerSecond: 1_000_000,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.Circuit = c.Circuit.WithDefaults()
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = d.HistoryCapacity
	}
	if c.MaxBitsPerSecond <= 0 {
		c.MaxBitsPerSecond = d.MaxBitsPerSecond
	}
	return c
}

// Client owns one circuit. Listeners are registered on Dispatcher before Open;
// they run on the consumer goroutine only.
type Client struct {
	reg        *template.Registry
	cfg        Config
	session    Session
	dispatcher *dispatch.Dispatcher
	history    *history.Pool

	mu       sync.Mutex
	circ     *circuit.Circuit
	stop     chan struct{}
	consumed chan struct{}
	closed   bool
}

func New(reg *template.Registry, cfg Config, session Session) (*Client, error) {
	if reg == nil {
		return nil, ErrRegistryRequired
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if cfg.Circuit.Name == "" {
		cfg.Circuit.Name = session.Address
	}
	return &Client{
		reg:        reg,
		cfg:        cfg,
		session:    session,
		dispatcher: dispatch.New(),
		history:    history.NewPool(cfg.HistoryCapacity),
	}, nil
}

func (c *Client) Registry() *template.Registry     { return c.reg }
func (c *Client) Session() Session                 { return c.session }
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }
func (c *Client) History() *history.Pool           { return c.history }

// Open dials the simulator, starts consuming inbound messages and announces
// the agent with UseCircuitCode and CompleteAgentMovement.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.circ != nil {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	circ, err := circuit.Dial(ctx, c.session.Address, c.reg, c.cfg.Circuit)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.circ = circ
	c.stop = make(chan struct{})
	c.consumed = make(chan struct{})
	go c.consume(circ, c.stop, c.consumed)
	c.mu.Unlock()

	logs.Infof("client.Client.Open addr=%s circuit_code=%d agent=%s", c.session.Address, c.session.CircuitCode, c.session.AgentID)
	if err := c.sendUseCircuitCode(ctx); err != nil {
		_ = c.Close()
		return err
	}
	if err := c.sendCompleteAgentMovement(ctx); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *Client) consume(circ *circuit.Circuit, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	inbound := circ.Inbound()
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-inbound:
			if !ok {
				if err := circ.Err(); err != nil {
					logs.Errf("client.Client.consume circuit ended addr=%s err=%v", c.session.Address, err)
				}
				return
			}
			c.history.Inbound.Add(msg.Snapshot())
			c.dispatcher.Dispatch(msg)
		}
	}
}

// StartMessage returns a builder for the named message.
func (c *Client) StartMessage(name string) (*codec.OutMessage, error) {
	tmpl, err := c.reg.LookupByName(name)
	if err != nil {
		return nil, err
	}
	return codec.NewOutMessage(tmpl), nil
}

// Send queues out on the circuit and records it in the outbound history.
func (c *Client) Send(ctx context.Context, out *codec.OutMessage) (*circuit.Ticket, error) {
	circ, err := c.current()
	if err != nil {
		return nil, err
	}
	ticket, err := circ.Send(ctx, out)
	if err != nil {
		logs.Warnf("client.Client.Send message=%s err=%v", out.Name(), err)
		return nil, err
	}
	c.history.Outbound.Add(out.Snapshot())
	return ticket, nil
}

// SendChat says text on channel as a normal chat line.
func (c *Client) SendChat(ctx context.Context, text string, channel int32) (*circuit.Ticket, error) {
	out, err := c.StartMessage(template.MsgChatFromViewer)
	if err != nil {
		return nil, err
	}
	err = c.build(out,
		func() error { return out.AddUUID(c.session.AgentID) },
		func() error { return out.AddUUID(c.session.SessionID) },
		func() error { return out.AddString(text) },
		func() error { return out.AddU8(1) },
		func() error { return out.AddS32(channel) },
	)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, out)
}

// SendAgentThrottle announces the bandwidth budget. A non-positive rate uses
// the configured MaxBitsPerSecond.
func (c *Client) SendAgentThrottle(ctx context.Context, bitsPerSecond float32) (*circuit.Ticket, error) {
	if bitsPerSecond <= 0 {
		bitsPerSecond = c.cfg.MaxBitsPerSecond
	}
	out, err := c.StartMessage(template.MsgAgentThrottle)
	if err != nil {
		return nil, err
	}
	out.SetReliable(true)
	err = c.build(out,
		func() error { return out.AddUUID(c.session.AgentID) },
		func() error { return out.AddUUID(c.session.SessionID) },
		func() error { return out.AddU32(c.session.CircuitCode) },
		func() error { return out.AddU32(0) },
		func() error { return out.AddBuffer(throttleBlock(bitsPerSecond)) },
	)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, out)
}

// SendLogoutRequest asks the simulator to end the session. The reply arrives
// as LogoutReply through the dispatcher.
func (c *Client) SendLogoutRequest(ctx context.Context) (*circuit.Ticket, error) {
	out, err := c.StartMessage(template.MsgLogoutRequest)
	if err != nil {
		return nil, err
	}
	err = c.build(out,
		func() error { return out.AddUUID(c.session.AgentID) },
		func() error { return out.AddUUID(c.session.SessionID) },
	)
	if err != nil {
		return nil, err
	}
	logs.Infof("client.Client.SendLogoutRequest agent=%s", c.session.AgentID)
	return c.Send(ctx, out)
}

func (c *Client) sendUseCircuitCode(ctx context.Context) error {
	out, err := c.StartMessage(template.MsgUseCircuitCode)
	if err != nil {
		return err
	}
	out.SetReliable(true)
	err = c.build(out,
		func() error { return out.AddU32(c.session.CircuitCode) },
		func() error { return out.AddUUID(c.session.SessionID) },
		func() error { return out.AddUUID(c.session.AgentID) },
	)
	if err != nil {
		return err
	}
	_, err = c.Send(ctx, out)
	return err
}

func (c *Client) sendCompleteAgentMovement(ctx context.Context) error {
	out, err := c.StartMessage(template.MsgCompleteAgentMovement)
	if err != nil {
		return err
	}
	out.SetReliable(true)
	err = c.build(out,
		func() error { return out.AddUUID(c.session.AgentID) },
		func() error { return out.AddUUID(c.session.SessionID) },
		func() error { return out.AddU32(c.session.CircuitCode) },
	)
	if err != nil {
		return err
	}
	_, err = c.Send(ctx, out)
	return err
}

func (c *Client) build(out *codec.OutMessage, steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("client: build %s: %w", out.Name(), err)
		}
	}
	return nil
}

func throttleBlock(bitsPerSecond float32) []byte {
	b := make([]byte, 0, len(throttleShares)*4)
	for _, share := range throttleShares {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(bitsPerSecond*share))
	}
	return b
}

// Stats reports the circuit loop state.
func (c *Client) Stats() (circuit.Stats, error) {
	circ, err := c.current()
	if err != nil {
		return circuit.Stats{}, err
	}
	return circ.Stats()
}

// Done is closed when the circuit ends. It is nil before Open.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.circ == nil {
		return nil
	}
	return c.circ.Done()
}

// Disconnected reports whether the circuit has ended and the socket error
// that ended it, if any.
func (c *Client) Disconnected() (bool, error) {
	c.mu.Lock()
	circ := c.circ
	c.mu.Unlock()
	if circ == nil {
		return false, nil
	}
	select {
	case <-circ.Done():
		return true, circ.Err()
	default:
		return false, nil
	}
}

// Close stops the consumer, closes the circuit and drops every listener.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	circ, stop, consumed := c.circ, c.stop, c.consumed
	c.mu.Unlock()

	if circ != nil {
		close(stop)
		<-consumed
		if err := circ.Close(); err != nil {
			return err
		}
	}
	c.dispatcher.UnregisterAll()
	logs.Infof("client.Client.Close addr=%s", c.session.Address)
	return nil
}

func (c *Client) current() (*circuit.Circuit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.circ == nil {
		return nil, ErrNotOpen
	}
	return c.circ, nil
}

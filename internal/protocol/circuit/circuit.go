package circuit

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/simcircuit/internal/logging"
	"github.com/danmuck/simcircuit/internal/observability"
	"github.com/danmuck/simcircuit/internal/protocol/codec"
	"github.com/danmuck/simcircuit/internal/protocol/frame"
	"github.com/danmuck/simcircuit/internal/protocol/template"
)

// Stats is a point-in-time view of the loop's state.
type Stats struct {
	PendingReliable int    `json:"pending_reliable"`
	DedupeSize      int    `json:"dedupe_size"`
	PendingAcks     int    `json:"pending_acks"`
	NextSequence    uint32 `json:"next_sequence"`
	Sent            uint64 `json:"sent"`
	Received        uint64 `json:"received"`
	Resends         uint64 `json:"resends"`
	Duplicates      uint64 `json:"duplicates"`
	LostPackets     uint64 `json:"lost_packets"`
	Malformed       uint64 `json:"malformed"`
}

type sendRequest struct {
	name     string
	body     []byte
	flags    frame.Flags
	reliable bool
	ticket   *Ticket
	reply    chan error
}

type pendingAck struct {
	seq uint32
	at  time.Time
}

// Circuit is one UDP association with a simulator.
type Circuit struct {
	conn net.Conn
	reg  *template.Registry
	cfg  Config
	name string

	ackTmpl  *template.Message
	pingTmpl *template.Message
	pongTmpl *template.Message

	sendCh  chan sendRequest
	rawCh   chan []byte
	readErr chan error
	statsCh chan chan Stats
	inbound chan *codec.InMessage

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
	err       error

	// Loop-owned state below.
	rng         *rand.Rand
	nextSeq     uint32
	resend      *resendTable
	dedupe      *dedupeWindow
	acks        []pendingAck
	lastInbound uint32
	seenInbound bool
	fatal       error
	stats       Stats
}

// Dial connects a UDP socket to addr and starts the circuit.
func Dial(ctx context.Context, addr string, reg *template.Registry, cfg Config) (*Circuit, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, &CircuitError{Remote: addr, Op: "dial", Err: err}
	}
	c, err := New(conn, reg, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.Start()
	return c, nil
}

// New wraps a connected datagram socket. Call Start to run it.
func New(conn net.Conn, reg *template.Registry, cfg Config) (*Circuit, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Circuit{
		conn:    conn,
		reg:     reg,
		cfg:     cfg,
		name:    cfg.Name,
		sendCh:  make(chan sendRequest, cfg.SendQueue),
		rawCh:   make(chan []byte, cfg.InboundQueue),
		readErr: make(chan error, 1),
		statsCh: make(chan chan Stats),
		inbound: make(chan *codec.InMessage, cfg.InboundQueue),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		nextSeq: 1,
		resend:  newResendTable(),
		dedupe:  newDedupeWindow(cfg.DedupeWindow),
	}
	if c.name == "" {
		c.name = conn.RemoteAddr().String()
	}
	var err error
	if c.ackTmpl, err = lookupControl(reg, template.MsgPacketAck); err != nil {
		return nil, err
	}
	if c.pingTmpl, err = lookupControl(reg, template.MsgStartPingCheck); err != nil {
		return nil, err
	}
	if c.pongTmpl, err = lookupControl(reg, template.MsgCompletePingCheck); err != nil {
		return nil, err
	}
	return c, nil
}

func lookupControl(reg *template.Registry, name string) (*template.Message, error) {
	tmpl, err := reg.LookupByName(name)
	if err != nil {
		return nil, errors.Join(ErrMissingTemplate, err)
	}
	return tmpl, nil
}

// Start launches the reader and loop goroutines once.
func (c *Circuit) Start() {
	c.startOnce.Do(func() {
		select {
		case <-c.stop:
			return
		default:
		}
		c.started.Store(true)
		logs.Infof("circuit.Circuit.Start name=%s local=%s remote=%s", c.name, c.conn.LocalAddr(), c.conn.RemoteAddr())
		go c.readLoop()
		go c.run()
	})
}

func (c *Circuit) Name() string         { return c.name }
func (c *Circuit) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Circuit) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Inbound delivers decoded messages to a single consumer. It is closed when
// the circuit ends.
func (c *Circuit) Inbound() <-chan *codec.InMessage {
	return c.inbound
}

// Done is closed once the loop has exited.
func (c *Circuit) Done() <-chan struct{} {
	return c.done
}

// Err reports the socket failure that ended the circuit, nil otherwise.
func (c *Circuit) Err() error {
	select {
	case <-c.done:
		var cerr *CircuitError
		if errors.As(c.err, &cerr) {
			return c.err
		}
		return nil
	default:
		return nil
	}
}

// Send finishes out if needed and queues it on the circuit. The returned
// ticket resolves when a reliable message is acked or finally fails.
func (c *Circuit) Send(ctx context.Context, out *codec.OutMessage) (*Ticket, error) {
	if !c.started.Load() {
		return nil, ErrNotStarted
	}
	body, err := out.Finish()
	if err != nil {
		return nil, err
	}
	req := sendRequest{
		name:     out.Name(),
		body:     body,
		flags:    out.Flags(),
		reliable: out.Reliable(),
		ticket:   newTicket(),
		reply:    make(chan error, 1),
	}
	select {
	case c.sendCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closedErr()
	}
	select {
	case err := <-req.reply:
		if err != nil {
			return nil, err
		}
	case <-c.done:
		return nil, c.closedErr()
	}
	out.MarkSent(req.ticket.seq)
	return req.ticket, nil
}

// Stats asks the loop for a snapshot of its state.
func (c *Circuit) Stats() (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case c.statsCh <- reply:
	case <-c.done:
		return Stats{}, c.closedErr()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Stats{}, c.closedErr()
	}
}

// Close stops the loop, fails outstanding tickets and closes the socket.
func (c *Circuit) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		if !c.started.Load() {
			c.shutdown(ErrCircuitClosed)
			close(c.done)
		}
	})
	<-c.done
	return nil
}

func (c *Circuit) closedErr() error {
	if c.err != nil {
		return c.err
	}
	return ErrCircuitClosed
}

func (c *Circuit) readLoop() {
	buf := make([]byte, c.cfg.Limits.MaxDatagramBytes+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case c.readErr <- err:
			case <-c.stop:
			case <-c.done:
			}
			return
		}
		b := append([]byte(nil), buf[:n]...)
		select {
		case c.rawCh <- b:
		case <-c.stop:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Circuit) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			c.shutdown(ErrCircuitClosed)
			return
		case err := <-c.readErr:
			select {
			case <-c.stop:
				c.shutdown(ErrCircuitClosed)
			default:
				c.shutdown(&CircuitError{Remote: c.conn.RemoteAddr().String(), Op: "read", Err: err})
			}
			return
		case b := <-c.rawCh:
			c.handleDatagram(b, time.Now())
		case req := <-c.sendCh:
			c.handleSend(req, time.Now())
		case reply := <-c.statsCh:
			reply <- c.snapshotStats()
		case now := <-ticker.C:
			c.tick(now)
		}
		if c.fatal != nil {
			c.shutdown(c.fatal)
			return
		}
	}
}

// shutdown runs on the loop goroutine, or from Close when the loop never ran.
func (c *Circuit) shutdown(cause error) {
	c.err = cause
	ticketErr := cause
	if !errors.As(cause, new(*CircuitError)) {
		ticketErr = ErrCircuitClosed
	}
	pending := c.resend.Drain()
	for _, item := range pending {
		item.ticket.resolve(ticketErr)
	}
	observability.SetPendingReliable(c.name, 0)
	_ = c.conn.Close()
	if errors.Is(cause, ErrCircuitClosed) {
	drain:
		for {
			select {
			case <-c.inbound:
			default:
				break drain
			}
		}
		logs.Infof("circuit.Circuit.shutdown name=%s dropped_pending=%d", c.name, len(pending))
	} else {
		logs.Errf("circuit.Circuit.shutdown name=%s err=%v dropped_pending=%d", c.name, cause, len(pending))
	}
	close(c.inbound)
}

func (c *Circuit) handleSend(req sendRequest, now time.Time) {
	if req.reliable && c.resend.Len() >= c.cfg.MaxPendingReliable {
		req.reply <- ErrResendTableFull
		return
	}
	seq, datagram, err := c.write(req.flags, req.body, true)
	if err != nil {
		req.reply <- err
		return
	}
	req.ticket.seq = seq
	if req.reliable {
		c.resend.Add(&pendingReliable{
			Sequence:      seq,
			Message:       req.name,
			Datagram:      datagram,
			QueuedAt:      now,
			LastAttemptAt: now,
			Deadline:      now.Add(NextBackoffDelay(c.cfg.Resend, 1, c.rng)),
			ticket:        req.ticket,
		})
		observability.SetPendingReliable(c.name, c.resend.Len())
	} else {
		req.ticket.resolve(nil)
	}
	logs.Tracef("circuit.Circuit.send name=%s seq=%d message=%s flags=%s", c.name, seq, req.name, req.flags)
	req.reply <- nil
}

// write frames body with the next sequence number, optionally carrying queued
// acks in the trailer.
func (c *Circuit) write(flags frame.Flags, body []byte, piggyback bool) (uint32, []byte, error) {
	n := 0
	if piggyback {
		n = min(len(c.acks), c.cfg.MaxAcksPerPacket)
	}
	acks := make([]uint32, n)
	for i := 0; i < n; i++ {
		acks[i] = c.acks[i].seq
	}
	seq := c.nextSeq
	datagram, err := frame.Encode(frame.Packet{
		Flags:    flags,
		Sequence: seq,
		Body:     body,
		Acks:     acks,
	}, c.cfg.Limits)
	if err != nil {
		return 0, nil, err
	}
	if err := c.writeDatagram(datagram); err != nil {
		return 0, nil, err
	}
	c.nextSeq++
	c.acks = c.acks[n:]
	c.stats.Sent++
	observability.RecordDatagram(c.name, observability.DirectionOut, flags.Has(frame.FlagReliable), len(datagram))
	observability.RecordAcks(c.name, observability.DirectionOut, n)
	return seq, datagram, nil
}

func (c *Circuit) writeDatagram(datagram []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		c.fatal = &CircuitError{Remote: c.conn.RemoteAddr().String(), Op: "write", Err: err}
		return c.fatal
	}
	if _, err := c.conn.Write(datagram); err != nil {
		c.fatal = &CircuitError{Remote: c.conn.RemoteAddr().String(), Op: "write", Err: err}
		return c.fatal
	}
	return nil
}

func (c *Circuit) tick(now time.Time) {
	for _, item := range c.resend.Expired(now) {
		if item.Retries >= c.cfg.MaxRetries {
			c.resend.Remove(item.Sequence)
			attempts := item.Retries + 1
			item.ticket.resolve(&DeliveryFailedError{Sequence: item.Sequence, Message: item.Message, Attempts: attempts})
			observability.RecordDeliveryFailed(c.name)
			logs.Warnf("circuit.Circuit.tick delivery failed name=%s seq=%d message=%s attempts=%d",
				c.name, item.Sequence, item.Message, attempts)
			continue
		}
		item.Retries++
		frame.SetResent(item.Datagram)
		if err := c.writeDatagram(item.Datagram); err != nil {
			return
		}
		item.LastAttemptAt = now
		item.Deadline = now.Add(NextBackoffDelay(c.cfg.Resend, item.Retries+1, c.rng))
		c.stats.Resends++
		observability.RecordResend(c.name)
		logs.Debugf("circuit.Circuit.tick resend name=%s seq=%d message=%s retry=%d",
			c.name, item.Sequence, item.Message, item.Retries)
	}
	observability.SetPendingReliable(c.name, c.resend.Len())
	if len(c.acks) > 0 && now.Sub(c.acks[0].at) >= c.cfg.AckDelay {
		c.flushAcks()
	}
}

// flushAcks sends queued acks as standalone PacketAck messages.
func (c *Circuit) flushAcks() {
	for len(c.acks) > 0 && c.fatal == nil {
		n := len(c.acks)
		if n > c.cfg.MaxAcksPerPacket {
			n = c.cfg.MaxAcksPerPacket
		}
		out := codec.NewOutMessage(c.ackTmpl)
		if err := out.SetVariableBlockCount(n); err != nil {
			logs.Errf("circuit.Circuit.flushAcks name=%s err=%v", c.name, err)
			return
		}
		for i := 0; i < n; i++ {
			_ = out.AddU32(c.acks[i].seq)
		}
		body, err := out.Finish()
		if err != nil {
			logs.Errf("circuit.Circuit.flushAcks name=%s err=%v", c.name, err)
			return
		}
		if _, _, err := c.write(out.Flags(), body, false); err != nil {
			return
		}
		c.acks = c.acks[n:]
		observability.RecordAcks(c.name, observability.DirectionOut, n)
	}
}

func (c *Circuit) queueAck(seq uint32, now time.Time) {
	c.acks = append(c.acks, pendingAck{seq: seq, at: now})
}

func (c *Circuit) ackReceived(seq uint32) {
	item, ok := c.resend.Remove(seq)
	if !ok {
		return
	}
	item.ticket.resolve(nil)
	logs.Tracef("circuit.Circuit.ack name=%s seq=%d message=%s retries=%d", c.name, seq, item.Message, item.Retries)
}

func (c *Circuit) handleDatagram(b []byte, now time.Time) {
	p, err := frame.Decode(b, c.cfg.Limits)
	if err != nil {
		c.stats.Malformed++
		observability.RecordMalformed(c.name, "frame")
		logs.Debugf("circuit.Circuit.recv drop malformed name=%s len=%d err=%v", c.name, len(b), err)
		return
	}
	reliable := p.Flags.Has(frame.FlagReliable)
	c.stats.Received++
	observability.RecordDatagram(c.name, observability.DirectionIn, reliable, len(b))

	for _, seq := range p.Acks {
		c.ackReceived(seq)
	}
	observability.RecordAcks(c.name, observability.DirectionIn, len(p.Acks))
	if len(p.Acks) > 0 {
		observability.SetPendingReliable(c.name, c.resend.Len())
	}

	if c.dedupe.Contains(p.Sequence) {
		c.stats.Duplicates++
		observability.RecordDuplicate(c.name)
		if reliable {
			c.queueAck(p.Sequence, now)
		}
		logs.Debugf("circuit.Circuit.recv duplicate name=%s seq=%d reliable=%v", c.name, p.Sequence, reliable)
		return
	}
	c.trackSequence(p.Sequence)

	msg, err := codec.FromPacket(c.reg, p)
	if err != nil {
		c.stats.Malformed++
		observability.RecordMalformed(c.name, "message")
		logs.Debugf("circuit.Circuit.recv drop undecodable name=%s seq=%d err=%v", c.name, p.Sequence, err)
		c.accept(p.Sequence, reliable, now)
		return
	}

	switch msg.ID() {
	case c.ackTmpl.ID:
		c.consumePacketAck(msg)
	case c.pingTmpl.ID:
		c.answerPing(msg)
	default:
		select {
		case c.inbound <- msg:
		default:
			logs.Warnf("circuit.Circuit.recv inbound full name=%s seq=%d message=%s reliable=%v",
				c.name, p.Sequence, msg.Name(), reliable)
			return
		}
	}
	c.accept(p.Sequence, reliable, now)
}

// accept records an inbound sequence number as seen. Reliable ones also get
// an ack scheduled.
func (c *Circuit) accept(seq uint32, reliable bool, now time.Time) {
	c.dedupe.Add(seq)
	if reliable {
		c.queueAck(seq, now)
	}
}

// maxCountedGap bounds the sequence jump still counted as loss. Larger jumps
// are treated as a peer restart or garbage and only move the marker.
const maxCountedGap = 16

// trackSequence counts gaps in the inbound sequence.
func (c *Circuit) trackSequence(seq uint32) {
	if !c.seenInbound {
		c.seenInbound = true
		c.lastInbound = seq
		return
	}
	if !seqAfter(seq, c.lastInbound) {
		return
	}
	if gap := seq - c.lastInbound - 1; gap > 0 && gap < maxCountedGap {
		c.stats.LostPackets += uint64(gap)
		observability.RecordLost(c.name, gap)
	}
	c.lastInbound = seq
}

func (c *Circuit) consumePacketAck(msg *codec.InMessage) {
	n, err := msg.ReadCurrentBlockInstanceCount()
	if err != nil {
		logs.Debugf("circuit.Circuit.recv bad PacketAck name=%s err=%v", c.name, err)
		return
	}
	for i := 0; i < n; i++ {
		seq, err := msg.ReadU32()
		if err != nil {
			logs.Debugf("circuit.Circuit.recv bad PacketAck name=%s err=%v", c.name, err)
			return
		}
		c.ackReceived(seq)
	}
	observability.RecordAcks(c.name, observability.DirectionIn, n)
	observability.SetPendingReliable(c.name, c.resend.Len())
}

func (c *Circuit) answerPing(msg *codec.InMessage) {
	id, err := msg.ReadU8()
	if err != nil {
		logs.Debugf("circuit.Circuit.recv bad StartPingCheck name=%s err=%v", c.name, err)
		return
	}
	out := codec.NewOutMessage(c.pongTmpl)
	if err := out.AddU8(id); err != nil {
		logs.Errf("circuit.Circuit.answerPing name=%s err=%v", c.name, err)
		return
	}
	body, err := out.Finish()
	if err != nil {
		logs.Errf("circuit.Circuit.answerPing name=%s err=%v", c.name, err)
		return
	}
	if _, _, err := c.write(out.Flags(), body, true); err != nil {
		return
	}
	logs.Tracef("circuit.Circuit.answerPing name=%s ping=%d", c.name, id)
}

func (c *Circuit) snapshotStats() Stats {
	s := c.stats
	s.PendingReliable = c.resend.Len()
	s.DedupeSize = c.dedupe.Len()
	s.PendingAcks = len(c.acks)
	s.NextSequence = c.nextSeq
	return s
}

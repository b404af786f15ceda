// Package bus wraps a pub/sub transport for one participant: broadcast and
// unicast sends, a single inbound message handler, presence, and connection
// status reporting. It re-opens its subscription on request but never
// retries sends or restores semantic state.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/spellduel/internal/protocol"
	"go.uber.org/zap"
)

var ErrCannotConnect = errors.New("cannot connect to relay")
var ErrNotOpen = errors.New("bus not open")
var ErrNotConnected = errors.New("bus not connected")

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Transport opens one subscription to a relay channel.
type Transport interface {
	Dial(ctx context.Context, channel, clientID string) (Conn, error)
}

type Conn interface {
	Send(ctx context.Context, f protocol.Frame) error
	// Recv blocks for the next frame; it fails once the subscription is gone.
	Recv(ctx context.Context) (protocol.Frame, error)
	Close() error
}

type PresenceKind string

const (
	PresenceSnapshot PresenceKind = "snapshot"
	PresenceJoin     PresenceKind = "join"
	PresenceLeave    PresenceKind = "leave"
)

type PresenceEvent struct {
	Channel string
	Kind    PresenceKind
	Key     string
	Meta    protocol.PresenceMeta
	State   map[string]protocol.PresenceMeta
}

type Options struct {
	ConnectTimeout  time.Duration
	ConnectAttempts int
	RetryDelay      time.Duration
	// KeepAlive sends a ping frame this often so the relay does not consider
	// a quiet participant idle. Zero disables it.
	KeepAlive time.Duration
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  10 * time.Second,
		ConnectAttempts: 3,
		RetryDelay:      500 * time.Millisecond,
		KeepAlive:       20 * time.Second,
	}
}

type Adapter struct {
	transport Transport
	opts      Options
	logger    *zap.Logger

	mu         sync.Mutex
	channel    string
	selfID     string
	conn       Conn
	cancelRead context.CancelFunc
	epoch      uint64
	status     Status

	onMessage  func(channel string, m protocol.Message)
	onPresence func(PresenceEvent)
	subs       map[int]func(Status)
	nextSub    int
}

func New(t Transport, opts Options, logger *zap.Logger) *Adapter {
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}
	return &Adapter{
		transport: t,
		opts:      opts,
		logger:    logger.Named("bus"),
		status:    StatusDisconnected,
		subs:      make(map[int]func(Status)),
	}
}

// OnMessage sets the single inbound message handler. It runs on the read
// goroutine and must not block.
func (a *Adapter) OnMessage(fn func(channel string, m protocol.Message)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onMessage = fn
}

func (a *Adapter) OnPresence(fn func(PresenceEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPresence = fn
}

// SubscribeStatus registers fn for every status transition and returns a
// function that removes it.
func (a *Adapter) SubscribeStatus(fn func(Status)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}

func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Adapter) Channel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel
}

// Open subscribes to channel as selfID.
func (a *Adapter) Open(ctx context.Context, channel, selfID string) error {
	a.mu.Lock()
	stale := a.detachLocked()
	a.channel = channel
	a.selfID = selfID
	a.mu.Unlock()
	closeAsync(stale)
	return a.connect(ctx)
}

// Recreate drops the current subscription, which may be stale without
// knowing it, and opens a fresh one on the same channel.
func (a *Adapter) Recreate(ctx context.Context) error {
	a.mu.Lock()
	if a.channel == "" {
		a.mu.Unlock()
		return ErrNotOpen
	}
	stale := a.detachLocked()
	a.mu.Unlock()
	closeAsync(stale)
	return a.connect(ctx)
}

// Close ends the subscription. disconnected is reported only if it was not
// already the last status.
func (a *Adapter) Close() error {
	a.mu.Lock()
	conn := a.detachLocked()
	a.channel = ""
	notify := a.transitionLocked(StatusDisconnected)
	a.mu.Unlock()

	notify()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (a *Adapter) Broadcast(ctx context.Context, m protocol.Message) error {
	return a.send(ctx, protocol.Frame{Op: protocol.OpPublish, Topic: protocol.BroadcastTopic, Message: &m})
}

func (a *Adapter) SendTo(ctx context.Context, userID string, m protocol.Message) error {
	return a.send(ctx, protocol.Frame{Op: protocol.OpPublish, Topic: protocol.RecipientTopic(userID), Message: &m})
}

func (a *Adapter) Track(ctx context.Context, meta protocol.PresenceMeta) error {
	return a.send(ctx, protocol.Frame{Op: protocol.OpTrack, Meta: &meta})
}

func (a *Adapter) Untrack(ctx context.Context) error {
	return a.send(ctx, protocol.Frame{Op: protocol.OpUntrack})
}

func (a *Adapter) send(ctx context.Context, f protocol.Frame) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, f)
}

func (a *Adapter) connect(ctx context.Context) error {
	a.setStatus(StatusConnecting)

	a.mu.Lock()
	channel, selfID := a.channel, a.selfID
	a.mu.Unlock()

	var lastErr error
attempts:
	for attempt := 1; attempt <= a.opts.ConnectAttempts; attempt++ {
		dctx, cancel := a.dialContext(ctx)
		conn, err := a.transport.Dial(dctx, channel, selfID)
		cancel()
		if err == nil {
			if !a.attach(channel, conn) {
				// closed or moved to another channel while dialing
				_ = conn.Close()
				return ErrNotOpen
			}
			return nil
		}

		lastErr = err
		a.logger.Warn("connect attempt failed",
			zap.String("channel", channel), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == a.opts.ConnectAttempts {
			break
		}
		select {
		case <-time.After(a.opts.RetryDelay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			break attempts
		}
	}

	a.setStatus(StatusError)
	a.logger.Error("giving up on relay", zap.String("channel", channel), zap.Error(lastErr))
	return fmt.Errorf("%w: %w", ErrCannotConnect, lastErr)
}

func (a *Adapter) dialContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.ConnectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.ConnectTimeout)
}

func (a *Adapter) attach(channel string, conn Conn) bool {
	a.mu.Lock()
	if a.channel != channel {
		a.mu.Unlock()
		return false
	}
	stale := a.detachLocked()
	epoch := a.epoch
	ctx, cancel := context.WithCancel(context.Background())
	a.conn = conn
	a.cancelRead = cancel
	notify := a.transitionLocked(StatusConnected)
	a.mu.Unlock()

	closeAsync(stale)
	notify()
	go a.readLoop(ctx, conn, epoch)
	if a.opts.KeepAlive > 0 {
		go a.keepAlive(ctx, conn)
	}
	return true
}

// detachLocked forgets the current subscription so its read loop stops
// dispatching, and hands back the connection for the caller to close.
func (a *Adapter) detachLocked() Conn {
	a.epoch++
	if a.cancelRead != nil {
		a.cancelRead()
		a.cancelRead = nil
	}
	conn := a.conn
	a.conn = nil
	return conn
}

func closeAsync(c Conn) {
	if c != nil {
		go c.Close()
	}
}

func (a *Adapter) current(epoch uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch == epoch
}

func (a *Adapter) readLoop(ctx context.Context, conn Conn, epoch uint64) {
	for {
		f, err := conn.Recv(ctx)
		if err != nil {
			a.mu.Lock()
			live := a.epoch == epoch
			notify := func() {}
			if live {
				a.detachLocked()
				notify = a.transitionLocked(StatusDisconnected)
			}
			a.mu.Unlock()
			if live {
				a.logger.Info("subscription lost", zap.Error(err))
				_ = conn.Close()
				notify()
			}
			return
		}
		if !a.current(epoch) {
			return
		}
		a.dispatch(f)
	}
}

func (a *Adapter) dispatch(f protocol.Frame) {
	a.mu.Lock()
	channel, selfID := a.channel, a.selfID
	onMessage, onPresence := a.onMessage, a.onPresence
	a.mu.Unlock()

	switch f.Op {
	case protocol.OpMessage:
		if f.Message == nil {
			return
		}
		if f.Topic != protocol.BroadcastTopic && f.Topic != protocol.RecipientTopic(selfID) {
			return
		}
		if onMessage != nil {
			onMessage(channel, *f.Message)
		}

	case protocol.OpPresenceState:
		if onPresence != nil {
			onPresence(PresenceEvent{Channel: channel, Kind: PresenceSnapshot, State: f.State})
		}

	case protocol.OpPresenceJoin:
		if onPresence != nil {
			ev := PresenceEvent{Channel: channel, Kind: PresenceJoin, Key: f.Key}
			if f.Meta != nil {
				ev.Meta = *f.Meta
			}
			onPresence(ev)
		}

	case protocol.OpPresenceLeave:
		if onPresence != nil {
			onPresence(PresenceEvent{Channel: channel, Kind: PresenceLeave, Key: f.Key})
		}
	}
}

func (a *Adapter) keepAlive(ctx context.Context, conn Conn) {
	t := time.NewTicker(a.opts.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sctx, cancel := context.WithTimeout(ctx, a.opts.KeepAlive)
			err := conn.Send(sctx, protocol.Frame{Op: protocol.OpPing})
			cancel()
			if err != nil && ctx.Err() == nil {
				a.logger.Debug("keepalive failed", zap.Error(err))
			}
		}
	}
}

func (a *Adapter) setStatus(st Status) {
	a.mu.Lock()
	notify := a.transitionLocked(st)
	a.mu.Unlock()
	notify()
}

// transitionLocked records st and returns the call that reports it. The
// caller holds a.mu and runs the returned func after releasing it.
func (a *Adapter) transitionLocked(st Status) func() {
	if a.status == st {
		return func() {}
	}
	a.status = st
	subs := make([]func(Status), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(st)
		}
	}
}

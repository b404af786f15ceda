// Package channel is the relay side of a room: one actor per channel name
// that fans publishes out to subscribers and keeps their presence.
package channel

import (
	"context"
	"errors"
	"maps"

	"github.com/DoyleJ11/spellduel/internal/protocol"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("channel closed")

type Msg interface{ isChannelMsg() }

// Subscribe registers a client. Frames for it are written to Outbox until the
// channel closes it.
type Subscribe struct {
	ClientID string
	Outbox   chan protocol.Frame
}

func (Subscribe) isChannelMsg() {}

// Unsubscribe only removes the subscription owning Outbox, so a late
// unsubscribe from a replaced connection cannot evict its successor.
type Unsubscribe struct {
	ClientID string
	Outbox   chan protocol.Frame
}

func (Unsubscribe) isChannelMsg() {}

type FromClient struct {
	ClientID string
	Frame    protocol.Frame
}

func (FromClient) isChannelMsg() {}

// Reset drops every subscriber at once.
type Reset struct{}

func (Reset) isChannelMsg() {}

type Shutdown struct{}

func (Shutdown) isChannelMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isChannelMsg() {}

type View struct {
	Subscribers int
	Presence    map[string]protocol.PresenceMeta
}

type subscriber struct {
	outbox chan protocol.Frame
}

type Channel struct {
	name     string
	inbox    chan Msg
	subs     map[string]subscriber
	presence map[string]protocol.PresenceMeta
	onEmpty  func(*Channel)
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New starts the channel actor. onEmpty runs on the actor goroutine after the
// last subscriber leaves and the channel has shut itself down.
func New(parent context.Context, name string, onEmpty func(*Channel), logger *zap.Logger) *Channel {
	ctx, cancel := context.WithCancel(parent)
	c := &Channel{
		name:     name,
		inbox:    make(chan Msg, 64),
		subs:     make(map[string]subscriber),
		presence: make(map[string]protocol.PresenceMeta),
		onEmpty:  onEmpty,
		logger:   logger.With(zap.String("channel", name)),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.loop()
	return c
}

func (c *Channel) Name() string { return c.name }

// Done is closed once the channel stops accepting messages.
func (c *Channel) Done() <-chan struct{} { return c.ctx.Done() }

// Send delivers msg to the actor, failing with ErrClosed once it has stopped.
func (c *Channel) Send(ctx context.Context, msg Msg) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Subscribe:
				if old, ok := c.subs[msg.ClientID]; ok && old.outbox != msg.Outbox {
					close(old.outbox)
					c.dropPresence(msg.ClientID)
				}
				c.subs[msg.ClientID] = subscriber{outbox: msg.Outbox}
				c.logger.Debug("subscribed", zap.String("client", msg.ClientID))

			case Unsubscribe:
				sub, ok := c.subs[msg.ClientID]
				if !ok || sub.outbox != msg.Outbox {
					break
				}
				close(sub.outbox)
				delete(c.subs, msg.ClientID)
				c.dropPresence(msg.ClientID)
				if c.closeIfEmpty() {
					return
				}

			case FromClient:
				if _, ok := c.subs[msg.ClientID]; !ok {
					break
				}
				c.handleFrame(msg.ClientID, msg.Frame)

			case Reset:
				c.logger.Info("channel reset", zap.Int("subscribers", len(c.subs)))
				c.shutdown()
				c.finish()
				return

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{Subscribers: len(c.subs), Presence: maps.Clone(c.presence)}

			case Shutdown:
				c.shutdown()
				c.cancel()
				return
			}
		}
	}
}

func (c *Channel) handleFrame(from string, f protocol.Frame) {
	switch f.Op {
	case protocol.OpPublish:
		if f.Message == nil {
			return
		}
		out := protocol.Frame{Op: protocol.OpMessage, Topic: f.Topic, Message: f.Message}
		for id := range c.subs {
			if id == from {
				continue
			}
			c.deliver(id, out)
		}

	case protocol.OpTrack:
		var meta protocol.PresenceMeta
		if f.Meta != nil {
			meta = *f.Meta
		}
		c.presence[from] = meta
		c.deliver(from, protocol.Frame{Op: protocol.OpPresenceState, State: maps.Clone(c.presence)})
		c.fanout(from, protocol.Frame{Op: protocol.OpPresenceJoin, Key: from, Meta: &meta})

	case protocol.OpUntrack:
		c.dropPresence(from)

	case protocol.OpPing:
		// keeps the connection's idle timer alive, nothing to relay
	}
}

func (c *Channel) dropPresence(id string) {
	if _, ok := c.presence[id]; !ok {
		return
	}
	delete(c.presence, id)
	c.fanout(id, protocol.Frame{Op: protocol.OpPresenceLeave, Key: id})
}

func (c *Channel) fanout(except string, f protocol.Frame) {
	for id := range c.subs {
		if id != except {
			c.deliver(id, f)
		}
	}
}

// deliver never blocks. A subscriber that cannot keep up is dropped along
// with its presence.
func (c *Channel) deliver(id string, f protocol.Frame) {
	sub, ok := c.subs[id]
	if !ok {
		return
	}
	select {
	case sub.outbox <- f:
	default:
		c.logger.Warn("dropping slow subscriber", zap.String("client", id))
		close(sub.outbox)
		delete(c.subs, id)
		c.dropPresence(id)
	}
}

func (c *Channel) closeIfEmpty() bool {
	if len(c.subs) > 0 {
		return false
	}
	c.finish()
	return true
}

func (c *Channel) finish() {
	c.cancel()
	if c.onEmpty != nil {
		c.onEmpty(c)
	}
}

func (c *Channel) shutdown() {
	for id, sub := range c.subs {
		close(sub.outbox) // tell the connection no more frames
		delete(c.subs, id)
	}
	clear(c.presence)
}

func (c *Channel) Inbox() chan<- Msg { return c.inbox }

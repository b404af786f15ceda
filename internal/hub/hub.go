// Package hub is the relay's registry of channels.
package hub

import (
	"context"
	"errors"

	"github.com/DoyleJ11/spellduel/internal/channel"
	"github.com/DoyleJ11/spellduel/internal/protocol"
	"go.uber.org/zap"
)

var ErrHubClosed = errors.New("hub closed")

// outboxSize bounds how far a subscriber may fall behind before the channel
// drops it.
const outboxSize = 32

type HubMsg interface{ isHubMsg() }

// EnsureChannel returns the live channel for Name, creating it on demand.
type EnsureChannel struct {
	Name  string
	Reply chan *channel.Channel
}

type GetChannel struct {
	Name  string
	Reply chan *channel.Channel
}

// RemoveChannel forgets Channel if it is still the one registered under its
// name.
type RemoveChannel struct {
	Channel *channel.Channel
}

type ResetChannel struct {
	Name  string
	Reply chan bool
}

type ListChannels struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (EnsureChannel) isHubMsg() {}
func (GetChannel) isHubMsg()    {}
func (RemoveChannel) isHubMsg() {}
func (ResetChannel) isHubMsg()  {}
func (ListChannels) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	channels map[string]*channel.Channel
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		channels: make(map[string]*channel.Channel),
		logger:   logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after the hub shuts down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure returns the live channel for name.
func (h *Hub) Ensure(ctx context.Context, name string) (*channel.Channel, error) {
	reply := make(chan *channel.Channel, 1)
	if err := h.send(ctx, EnsureChannel{Name: name, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case ch := <-reply:
		return ch, nil
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join subscribes clientID to name and returns the channel and the outbox the
// client reads frames from. A channel that closed between lookup and
// subscription is replaced.
func (h *Hub) Join(ctx context.Context, name, clientID string) (*channel.Channel, chan protocol.Frame, error) {
	for {
		ch, err := h.Ensure(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		out := make(chan protocol.Frame, outboxSize)
		err = ch.Send(ctx, channel.Subscribe{ClientID: clientID, Outbox: out})
		if errors.Is(err, channel.ErrClosed) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return ch, out, nil
	}
}

// Reset drops every subscriber of name. It reports whether the channel existed.
func (h *Hub) Reset(ctx context.Context, name string) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.send(ctx, ResetChannel{Name: name, Reply: reply}); err != nil {
		return false, err
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-h.ctx.Done():
		return false, ErrHubClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureChannel:
				if ch := h.channels[msg.Name]; ch != nil && !closed(ch) {
					msg.Reply <- ch
					break
				}
				ch := channel.New(h.ctx, msg.Name, h.forget, h.logger)
				h.channels[msg.Name] = ch
				msg.Reply <- ch

			case GetChannel:
				ch := h.channels[msg.Name]
				if ch != nil && closed(ch) {
					ch = nil
				}
				msg.Reply <- ch // may be nil

			case RemoveChannel:
				if h.channels[msg.Channel.Name()] == msg.Channel {
					delete(h.channels, msg.Channel.Name())
				}

			case ResetChannel:
				ch := h.channels[msg.Name]
				if ch == nil || closed(ch) {
					msg.Reply <- false
					break
				}
				// The inbox is buffered and the channel never waits on the hub,
				// so this does not stall the registry for long.
				_ = ch.Send(h.ctx, channel.Reset{})
				delete(h.channels, msg.Name)
				msg.Reply <- true

			case ListChannels:
				names := make([]string, 0, len(h.channels))
				for name, ch := range h.channels {
					if !closed(ch) {
						names = append(names, name)
					}
				}
				msg.Reply <- names

			case ShutdownHub:
				h.cancel()
				h.shutdown()
				return
			}
		}
	}
}

// forget runs on a channel's goroutine once it empties.
func (h *Hub) forget(ch *channel.Channel) {
	go func() {
		_ = h.send(context.Background(), RemoveChannel{Channel: ch})
	}()
}

// shutdown runs after h.ctx is cancelled; every channel is a child of it and
// closes its subscribers on its own.
func (h *Hub) shutdown() {
	clear(h.channels)
}

func closed(ch *channel.Channel) bool {
	select {
	case <-ch.Done():
		return true
	default:
		return false
	}
}

package bus

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/DoyleJ11/spellduel/internal/channel"
	"github.com/DoyleJ11/spellduel/internal/hub"
	"github.com/DoyleJ11/spellduel/internal/protocol"
)

// LocalTransport connects straight to an in-process relay hub.
type LocalTransport struct {
	Hub *hub.Hub
}

func (t LocalTransport) Dial(ctx context.Context, name, clientID string) (Conn, error) {
	ch, out, err := t.Hub.Join(ctx, name, clientID)
	if err != nil {
		return nil, err
	}
	return &localConn{ch: ch, out: out, clientID: clientID}, nil
}

type localConn struct {
	ch       *channel.Channel
	out      chan protocol.Frame
	clientID string
}

func (c *localConn) Send(ctx context.Context, f protocol.Frame) error {
	err := c.ch.Send(ctx, channel.FromClient{ClientID: c.clientID, Frame: f})
	if errors.Is(err, channel.ErrClosed) {
		return io.ErrClosedPipe
	}
	return err
}

func (c *localConn) Recv(ctx context.Context) (protocol.Frame, error) {
	select {
	case f, ok := <-c.out:
		if !ok {
			return protocol.Frame{}, io.EOF
		}
		return f, nil
	case <-c.ch.Done():
		// drain what was queued before the channel went away
		select {
		case f, ok := <-c.out:
			if ok {
				return f, nil
			}
		default:
		}
		return protocol.Frame{}, io.EOF
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (c *localConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.ch.Send(ctx, channel.Unsubscribe{ClientID: c.clientID, Outbox: c.out})
	if errors.Is(err, channel.ErrClosed) {
		return nil
	}
	return err
}

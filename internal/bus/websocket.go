package bus

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/DoyleJ11/spellduel/internal/protocol"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebsocketTransport dials the relay's /ws endpoint.
type WebsocketTransport struct {
	URL          string // e.g. ws://127.0.0.1:8080/ws
	WriteTimeout time.Duration
}

func (t WebsocketTransport) Dial(ctx context.Context, channel, clientID string) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("channel", channel)
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(1 << 20)

	wt := t.WriteTimeout
	if wt <= 0 {
		wt = 3 * time.Second
	}
	return &wsConn{c: c, writeTimeout: wt}, nil
}

type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
}

func (w *wsConn) Send(ctx context.Context, f protocol.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.c, f)
}

func (w *wsConn) Recv(ctx context.Context) (protocol.Frame, error) {
	var f protocol.Frame
	err := wsjson.Read(ctx, w.c, &f)
	return f, err
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}

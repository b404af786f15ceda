package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/spellduel/internal/channel"
	"github.com/DoyleJ11/spellduel/internal/hub"
	"github.com/DoyleJ11/spellduel/internal/protocol"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

type Options struct {
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{IdleTimeout: 60 * time.Second, WriteTimeout: 3 * time.Second}
}

// Handler attaches one websocket to a relay channel:
// GET /ws?channel=<name>&client_id=<id>
func Handler(h *hub.Hub, opts Options, logger *zap.Logger) http.HandlerFunc {
	logger = logger.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("channel")
		clientID := r.URL.Query().Get("client_id")
		if name == "" || clientID == "" {
			http.Error(w, "missing channel or client_id", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ch, out, err := h.Join(r.Context(), name, clientID)
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "relay unavailable")
			return
		}
		log := logger.With(zap.String("channel", name), zap.String("client", clientID))
		log.Debug("connected")
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = ch.Send(ctx, channel.Unsubscribe{ClientID: clientID, Outbox: out})
			log.Debug("disconnected")
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case f, ok := <-out:
					if !ok {
						// dropped by the channel: slow, replaced or reset
						conn.Close(websocket.StatusGoingAway, "unsubscribed")
						return
					}
					payload, err := json.Marshal(f)
					if err != nil {
						log.Warn("encode frame", zap.Error(err))
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, opts.WriteTimeout)
					err = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						conn.CloseNow()
						return
					}
				case <-ch.Done():
					conn.Close(websocket.StatusGoingAway, "channel closed")
					return
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), opts.IdleTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}

			var f protocol.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				log.Debug("bad frame", zap.Error(err))
				continue
			}
			if err := ch.Send(r.Context(), channel.FromClient{ClientID: clientID, Frame: f}); err != nil {
				if !errors.Is(err, channel.ErrClosed) {
					log.Debug("relay send failed", zap.Error(err))
				}
				return
			}
		}
	}
}

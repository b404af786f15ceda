package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/hub"
	"github.com/DoyleJ11/spellduel/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const codeAttempts = 5

// GenerateCode returns a short room code that is easy to read out loud.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateChallenge stores a room sent by its host. A room without an id gets
// a fresh code.
func CreateChallenge(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var room engine.Room
		if err := json.NewDecoder(r.Body).Decode(&room); err != nil {
			http.Error(w, "invalid room", http.StatusBadRequest)
			return
		}
		if room.CreatorID == "" {
			http.Error(w, "creator_id is required", http.StatusBadRequest)
			return
		}
		room.Config = room.Config.WithDefaults()
		if err := room.Config.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if room.Status == "" {
			room.Status = engine.StatusWaiting
		}

		generated := room.ID == ""
		for attempt := 1; ; attempt++ {
			if generated {
				code, err := GenerateCode()
				if err != nil {
					http.Error(w, "failed to generate code", http.StatusInternalServerError)
					return
				}
				room.ID = code
			}
			err := st.Create(r.Context(), room)
			if err == nil {
				break
			}
			if errors.Is(err, store.ErrExists) {
				if generated && attempt < codeAttempts {
					logger.Debug("collision on code, regenerating", zap.String("code", room.ID))
					continue
				}
				http.Error(w, "challenge already exists", http.StatusConflict)
				return
			}
			logger.Error("create challenge", zap.String("id", room.ID), zap.Error(err))
			http.Error(w, "failed to store challenge", http.StatusInternalServerError)
			return
		}

		logger.Info("challenge created", zap.String("id", room.ID), zap.String("creator", room.CreatorID))
		writeJSON(w, http.StatusCreated, room)
	}
}

func GetChallenge(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := st.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func UpdateChallenge(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f store.Fields
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			http.Error(w, "invalid fields", http.StatusBadRequest)
			return
		}
		if err := st.Update(r.Context(), chi.URLParam(r, "id"), f); err != nil {
			storeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListChallenges filters by any number of ?status= values.
func ListChallenges(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var statuses []engine.Status
		for _, s := range r.URL.Query()["status"] {
			statuses = append(statuses, engine.Status(s))
		}
		rooms, err := st.List(r.Context(), statuses...)
		if err != nil {
			storeError(w, logger, err)
			return
		}
		if rooms == nil {
			rooms = []engine.Room{}
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

// Invite renders a QR code of the join link for a waiting room.
func Invite(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := st.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, logger, err)
			return
		}
		if room.Status.Closed() {
			http.Error(w, engine.ErrRoomClosed.Error(), http.StatusGone)
			return
		}

		png, err := qrcode.Encode(JoinLink(r, room.ID), qrcode.Medium, 256)
		if err != nil {
			logger.Error("encode invite", zap.String("id", room.ID), zap.Error(err))
			http.Error(w, "failed to render invite", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}

func JoinLink(r *http.Request, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/challenges/%s", scheme, r.Host, id)
}

// ListChannels names the relay's live channels.
func ListChannels(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []string, 1)
		select {
		case h.Inbox() <- hub.ListChannels{Reply: reply}:
		case <-h.Done():
			http.Error(w, hub.ErrHubClosed.Error(), http.StatusServiceUnavailable)
			return
		}
		names := <-reply
		slices.Sort(names)
		writeJSON(w, http.StatusOK, names)
	}
}

// ResetChannel drops every subscriber of a channel. Clients see a
// disconnect and resubscribe.
func ResetChannel(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		found, err := h.Reset(r.Context(), name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if !found {
			http.Error(w, "no such channel", http.StatusNotFound)
			return
		}
		logger.Info("channel reset", zap.String("channel", name))
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func storeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "challenge not found", http.StatusNotFound)
	case errors.Is(err, store.ErrExists):
		http.Error(w, "challenge already exists", http.StatusConflict)
	case errors.Is(err, store.ErrClosed):
		http.Error(w, "challenge already closed", http.StatusGone)
	default:
		logger.Error("store", zap.Error(err))
		http.Error(w, "store unavailable", http.StatusInternalServerError)
	}
}

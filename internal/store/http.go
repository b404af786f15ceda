package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/spellduel/internal/engine"
)

// HTTPStore reaches the relay's challenge API.
type HTTPStore struct {
	base   string
	client *http.Client
}

func NewHTTP(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *HTTPStore) Create(ctx context.Context, room engine.Room) error {
	return s.do(ctx, http.MethodPost, "/challenges", room, nil)
}

func (s *HTTPStore) Update(ctx context.Context, id string, f Fields) error {
	return s.do(ctx, http.MethodPatch, "/challenges/"+url.PathEscape(id), f, nil)
}

func (s *HTTPStore) Get(ctx context.Context, id string) (engine.Room, error) {
	var r engine.Room
	err := s.do(ctx, http.MethodGet, "/challenges/"+url.PathEscape(id), nil, &r)
	return r, err
}

func (s *HTTPStore) List(ctx context.Context, statuses ...engine.Status) ([]engine.Room, error) {
	q := url.Values{}
	for _, st := range statuses {
		q.Add("status", string(st))
	}
	path := "/challenges"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var rooms []engine.Room
	err := s.do(ctx, http.MethodGet, path, nil, &rooms)
	return rooms, err
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrExists
	case resp.StatusCode == http.StatusGone:
		return ErrClosed
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DoyleJ11/spellduel/internal/bus"
	"github.com/DoyleJ11/spellduel/internal/config"
	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/lobby"
	"github.com/DoyleJ11/spellduel/internal/logging"
	"github.com/DoyleJ11/spellduel/internal/reconnect"
	"github.com/DoyleJ11/spellduel/internal/store"
	"github.com/DoyleJ11/spellduel/internal/words"
	"go.uber.org/zap"
)

type action func(ctx context.Context, l *lobby.Lobby) (engine.Room, error)

func createAction(rc engine.Config) action {
	return func(ctx context.Context, l *lobby.Lobby) (engine.Room, error) { return l.CreateRoom(ctx, rc) }
}

func joinAction(id string) action {
	return func(ctx context.Context, l *lobby.Lobby) (engine.Room, error) { return l.JoinRoom(ctx, id) }
}

func lobbyOptions(cfg *config.Config) lobby.Options {
	return lobby.Options{
		RoundPause:        cfg.RoundPause,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SyncInterval:      cfg.SyncInterval,
		HostTimeout:       cfg.HostTimeout,
		JoinTimeout:       cfg.ConnectTimeout,
		SendTimeout:       cfg.SendTimeout,
		StoreTimeout:      cfg.ConnectTimeout,
	}
}

func play(parent context.Context, cfg *config.Config, who lobby.Identity, act action, in io.Reader, out io.Writer) error {
	logger, err := logging.NewConsole(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(bus.WebsocketTransport{URL: cfg.RelayURL, WriteTimeout: cfg.SendTimeout}, bus.Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		ConnectAttempts: cfg.ConnectAttempts,
		RetryDelay:      500 * time.Millisecond,
		KeepAlive:       20 * time.Second,
	}, logger)
	st := store.NewHTTP(cfg.StoreURL, &http.Client{Timeout: cfg.ConnectTimeout})

	// The lobby outlives an interrupt so it can still say goodbye.
	l := lobby.New(parent, who, lobby.Deps{Bus: b, Store: st, Words: words.Default(), Logger: logger}, lobbyOptions(cfg))
	defer func() { _ = l.Close() }()

	sup := reconnect.New(ctx, b, l, reconnect.Options{
		Debounce:            cfg.ReconnectDebounce,
		BackgroundThreshold: cfg.BackgroundThreshold,
		MaxAttempts:         cfg.ReconnectAttempts,
		RetryDelay:          2 * time.Second,
	}, logger)
	defer sup.Close()
	defer b.SubscribeStatus(sup.BusStatus)()
	go watchNetwork(ctx, cfg.StoreURL, cfg.HeartbeatInterval, sup, logger)
	go watchVisibility(ctx, sup)

	r := &renderer{out: out, self: who.UserID}
	room, err := act(ctx, l)
	switch {
	case errors.Is(err, lobby.ErrRoomFinished):
		r.summary(room)
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "challenge %s as %s\ninvite: %s/challenges/%s/invite.png\ntype help for commands\n",
		room.ID, who.Nickname, strings.TrimRight(cfg.StoreURL, "/"), room.ID)

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return goodbye(l, false)

		case err := <-sup.Errors():
			return fmt.Errorf("connection lost: %w", err)

		case v := <-l.Updates():
			r.render(v)

		case line, ok := <-lines:
			if !ok {
				return goodbye(l, false)
			}
			quit, err := dispatch(ctx, l, r, line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// dispatch runs one line of input and reports whether the session is over.
func dispatch(ctx context.Context, l *lobby.Lobby, r *renderer, line string) (bool, error) {
	verb, arg := parseCommand(line)
	switch verb {
	case "":
		return false, nil
	case "help":
		fmt.Fprintln(r.out, "ready | start | answer <word> | state | exit | leave")
		return false, nil
	case "ready":
		return false, l.ToggleReady(ctx)
	case "start":
		return false, l.StartGame(ctx)
	case "answer":
		return false, l.SubmitAnswer(ctx, arg)
	case "state":
		v, err := l.View(ctx)
		if err == nil {
			r.state(v)
		}
		return false, err
	case "exit":
		return true, goodbye(l, true)
	case "leave", "quit":
		return true, goodbye(l, false)
	}

	// bare text during a round is an answer
	v, err := l.View(ctx)
	if err != nil {
		return false, err
	}
	if v.CurrentWord != nil {
		return false, l.SubmitAnswer(ctx, strings.TrimSpace(line))
	}
	return false, fmt.Errorf("unknown command %q", verb)
}

func parseCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	verb, arg, _ = strings.Cut(line, " ")
	verb = strings.ToLower(verb)
	switch verb {
	case "a":
		verb = "answer"
	case "r":
		verb = "ready"
	}
	return verb, strings.TrimSpace(arg)
}

func goodbye(l *lobby.Lobby, exit bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if exit {
		err = l.ExitGame(ctx)
	} else {
		err = l.LeaveRoom(ctx)
	}
	if errors.Is(err, lobby.ErrNoRoom) {
		return nil
	}
	return err
}

// readLines feeds in line by line until it ends or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// watchNetwork probes the relay and tells the supervisor when it comes back.
func watchNetwork(ctx context.Context, base string, every time.Duration, sup *reconnect.Supervisor, logger *zap.Logger) {
	client := &http.Client{Timeout: every}
	url := strings.TrimRight(base, "/") + "/healthz"
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			logger.Warn("network probe", zap.Error(err))
			return
		}
		resp, err := client.Do(req)
		up := err == nil && resp.StatusCode == http.StatusOK
		if resp != nil {
			resp.Body.Close()
		}
		sup.SetOnline(up)
	}
}

// Package config holds the settings shared by the relay server and the
// terminal player, read from flags, the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "SPELLDUEL"

type Config struct {
	Bind        string
	Port        int
	DatabaseURL string
	RelayURL    string
	StoreURL    string
	LogLevel    string

	ConnectTimeout      time.Duration
	ConnectAttempts     int
	ReconnectDebounce   time.Duration
	ReconnectAttempts   int
	BackgroundThreshold time.Duration

	RoundPause        time.Duration
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
	HostTimeout       time.Duration
	SendTimeout       time.Duration
	IdleTimeout       time.Duration
}

func Default() Config {
	return Config{
		Bind:                "0.0.0.0",
		Port:                8080,
		RelayURL:            "ws://127.0.0.1:8080/ws",
		StoreURL:            "http://127.0.0.1:8080",
		LogLevel:            "info",
		ConnectTimeout:      10 * time.Second,
		ConnectAttempts:     3,
		ReconnectDebounce:   1500 * time.Millisecond,
		ReconnectAttempts:   5,
		BackgroundThreshold: 30 * time.Second,
		RoundPause:          3 * time.Second,
		HeartbeatInterval:   5 * time.Second,
		SyncInterval:        15 * time.Second,
		HostTimeout:         20 * time.Second,
		SendTimeout:         3 * time.Second,
		IdleTimeout:         60 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("connect-attempts must be at least 1: %d", c.ConnectAttempts)
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("reconnect-attempts must be at least 1: %d", c.ReconnectAttempts)
	}

	durations := map[string]time.Duration{
		"connect-timeout":    c.ConnectTimeout,
		"reconnect-debounce": c.ReconnectDebounce,
		"round-pause":        c.RoundPause,
		"heartbeat-interval": c.HeartbeatInterval,
		"sync-interval":      c.SyncInterval,
		"host-timeout":       c.HostTimeout,
		"send-timeout":       c.SendTimeout,
		"idle-timeout":       c.IdleTimeout,
	}
	var errs []error
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive: %s", name, d))
		}
	}
	if c.HostTimeout > 0 && c.HostTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("host-timeout (%s) must exceed heartbeat-interval (%s)", c.HostTimeout, c.HeartbeatInterval))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the relay server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// RegisterFlags declares every setting on flags with c's current values as
// defaults.
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	flags.StringVarP(&c.Bind, "bind", "b", c.Bind, "address to bind to (env: SPELLDUEL_BIND)")
	flags.IntVarP(&c.Port, "port", "p", c.Port, "port to listen on (env: SPELLDUEL_PORT)")
	flags.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "postgres dsn; in-memory store when empty (env: SPELLDUEL_DATABASE_URL)")
	flags.StringVar(&c.RelayURL, "relay-url", c.RelayURL, "relay websocket endpoint (env: SPELLDUEL_RELAY_URL)")
	flags.StringVar(&c.StoreURL, "store-url", c.StoreURL, "session store base url (env: SPELLDUEL_STORE_URL)")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error (env: SPELLDUEL_LOG_LEVEL)")
	flags.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "bound on each connection attempt (env: SPELLDUEL_CONNECT_TIMEOUT)")
	flags.IntVar(&c.ConnectAttempts, "connect-attempts", c.ConnectAttempts, "connection attempts before giving up (env: SPELLDUEL_CONNECT_ATTEMPTS)")
	flags.DurationVar(&c.ReconnectDebounce, "reconnect-debounce", c.ReconnectDebounce, "quiet period before reconnecting (env: SPELLDUEL_RECONNECT_DEBOUNCE)")
	flags.IntVar(&c.ReconnectAttempts, "reconnect-attempts", c.ReconnectAttempts, "reconnect attempts before surfacing a terminal error (env: SPELLDUEL_RECONNECT_ATTEMPTS)")
	flags.DurationVar(&c.BackgroundThreshold, "background-threshold", c.BackgroundThreshold, "time in background that forces a reconnect (env: SPELLDUEL_BACKGROUND_THRESHOLD)")
	flags.DurationVar(&c.RoundPause, "round-pause", c.RoundPause, "pause between rounds (env: SPELLDUEL_ROUND_PAUSE)")
	flags.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "host heartbeat period (env: SPELLDUEL_HEARTBEAT_INTERVAL)")
	flags.DurationVar(&c.SyncInterval, "sync-interval", c.SyncInterval, "host periodic sync period (env: SPELLDUEL_SYNC_INTERVAL)")
	flags.DurationVar(&c.HostTimeout, "host-timeout", c.HostTimeout, "host silence before a follower gives up on it (env: SPELLDUEL_HOST_TIMEOUT)")
	flags.DurationVar(&c.SendTimeout, "send-timeout", c.SendTimeout, "bound on each bus send (env: SPELLDUEL_SEND_TIMEOUT)")
	flags.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "relay read timeout per connection (env: SPELLDUEL_IDLE_TIMEOUT)")
}

// LoadEnv reads the given .env files into the process environment. Missing
// files are ignored; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv copies SPELLDUEL_* values onto flags the user did not set
// explicitly.
func ApplyEnv(flags *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("env %s_%s: %w", EnvPrefix, envKey(f.Name), err))
			}
		}
	})
	return errors.Join(errs...)
}

func envKey(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

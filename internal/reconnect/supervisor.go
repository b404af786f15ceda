// Package reconnect re-arms the bus after an outage. It watches network
// reachability, foreground/background visibility and the bus's own status,
// and after a debounce window recreates the subscription and re-announces
// presence. State repair is left to the host's sync.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/spellduel/internal/bus"
	"go.uber.org/zap"
)

var ErrExhausted = errors.New("reconnect attempts exhausted")

// Recreator is the part of the bus the supervisor drives.
type Recreator interface {
	Recreate(ctx context.Context) error
}

// Announcer re-publishes local presence on a fresh subscription.
type Announcer interface {
	Reannounce(ctx context.Context) error
}

type Options struct {
	Debounce            time.Duration
	BackgroundThreshold time.Duration
	MaxAttempts         int
	RetryDelay          time.Duration
	Now                 func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Debounce:            1500 * time.Millisecond,
		BackgroundThreshold: 30 * time.Second,
		MaxAttempts:         5,
		RetryDelay:          2 * time.Second,
	}
}

type Msg interface{ isSupervisorMsg() }

type online struct{ up bool }
type visible struct{ fg bool }
type busStatus struct{ s bus.Status }
type fire struct{ gen int }
type done struct{ err error }

func (online) isSupervisorMsg()    {}
func (visible) isSupervisorMsg()   {}
func (busStatus) isSupervisorMsg() {}
func (fire) isSupervisorMsg()      {}
func (done) isSupervisorMsg()      {}

type Supervisor struct {
	inbox  chan Msg
	errs   chan error
	bus    Recreator
	ann    Announcer
	opts   Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// owned by loop
	online   bool
	hiddenAt time.Time
	timer    *time.Timer
	gen      int
	running  bool
	again    bool
}

func New(parent context.Context, r Recreator, a Announcer, opts Options, logger *zap.Logger) *Supervisor {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		inbox:  make(chan Msg, 32),
		errs:   make(chan error, 1),
		bus:    r,
		ann:    a,
		opts:   opts,
		logger: logger.Named("reconnect"),
		ctx:    ctx,
		cancel: cancel,
		online: true,
	}
	go s.loop()
	return s
}

// Errors delivers the terminal failure once attempts are exhausted.
func (s *Supervisor) Errors() <-chan error { return s.errs }

func (s *Supervisor) SetOnline(up bool) { s.post(online{up}) }

func (s *Supervisor) SetVisible(fg bool) { s.post(visible{fg}) }

// BusStatus is meant to be registered with bus.Adapter.SubscribeStatus.
func (s *Supervisor) BusStatus(st bus.Status) { s.post(busStatus{st}) }

func (s *Supervisor) Close() { s.cancel() }

func (s *Supervisor) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) loop() {
	for {
		select {
		case <-s.ctx.Done():
			if s.timer != nil {
				s.timer.Stop()
			}
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case online:
				was := s.online
				s.online = msg.up
				if msg.up && !was {
					s.schedule("network back")
				}

			case visible:
				if !msg.fg {
					if s.hiddenAt.IsZero() {
						s.hiddenAt = s.opts.Now()
					}
					break
				}
				if s.hiddenAt.IsZero() {
					break
				}
				away := s.opts.Now().Sub(s.hiddenAt)
				s.hiddenAt = time.Time{}
				if away >= s.opts.BackgroundThreshold {
					s.schedule("back from background")
				}

			case busStatus:
				if msg.s == bus.StatusDisconnected && s.online && !s.running {
					s.schedule("bus disconnected")
				}

			case fire:
				if msg.gen != s.gen {
					break // superseded by a later signal
				}
				if !s.online {
					break // wait for the network to come back
				}
				if s.running {
					s.again = true
					break
				}
				s.running = true
				go s.run()

			case done:
				s.running = false
				if msg.err != nil {
					s.fail(msg.err)
					break
				}
				if s.again {
					s.again = false
					s.schedule("signal during reconnect")
				}
			}
		}
	}
}

// schedule (re)starts the debounce window; a storm of signals collapses into
// one attempt.
func (s *Supervisor) schedule(reason string) {
	s.gen++
	gen := s.gen
	s.logger.Debug("reconnect scheduled", zap.String("reason", reason))
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.Debounce, func() { s.post(fire{gen}) })
}

func (s *Supervisor) run() {
	var last error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := s.bus.Recreate(s.ctx)
		if err == nil {
			if err = s.ann.Reannounce(s.ctx); err == nil {
				s.logger.Info("reconnected", zap.Int("attempt", attempt))
				s.post(done{})
				return
			}
		}
		if errors.Is(err, bus.ErrNotOpen) || s.ctx.Err() != nil {
			// torn down underneath us: nothing to heal
			s.post(done{})
			return
		}
		last = err
		s.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.opts.MaxAttempts {
			select {
			case <-time.After(s.opts.RetryDelay):
			case <-s.ctx.Done():
				s.post(done{})
				return
			}
		}
	}
	s.post(done{err: fmt.Errorf("%w after %d attempts: %w", ErrExhausted, s.opts.MaxAttempts, last)})
}

func (s *Supervisor) fail(err error) {
	s.logger.Error("giving up", zap.Error(err))
	select {
	case s.errs <- err:
	default:
	}
}

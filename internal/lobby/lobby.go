// Package lobby runs one participant's side of a challenge. Every mutation of
// the local room happens on a single actor goroutine, fed by the local API,
// inbound bus messages, presence events and timers.
//
// The creator's process is the host: it applies commands to the game engine
// and broadcasts the outcome. Everyone else is a follower that only folds the
// host's messages into a replica and sends intents.
package lobby

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/spellduel/internal/bus"
	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/presence"
	"github.com/DoyleJ11/spellduel/internal/protocol"
	"github.com/DoyleJ11/spellduel/internal/store"
	"github.com/DoyleJ11/spellduel/internal/words"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCannotConnect = bus.ErrCannotConnect
	ErrRoomFull      = engine.ErrRoomFull
	ErrRoomFinished  = engine.ErrRoomClosed
	ErrRoomNotFound  = store.ErrNotFound
	ErrNotHost       = errors.New("only the host can do that")
	ErrNoRoom        = errors.New("not in a room")
	ErrInRoom        = errors.New("already in a room")
	ErrClosed        = errors.New("lobby closed")
)

type Role string

const (
	RoleHost     Role = "host"
	RoleFollower Role = "follower"
)

type Identity struct {
	UserID    string
	Nickname  string
	AvatarURL string
}

// Bus is what the lobby needs from bus.Adapter.
type Bus interface {
	Open(ctx context.Context, channel, selfID string) error
	Close() error
	Broadcast(ctx context.Context, m protocol.Message) error
	SendTo(ctx context.Context, userID string, m protocol.Message) error
	Track(ctx context.Context, meta protocol.PresenceMeta) error
	Untrack(ctx context.Context) error
	OnMessage(fn func(channel string, m protocol.Message))
	OnPresence(fn func(bus.PresenceEvent))
	SubscribeStatus(fn func(bus.Status)) func()
	Status() bus.Status
}

type Deps struct {
	Bus    Bus
	Store  store.Store
	Words  words.Source
	Logger *zap.Logger
}

type Options struct {
	RoundPause        time.Duration
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
	HostTimeout       time.Duration
	JoinTimeout       time.Duration
	SendTimeout       time.Duration
	StoreTimeout      time.Duration
	Now               func() time.Time
	NewID             func() string
}

func DefaultOptions() Options {
	return Options{
		RoundPause:        3 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		SyncInterval:      15 * time.Second,
		HostTimeout:       20 * time.Second,
		JoinTimeout:       10 * time.Second,
		SendTimeout:       3 * time.Second,
		StoreTimeout:      5 * time.Second,
	}
}

// View is the read-only state handed to the UI.
type View struct {
	Self          string
	Role          Role
	Room          engine.Room
	CurrentWord   *engine.Word
	Round         int
	TimeRemaining time.Duration
	LastRound     *engine.RoundRecord
	Connection    bus.Status
}

type Msg interface{ isLobbyMsg() }

type roomResult struct {
	room engine.Room
	err  error
}

type createRoom struct {
	cfg   engine.Config
	reply chan roomResult
}

type joinRoom struct {
	id    string
	reply chan roomResult
}

type leaveRoom struct {
	exit  bool
	reply chan error
}

type toggleReady struct{ reply chan error }

type startGame struct{ reply chan error }

type submitAnswer struct {
	text  string
	reply chan error
}

type reannounce struct{ reply chan error }

type getView struct{ reply chan View }

type inbound struct {
	channel string
	msg     protocol.Message
}

type presenceEvent struct{ ev bus.PresenceEvent }

type connStatus struct{ status bus.Status }

type timerFired struct {
	kind  timerKind
	gen   int
	round int
}

type shutdown struct{ reply chan error }

func (createRoom) isLobbyMsg()    {}
func (joinRoom) isLobbyMsg()      {}
func (leaveRoom) isLobbyMsg()     {}
func (toggleReady) isLobbyMsg()   {}
func (startGame) isLobbyMsg()     {}
func (submitAnswer) isLobbyMsg()  {}
func (reannounce) isLobbyMsg()    {}
func (getView) isLobbyMsg()       {}
func (inbound) isLobbyMsg()       {}
func (presenceEvent) isLobbyMsg() {}
func (connStatus) isLobbyMsg()    {}
func (timerFired) isLobbyMsg()    {}
func (shutdown) isLobbyMsg()      {}

type Lobby struct {
	self    Identity
	deps    Deps
	opts    Options
	logger  *zap.Logger
	inbox   chan Msg
	updates chan View
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	unsubStatus func()

	// owned by loop
	role          Role
	room          engine.Room
	tracker       *presence.Tracker
	timers        [timerKinds]*time.Timer
	gens          [timerKinds]int
	roundStarted  time.Time
	roundDeadline time.Time
	lastSync      time.Time
	answered      map[int]bool
	pendingJoin   chan roomResult

	snap    snapshotter
	final   singleflight.Group
	writeMu sync.Mutex
	saved   map[string]bool
}

func New(parent context.Context, self Identity, deps Deps, opts Options) *Lobby {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Words == nil {
		deps.Words = words.Default()
	}

	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		self:    self,
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger.Named("lobby").With(zap.String("user", self.UserID)),
		inbox:   make(chan Msg, 64),
		updates: make(chan View, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		snap:    snapshotter{signal: make(chan struct{}, 1)},
		saved:   make(map[string]bool),
	}

	deps.Bus.OnMessage(func(channel string, m protocol.Message) { l.post(inbound{channel: channel, msg: m}) })
	deps.Bus.OnPresence(func(ev bus.PresenceEvent) { l.post(presenceEvent{ev: ev}) })
	// Status changes are reported from inside bus calls the actor itself
	// makes, so this handler must never wait on the inbox.
	l.unsubStatus = deps.Bus.SubscribeStatus(func(s bus.Status) {
		select {
		case l.inbox <- connStatus{status: s}:
		default:
		}
	})

	go l.loop()
	go l.snapshotWorker()
	return l
}

// post hands m to the actor; it blocks until accepted or the lobby stops.
func (l *Lobby) post(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}

func call[T any](ctx context.Context, l *Lobby, m Msg, reply chan T) (T, error) {
	var zero T
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func callErr(ctx context.Context, l *Lobby, m Msg, reply chan error) error {
	err, sendErr := call(ctx, l, m, reply)
	if sendErr != nil {
		return sendErr
	}
	return err
}

// CreateRoom opens a new room with the local participant as host.
func (l *Lobby) CreateRoom(ctx context.Context, cfg engine.Config) (engine.Room, error) {
	reply := make(chan roomResult, 1)
	res, err := call(ctx, l, createRoom{cfg: cfg, reply: reply}, reply)
	if err != nil {
		return engine.Room{}, err
	}
	return res.room, res.err
}

// JoinRoom enters an existing room. A finished room comes back with
// ErrRoomFinished for read-only display.
func (l *Lobby) JoinRoom(ctx context.Context, id string) (engine.Room, error) {
	reply := make(chan roomResult, 1)
	res, err := call(ctx, l, joinRoom{id: id, reply: reply}, reply)
	if err != nil {
		return engine.Room{}, err
	}
	return res.room, res.err
}

func (l *Lobby) LeaveRoom(ctx context.Context) error {
	reply := make(chan error, 1)
	return callErr(ctx, l, leaveRoom{reply: reply}, reply)
}

// ExitGame quits a game in progress; outside a game it is LeaveRoom.
func (l *Lobby) ExitGame(ctx context.Context) error {
	reply := make(chan error, 1)
	return callErr(ctx, l, leaveRoom{exit: true, reply: reply}, reply)
}

func (l *Lobby) ToggleReady(ctx context.Context) error {
	reply := make(chan error, 1)
	return callErr(ctx, l, toggleReady{reply: reply}, reply)
}

func (l *Lobby) StartGame(ctx context.Context) error {
	reply := make(chan error, 1)
	return callErr(ctx, l, startGame{reply: reply}, reply)
}

// SubmitAnswer answers the round in play. Answering twice, or with no round
// in play, does nothing.
func (l *Lobby) SubmitAnswer(ctx context.Context, text string) error {
	reply := make(chan error, 1)
	return callErr(ctx, l, submitAnswer{text: text, reply: reply}, reply)
}

// Reannounce re-publishes presence on a fresh subscription. The reconnect
// supervisor calls it after recreating the bus.
func (l *Lobby) Reannounce(ctx context.Context) error {
	reply := make(chan error, 1)
	return callErr(ctx, l, reannounce{reply: reply}, reply)
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	return call(ctx, l, getView{reply: reply}, reply)
}

// Updates carries the latest view after every change. Only the newest view
// is kept for a slow reader.
func (l *Lobby) Updates() <-chan View { return l.updates }

// Close stops the actor without announcing anything, as if the process died.
func (l *Lobby) Close() error {
	reply := make(chan error, 1)
	err, sendErr := call(context.Background(), l, shutdown{reply: reply}, reply)
	<-l.stopped
	if sendErr != nil && !errors.Is(sendErr, ErrClosed) {
		return sendErr
	}
	return err
}

func (l *Lobby) loop() {
	defer close(l.stopped)
	defer l.unsubStatus()
	for {
		select {
		case <-l.ctx.Done():
			if l.role != "" {
				_ = l.teardown()
			}
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case createRoom:
				msg.reply <- l.handleCreate(msg.cfg)

			case joinRoom:
				l.handleJoin(msg.id, msg.reply)

			case leaveRoom:
				msg.reply <- l.handleLeave(msg.exit)

			case toggleReady:
				msg.reply <- l.handleToggleReady()

			case startGame:
				msg.reply <- l.handleStart()

			case submitAnswer:
				msg.reply <- l.handleAnswer(msg.text)

			case reannounce:
				msg.reply <- l.handleReannounce()

			case getView:
				msg.reply <- l.view()

			case inbound:
				l.handleInbound(msg.channel, msg.msg)

			case presenceEvent:
				l.handlePresence(msg.ev)

			case connStatus:
				l.logger.Debug("connection", zap.String("status", string(msg.status)))
				if l.role == RoleFollower {
					l.watchHost()
				}
				l.emit()

			case timerFired:
				l.handleTimer(msg)

			case shutdown:
				var err error
				if l.role != "" {
					err = l.teardown()
				}
				msg.reply <- err
				l.cancel()
				return
			}
		}
	}
}

func (l *Lobby) view() View {
	v := View{
		Self:       l.self.UserID,
		Role:       l.role,
		Room:       l.room.Clone(),
		Round:      l.room.CurrentRound,
		Connection: l.deps.Bus.Status(),
	}
	if rec, ok := v.Room.ActiveRound(); ok {
		w := rec.Word
		v.CurrentWord = &w
		if left := l.roundDeadline.Sub(l.opts.Now()); left > 0 {
			v.TimeRemaining = left
		}
	}
	for i := len(v.Room.GameWords) - 1; i >= 0; i-- {
		if v.Room.GameWords[i].Status == engine.RoundFinished {
			rec := v.Room.GameWords[i]
			v.LastRound = &rec
			break
		}
	}
	return v
}

// emit publishes the current view, replacing one the reader has not taken.
func (l *Lobby) emit() {
	v := l.view()
	select {
	case l.updates <- v:
		return
	default:
	}
	select {
	case <-l.updates:
	default:
	}
	select {
	case l.updates <- v:
	default:
	}
}

func (l *Lobby) nowMs() int64 { return l.opts.Now().UnixMilli() }

func (l *Lobby) channel() string { return protocol.ChannelName(l.room.ID) }

func (l *Lobby) selfParticipant() engine.Participant {
	return engine.Participant{UserID: l.self.UserID, Nickname: l.self.Nickname, AvatarURL: l.self.AvatarURL}
}

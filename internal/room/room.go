// Package room runs one battle as a single-writer actor. Every mutation,
// including timer fires and finished content lookups, goes through the
// room's inbox and is applied by its loop goroutine.
package room

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

// ErrClosed is returned once the room's loop has stopped.
var ErrClosed = fmt.Errorf("%w: room closed", engine.ErrNotFound)

// RoundPreparer builds the next round for a room of playerCount players.
type RoundPreparer interface {
	PrepareRound(ctx context.Context, playerCount int) (engine.Round, error)
}

type Msg interface{ isRoomMsg() }

// FromClient applies a player command (Join, SetReady, Start, Submit).
type FromClient struct {
	Cmd   engine.Command
	Reply chan Result
}

func (FromClient) isRoomMsg() {}

// NextRound asks for the next round on behalf of userID, who must be the
// creator. The reply arrives once the round has started or preparation failed.
type NextRound struct {
	UserID string
	Reply  chan Result
}

func (NextRound) isRoomMsg() {}

type Subscribe struct {
	ClientID string
	ViewerID string
	Outbox   chan Snapshot // masked snapshots for ViewerID
}

func (Subscribe) isRoomMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type timerKind int

const (
	timerRoundTimeout timerKind = iota
	timerNextRound
)

type timerFired struct {
	Gen   uint64
	Kind  timerKind
	Round int
}

func (timerFired) isRoomMsg() {}

type roundPrepared struct {
	Round engine.Round
	Err   error
}

func (roundPrepared) isRoomMsg() {}

type Snapshot struct {
	Version int
	State   engine.State
}

type Result struct {
	Version int
	Events  []engine.Event
	State   engine.State
	Err     error
}

type View struct {
	Version        int
	NumSubscribers int
	Preparing      bool
	State          engine.State
}

type Options struct {
	RoundTimeout   time.Duration
	RevealDuration time.Duration
	RetryDelay     time.Duration
	ContentTimeout time.Duration

	Now    func() time.Time
	Logger *zap.Logger

	// OnChange receives every versioned snapshot from the loop goroutine.
	// It must not block.
	OnChange func(Snapshot)
}

func (o *Options) setDefaults() {
	if o.RoundTimeout <= 0 {
		o.RoundTimeout = 45 * time.Second
	}
	if o.RevealDuration < 0 {
		o.RevealDuration = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.ContentTimeout <= 0 {
		o.ContentTimeout = 3 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type subscriber struct {
	viewerID string
	outbox   chan Snapshot
}

type Room struct {
	inbox    chan Msg
	state    engine.State
	version  int
	subs     map[string]subscriber
	prep     RoundPreparer
	opts     Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	timer    *time.Timer
	timerGen uint64

	preparing    bool
	pendingRound []chan Result
}

// New starts the room loop. version is the last persisted version, zero for
// a fresh room. A restored room re-arms whatever timer its status implies.
func New(parent context.Context, initial engine.State, version int, prep RoundPreparer, opts Options) *Room {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		inbox:   make(chan Msg, 64),
		state:   initial.Clone(),
		version: version,
		subs:    make(map[string]subscriber),
		prep:    prep,
		opts:    opts,
		log:     opts.Logger.Named("room").With(zap.String("code", initial.Code)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.resume()

	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed when the loop has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case FromClient:
				msg.Reply <- r.handleCommand(msg.Cmd)

			case NextRound:
				r.handleNextRound(msg)

			case Subscribe:
				r.subs[msg.ClientID] = subscriber{viewerID: msg.ViewerID, outbox: msg.Outbox}
				r.sendTo(msg.ClientID, r.subs[msg.ClientID])

			case Unsubscribe:
				if s, ok := r.subs[msg.ClientID]; ok {
					close(s.outbox)
					delete(r.subs, msg.ClientID)
				}

			case GetState:
				msg.Reply <- View{
					Version:        r.version,
					NumSubscribers: len(r.subs),
					Preparing:      r.preparing,
					State:          r.state.Clone(),
				}

			case timerFired:
				r.handleTimer(msg)

			case roundPrepared:
				r.handlePrepared(msg)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleCommand(cmd engine.Command) Result {
	if r.state.Expired(r.opts.Now()) {
		return Result{Version: r.version, State: r.state.Clone(), Err: engine.ErrRoomExpired}
	}
	if cmd.Type == engine.CmdStartRound || cmd.Type == engine.CmdEvaluate {
		// Driven by the room itself.
		return Result{Version: r.version, State: r.state.Clone(), Err: engine.ErrUnsupportedCommand}
	}

	events, err := r.apply(cmd)
	if err != nil {
		return Result{Version: r.version, State: r.state.Clone(), Err: err}
	}
	res := Result{Version: r.version, Events: events, State: r.state.Clone()}

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtBattleStarted:
			r.beginPrepare()
		case engine.EvtAllSubmitted:
			r.evaluate(ev.RoundNumber)
		}
	}
	return res
}

func (r *Room) handleNextRound(msg NextRound) {
	fail := func(err error) {
		msg.Reply <- Result{Version: r.version, State: r.state.Clone(), Err: err}
	}
	switch {
	case r.state.Expired(r.opts.Now()):
		fail(engine.ErrRoomExpired)
		return
	case msg.UserID != r.state.CreatorID:
		fail(engine.ErrNotCreator)
		return
	case r.state.Status == engine.StatusCompleted, r.state.CurrentRound >= r.state.SongCount:
		fail(engine.ErrBattleCompleted)
		return
	case r.state.Status != engine.StatusStarted && r.state.Status != engine.StatusEvaluating:
		fail(engine.ErrWrongState)
		return
	}

	r.pendingRound = append(r.pendingRound, msg.Reply)
	r.disarm()
	r.beginPrepare()
}

func (r *Room) handleTimer(msg timerFired) {
	if msg.Gen != r.timerGen {
		r.log.Debug("dropping stale timer", zap.Uint64("gen", msg.Gen), zap.Uint64("current", r.timerGen))
		return
	}
	r.timer = nil
	if r.state.Expired(r.opts.Now()) {
		return
	}

	switch msg.Kind {
	case timerRoundTimeout:
		r.log.Info("round timed out", zap.Int("round", msg.Round))
		r.evaluate(msg.Round)
	case timerNextRound:
		r.beginPrepare()
	}
}

func (r *Room) handlePrepared(msg roundPrepared) {
	r.preparing = false
	pending := r.pendingRound
	r.pendingRound = nil

	reply := func(res Result) {
		for _, ch := range pending {
			ch <- res
		}
	}

	if msg.Err != nil {
		r.log.Warn("round preparation failed", zap.Int("round", r.state.CurrentRound+1), zap.Error(msg.Err))
		reply(Result{Version: r.version, State: r.state.Clone(), Err: msg.Err})
		r.retryPrepare()
		return
	}

	events, err := r.apply(engine.Command{Type: engine.CmdStartRound, Round: &msg.Round})
	if err != nil {
		r.log.Warn("prepared round rejected", zap.String("song", msg.Round.SongID), zap.Error(err))
		reply(Result{Version: r.version, State: r.state.Clone(), Err: err})
		r.retryPrepare()
		return
	}
	r.log.Info("round started", zap.Int("round", r.state.CurrentRound), zap.String("song", msg.Round.SongID))
	r.arm(r.opts.RoundTimeout, timerRoundTimeout, r.state.CurrentRound)
	reply(Result{Version: r.version, Events: events, State: r.state.Clone()})
}

// retryPrepare schedules another preparation while a round is still owed.
func (r *Room) retryPrepare() {
	if r.state.Status == engine.StatusStarted || r.state.Status == engine.StatusEvaluating {
		r.arm(r.opts.RetryDelay, timerNextRound, 0)
	}
}

// evaluate scores roundNumber. Both the all-submitted path and the round
// timer land here; the reducer rejects whichever comes second.
func (r *Room) evaluate(roundNumber int) {
	events, err := r.apply(engine.Command{Type: engine.CmdEvaluate, RoundNumber: roundNumber})
	if err != nil {
		r.log.Debug("evaluate skipped", zap.Int("round", roundNumber), zap.Error(err))
		return
	}
	r.disarm()
	for _, ev := range events {
		if ev.Type == engine.EvtBattleCompleted {
			r.log.Info("battle completed")
			return
		}
	}
	r.arm(r.opts.RevealDuration, timerNextRound, 0)
}

func (r *Room) beginPrepare() {
	if r.preparing {
		return
	}
	r.preparing = true
	playerCount := len(r.state.Players)

	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.ContentTimeout)
		defer cancel()
		round, err := r.prep.PrepareRound(ctx, playerCount)
		r.send(roundPrepared{Round: round, Err: err})
	}()
}

// apply runs the reducer and, when something changed, bumps the version,
// broadcasts and hands the snapshot to OnChange.
func (r *Room) apply(cmd engine.Command) ([]engine.Event, error) {
	events, next, err := engine.Apply(r.state, cmd)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	r.state = next
	r.version++
	r.broadcast()
	if r.opts.OnChange != nil {
		r.opts.OnChange(Snapshot{Version: r.version, State: r.state.Clone()})
	}
	return events, nil
}

// resume re-arms timers for a room loaded from storage.
func (r *Room) resume() {
	switch r.state.Status {
	case engine.StatusRoundInProgress:
		cur := r.state.Rounds[r.state.CurrentRound-1]
		left := max(0, r.opts.RoundTimeout-r.opts.Now().Sub(cur.StartedAt))
		r.arm(left, timerRoundTimeout, cur.RoundNumber)
	case engine.StatusStarted, engine.StatusEvaluating:
		r.arm(r.opts.RevealDuration, timerNextRound, 0)
	}
}

func (r *Room) arm(d time.Duration, kind timerKind, round int) {
	r.disarm()
	gen := r.timerGen
	r.timer = time.AfterFunc(d, func() {
		r.send(timerFired{Gen: gen, Kind: kind, Round: round})
	})
}

// disarm stops the pending timer and invalidates any fire already queued.
func (r *Room) disarm() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

// send is used by timer and preparation goroutines; it gives up once the
// room is shutting down.
func (r *Room) send(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *Room) shutdown() {
	r.disarm()
	for _, ch := range r.pendingRound {
		ch <- Result{Version: r.version, State: r.state.Clone(), Err: ErrClosed}
	}
	r.pendingRound = nil
	for id, s := range r.subs {
		close(s.outbox) // no more snapshots
		delete(r.subs, id)
	}
	r.cancel()
}

func (r *Room) broadcast() {
	for id, s := range r.subs {
		r.sendTo(id, s)
	}
}

func (r *Room) sendTo(id string, s subscriber) {
	select {
	case s.outbox <- Snapshot{Version: r.version, State: r.state.ViewFor(s.viewerID)}:
	default:
		// Slow subscriber, drop them.
		close(s.outbox)
		delete(r.subs, id)
	}
}

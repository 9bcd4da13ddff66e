package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

// fakePreparer hands out a fixed question; the first failN calls fail and
// the next badN return a round without correct answers.
type fakePreparer struct {
	mu    sync.Mutex
	calls int
	failN int
	badN  int
}

func (f *fakePreparer) PrepareRound(ctx context.Context, playerCount int) (engine.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return engine.Round{}, fmt.Errorf("%w: content down", engine.ErrNotFound)
	}
	if f.calls <= f.failN+f.badN {
		return engine.Round{SongID: "broken", Options: []engine.Tag{{Name: "jazz"}}}, nil
	}
	return engine.Round{
		SongID: fmt.Sprintf("song-%d", f.calls),
		Title:  "So What",
		Options: []engine.Tag{
			{Name: "jazz", Family: "jazz"},
			{Name: "bebop", Family: "jazz"},
			{Name: "rock", Family: "rock"},
		},
		CorrectAnswers: []engine.Tag{{Name: "jazz", Family: "jazz"}},
		StartedAt:      time.Now(),
	}, nil
}

func (f *fakePreparer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("subscriber outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no snapshot within %v, but got version %d", within, s.Version)
	case <-time.After(within):
	}
}

// waitFor polls the room until cond holds.
func waitFor(t *testing.T, r *Room, within time.Duration, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(within)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		v, err := r.View(ctx)
		cancel()
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v; status=%s round=%d", within, v.State.Status, v.State.CurrentRound)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusIs(s engine.Status, round int) func(View) bool {
	return func(v View) bool { return v.State.Status == s && v.State.CurrentRound == round }
}

func testOptions() Options {
	return Options{
		RoundTimeout:   time.Hour,
		RevealDuration: time.Hour,
		RetryDelay:     20 * time.Millisecond,
		ContentTimeout: time.Second,
	}
}

func newTestRoom(t *testing.T, songCount int, prep RoundPreparer, opts Options, players ...string) *Room {
	t.Helper()
	init, err := engine.NewState("ABC123", "creator", songCount, time.Now())
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	r := New(context.Background(), init, 0, prep, opts)
	t.Cleanup(r.Close)

	for _, id := range append([]string{"creator"}, players...) {
		if _, err := r.Do(context.Background(), engine.Command{Type: engine.CmdJoin, UserID: id}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	return r
}

func startBattle(t *testing.T, r *Room) {
	t.Helper()
	if _, err := r.Do(context.Background(), engine.Command{Type: engine.CmdStart, UserID: "creator"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, r, time.Second, statusIs(engine.StatusRoundInProgress, 1))
}

func submit(ctx context.Context, r *Room, userID string, round int, tags ...string) error {
	_, err := r.Do(ctx, engine.Command{Type: engine.CmdSubmit, UserID: userID, RoundNumber: round, TagNames: tags})
	return err
}

func TestRoom_Join_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	r := newTestRoom(t, 1, &fakePreparer{}, testOptions())

	out := make(chan Snapshot, 2)
	if err := r.Subscribe(context.Background(), "c1", "creator", out); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := recvSnapshot(t, out, 100*time.Millisecond)
	if first.Version != 1 {
		t.Fatalf("after subscribe: want version=1, got %d", first.Version)
	}

	res, err := r.Do(context.Background(), engine.Command{Type: engine.CmdJoin, UserID: "p2", Name: "Ada"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("join result: want version=2, got %d", res.Version)
	}

	next := recvSnapshot(t, out, 100*time.Millisecond)
	if next.Version != 2 || len(next.State.Players) != 2 {
		t.Fatalf("after join: want version=2 with 2 players, got v%d %+v", next.Version, next.State.Players)
	}
}

func TestRoom_Rejoin_NoBroadcast(t *testing.T) {
	r := newTestRoom(t, 1, &fakePreparer{}, testOptions(), "p2")

	out := make(chan Snapshot, 2)
	_ = r.Subscribe(context.Background(), "c1", "p2", out)
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	res, err := r.Do(context.Background(), engine.Command{Type: engine.CmdJoin, UserID: "p2", Name: "changed"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if p, _ := res.State.Player("p2"); p.Name != "" {
		t.Fatalf("rejoin must not modify the player, got %+v", p)
	}
	recvNoSnapshot(t, out, 50*time.Millisecond)
}

func TestRoom_Start_PreparesFirstRound(t *testing.T) {
	prep := &fakePreparer{}
	r := newTestRoom(t, 2, prep, testOptions(), "p2")

	out := make(chan Snapshot, 4)
	_ = r.Subscribe(context.Background(), "c1", "p2", out)
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	startBattle(t, r)

	started := recvSnapshot(t, out, 100*time.Millisecond)
	if started.State.Status != engine.StatusStarted {
		t.Fatalf("want started snapshot, got %s", started.State.Status)
	}
	round := recvSnapshot(t, out, 500*time.Millisecond)
	if round.State.Status != engine.StatusRoundInProgress {
		t.Fatalf("want round_in_progress snapshot, got %s", round.State.Status)
	}
	if round.State.Rounds[0].CorrectAnswers != nil {
		t.Fatalf("correct answers leaked to a selecting round: %+v", round.State.Rounds[0].CorrectAnswers)
	}
	if prep.Calls() != 1 {
		t.Fatalf("want one preparation, got %d", prep.Calls())
	}
}

func TestRoom_ConcurrentSubmissions_EvaluatedExactlyOnce(t *testing.T) {
	players := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	evaluations := 0
	var mu sync.Mutex
	opts := testOptions()
	opts.OnChange = func(s Snapshot) {
		if len(s.State.Rounds) > 0 && s.State.Rounds[0].Status == engine.RoundCompleted && s.State.Status == engine.StatusEvaluating {
			mu.Lock()
			evaluations++
			mu.Unlock()
		}
	}
	r := newTestRoom(t, 2, &fakePreparer{}, opts, players...)
	startBattle(t, r)

	all := append([]string{"creator"}, players...)
	var wg sync.WaitGroup
	errs := make(chan error, len(all))
	for _, id := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := submit(ctx, r, id, 1, "jazz"); err != nil {
				errs <- fmt.Errorf("%s: %w", id, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("submit: %v", err)
	}

	v := waitFor(t, r, time.Second, statusIs(engine.StatusEvaluating, 1))
	round := v.State.Rounds[0]
	if len(round.PlayerSelections) != len(all) {
		t.Fatalf("lost submissions: want %d, got %d", len(all), len(round.PlayerSelections))
	}
	for _, p := range v.State.Players {
		if p.Score != 1 {
			t.Fatalf("player %s: want score 1 (evaluated once), got %v", p.UserID, p.Score)
		}
	}

	// A late timer for the same round must be a no-op.
	r.Inbox() <- timerFired{Gen: 0, Kind: timerRoundTimeout, Round: 1}
	waitFor(t, r, time.Second, func(View) bool { return true })

	mu.Lock()
	defer mu.Unlock()
	if evaluations != 1 {
		t.Fatalf("want exactly one evaluation, got %d", evaluations)
	}
}

func TestRoom_RoundTimeout_EvaluatesPartialSubmissions(t *testing.T) {
	opts := testOptions()
	opts.RoundTimeout = 50 * time.Millisecond
	r := newTestRoom(t, 1, &fakePreparer{}, opts, "p2")
	startBattle(t, r)

	if err := submit(context.Background(), r, "p2", 1, "bebop"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	v := waitFor(t, r, time.Second, statusIs(engine.StatusCompleted, 1))
	round := v.State.Rounds[0]
	if round.Scores["p2"] != engine.FamilyMatchScore {
		t.Fatalf("p2: want family credit, got %v", round.Scores["p2"])
	}
	if round.Scores["creator"] != 0 || len(round.MatchingDetails["creator"]) != 0 {
		t.Fatalf("absent creator: want zero score and no details, got %v %+v", round.Scores["creator"], round.MatchingDetails["creator"])
	}
}

func TestRoom_TimerGen_DropsStaleFires(t *testing.T) {
	r := newTestRoom(t, 2, &fakePreparer{}, testOptions())
	startBattle(t, r)

	before := waitFor(t, r, time.Second, func(View) bool { return true })

	// Generations before the current one are stale, whatever their kind.
	r.Inbox() <- timerFired{Gen: 0, Kind: timerRoundTimeout, Round: 1}
	r.Inbox() <- timerFired{Gen: 0, Kind: timerNextRound}

	after := waitFor(t, r, time.Second, func(View) bool { return true })
	if after.Version != before.Version || after.State.Status != engine.StatusRoundInProgress {
		t.Fatalf("stale fire changed the room: v%d %s -> v%d %s",
			before.Version, before.State.Status, after.Version, after.State.Status)
	}
}

func TestRoom_RevealThenNextRound(t *testing.T) {
	opts := testOptions()
	opts.RevealDuration = 30 * time.Millisecond
	prep := &fakePreparer{}
	r := newTestRoom(t, 2, prep, opts)
	startBattle(t, r)

	if err := submit(context.Background(), r, "creator", 1, "jazz"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	v := waitFor(t, r, time.Second, statusIs(engine.StatusRoundInProgress, 2))
	if v.State.Rounds[0].Status != engine.RoundCompleted {
		t.Fatalf("round 1 should be completed, got %s", v.State.Rounds[0].Status)
	}

	if err := submit(context.Background(), r, "creator", 2, "jazz"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	v = waitFor(t, r, time.Second, statusIs(engine.StatusCompleted, 2))
	if v.State.Players[0].Score != 2 {
		t.Fatalf("want total score 2, got %v", v.State.Players[0].Score)
	}

	_, err := r.StartNextRound(context.Background(), "creator")
	if !errors.Is(err, engine.ErrBattleCompleted) || !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("start round after completion: want conflict, got %v", err)
	}
}

func TestRoom_ContentFailure_RetriesWithoutStateChange(t *testing.T) {
	prep := &fakePreparer{failN: 2}
	r := newTestRoom(t, 1, prep, testOptions())

	if _, err := r.Do(context.Background(), engine.Command{Type: engine.CmdStart, UserID: "creator"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	v := waitFor(t, r, 2*time.Second, statusIs(engine.StatusRoundInProgress, 1))
	if prep.Calls() != 3 {
		t.Fatalf("want 3 preparation attempts, got %d", prep.Calls())
	}
	if len(v.State.Rounds) != 1 {
		t.Fatalf("failed attempts must not append rounds, got %d", len(v.State.Rounds))
	}
}

func TestRoom_RejectedRound_Retries(t *testing.T) {
	prep := &fakePreparer{badN: 2}
	r := newTestRoom(t, 1, prep, testOptions())

	if _, err := r.Do(context.Background(), engine.Command{Type: engine.CmdStart, UserID: "creator"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	v := waitFor(t, r, 2*time.Second, statusIs(engine.StatusRoundInProgress, 1))
	if prep.Calls() != 3 {
		t.Fatalf("want 3 preparation attempts, got %d", prep.Calls())
	}
	if v.State.Rounds[0].SongID != "song-3" {
		t.Fatalf("want the first valid round, got %s", v.State.Rounds[0].SongID)
	}
}

func TestRoom_StartNextRound(t *testing.T) {
	opts := testOptions()
	opts.RetryDelay = time.Hour
	prep := &fakePreparer{failN: 1}
	r := newTestRoom(t, 1, prep, opts, "p2")

	if _, err := r.Do(context.Background(), engine.Command{Type: engine.CmdStart, UserID: "creator"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, r, time.Second, func(v View) bool { return !v.Preparing && prep.Calls() == 1 })

	if _, err := r.StartNextRound(context.Background(), "p2"); !errors.Is(err, engine.ErrNotCreator) {
		t.Fatalf("non-creator: want ErrNotCreator, got %v", err)
	}

	res, err := r.StartNextRound(context.Background(), "creator")
	if err != nil {
		t.Fatalf("manual start: %v", err)
	}
	if res.State.Status != engine.StatusRoundInProgress || res.State.CurrentRound != 1 {
		t.Fatalf("want round 1 in progress, got %s round %d", res.State.Status, res.State.CurrentRound)
	}

	if _, err := r.StartNextRound(context.Background(), "creator"); !errors.Is(err, engine.ErrBattleCompleted) {
		t.Fatalf("past songCount: want ErrBattleCompleted, got %v", err)
	}
}

func TestRoom_DropSlowSubscriber(t *testing.T) {
	r := newTestRoom(t, 1, &fakePreparer{}, testOptions())

	out := make(chan Snapshot, 1)
	_ = r.Subscribe(context.Background(), "c1", "creator", out) // fills the buffer

	if _, err := r.Do(context.Background(), engine.Command{Type: engine.CmdJoin, UserID: "p2"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	v, err := r.View(context.Background())
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.NumSubscribers != 0 {
		t.Fatalf("expected slow subscriber to be dropped; NumSubscribers=%d", v.NumSubscribers)
	}
}

func TestRoom_MasksPerViewer(t *testing.T) {
	r := newTestRoom(t, 1, &fakePreparer{}, testOptions(), "p2", "p3")
	startBattle(t, r)

	out := make(chan Snapshot, 4)
	_ = r.Subscribe(context.Background(), "c1", "p2", out)
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	if err := submit(context.Background(), r, "p3", 1, "rock"); err != nil {
		t.Fatalf("submit p3: %v", err)
	}
	snap := recvSnapshot(t, out, 100*time.Millisecond)
	if _, ok := snap.State.Rounds[0].PlayerSelections["p3"]; ok {
		t.Fatalf("p2 must not see p3's selection while selecting: %+v", snap.State.Rounds[0].PlayerSelections)
	}

	for _, id := range []string{"p2", "creator"} {
		if err := submit(context.Background(), r, id, 1, "jazz"); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	for {
		snap = recvSnapshot(t, out, 200*time.Millisecond)
		if snap.State.Rounds[0].Status == engine.RoundCompleted {
			break
		}
	}
	round := snap.State.Rounds[0]
	if len(round.PlayerSelections) != 3 || len(round.CorrectAnswers) != 1 {
		t.Fatalf("evaluated round should be unmasked, got %+v / %+v", round.PlayerSelections, round.CorrectAnswers)
	}
}

func TestRoom_Expired_RejectsCommands(t *testing.T) {
	opts := testOptions()
	var mu sync.Mutex
	now := time.Now()
	opts.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r := newTestRoom(t, 1, &fakePreparer{}, opts)

	mu.Lock()
	now = now.Add(engine.RoomTTL + time.Minute)
	mu.Unlock()

	_, err := r.Do(context.Background(), engine.Command{Type: engine.CmdJoin, UserID: "late"})
	if !errors.Is(err, engine.ErrRoomExpired) {
		t.Fatalf("want ErrRoomExpired, got %v", err)
	}
}

func TestRoom_Shutdown_StopsTimer_NoFire(t *testing.T) {
	opts := testOptions()
	opts.RoundTimeout = 50 * time.Millisecond
	r := newTestRoom(t, 1, &fakePreparer{}, opts)
	startBattle(t, r)

	out := make(chan Snapshot, 2)
	_ = r.Subscribe(context.Background(), "c1", "creator", out)
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	r.Inbox() <- Shutdown{}
	recvNoSnapshot(t, out, 150*time.Millisecond)

	if _, err := r.View(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("view after shutdown: want ErrClosed, got %v", err)
	}
}

func TestRoom_Restore_RearmsRoundTimer(t *testing.T) {
	init, _ := engine.NewState("RST001", "creator", 1, time.Now())
	init.Players = []engine.Player{{UserID: "creator", IsCreator: true}}
	init.Status = engine.StatusRoundInProgress
	init.CurrentRound = 1
	init.Rounds = []engine.Round{{
		RoundNumber:      1,
		SongID:           "s",
		Options:          []engine.Tag{{Name: "jazz"}},
		CorrectAnswers:   []engine.Tag{{Name: "jazz"}},
		PlayerSelections: map[string][]string{},
		Status:           engine.RoundSelecting,
		StartedAt:        time.Now().Add(-time.Minute),
	}}

	opts := testOptions()
	opts.RoundTimeout = 30 * time.Second // already elapsed
	r := New(context.Background(), init, 7, &fakePreparer{}, opts)
	t.Cleanup(r.Close)

	v := waitFor(t, r, time.Second, statusIs(engine.StatusCompleted, 1))
	if v.Version != 8 {
		t.Fatalf("want version to continue from 7, got %d", v.Version)
	}
}

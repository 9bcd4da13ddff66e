package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
	"github.com/ethanchen143/LoopBop-sub001/internal/room"
)

var ErrHubClosed = errors.New("hub: closed")

// ask sends m to the hub actor and waits for the reply, both bounded by ctx.
func ask[T any](ctx context.Context, h *Hub, m HubMsg, reply <-chan T) (T, error) {
	var zero T
	select {
	case h.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		return zero, ErrHubClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		return zero, ErrHubClosed
	}
}

func (h *Hub) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.opts.OpTimeout)
}

// Create opens a waiting room and returns its code.
func (h *Hub) Create(ctx context.Context, creatorID string, songCount int) (string, error) {
	st, err := engine.NewState("", creatorID, songCount, h.opts.Now())
	if err != nil {
		return "", err
	}
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	reply := make(chan createResult, 1)
	res, err := ask(ctx, h, CreateRoom{State: st, Reply: reply}, reply)
	if err != nil {
		return "", err
	}
	return res.Code, res.Err
}

// Room returns the live room for code, or ErrRoomNotFound when the code is
// unknown or its room has expired.
func (h *Hub) Room(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	rm, err := ask(ctx, h, GetRoom{Code: code, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrRoomNotFound, code)
	}
	return rm, nil
}

// do applies cmd in the room and returns the resulting state and version.
func (h *Hub) do(ctx context.Context, code string, cmd engine.Command) (engine.State, int, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	rm, err := h.Room(ctx, code)
	if err != nil {
		return engine.State{}, 0, err
	}
	res, err := rm.Do(ctx, cmd)
	if err != nil {
		return engine.State{}, 0, err
	}
	return res.State, res.Version, nil
}

// Join adds userID to a waiting room. Joining again returns the existing
// player unchanged.
func (h *Hub) Join(ctx context.Context, code, userID, name string) (engine.Player, error) {
	userID = strings.TrimSpace(userID)
	st, _, err := h.do(ctx, code, engine.Command{Type: engine.CmdJoin, UserID: userID, Name: name})
	if err != nil {
		return engine.Player{}, err
	}
	p, ok := st.Player(userID)
	if !ok {
		return engine.Player{}, fmt.Errorf("%w: %s", engine.ErrPlayerNotFound, userID)
	}
	return p, nil
}

func (h *Hub) SetReady(ctx context.Context, code, userID string, ready bool) (engine.State, int, error) {
	return h.do(ctx, code, engine.Command{Type: engine.CmdSetReady, UserID: userID, Ready: ready})
}

// Start begins the battle; the first round is prepared in the background.
func (h *Hub) Start(ctx context.Context, code, userID string) (engine.State, int, error) {
	return h.do(ctx, code, engine.Command{Type: engine.CmdStart, UserID: userID})
}

func (h *Hub) Submit(ctx context.Context, code string, roundNumber int, userID string, tagNames []string) (engine.State, int, error) {
	return h.do(ctx, code, engine.Command{
		Type:        engine.CmdSubmit,
		UserID:      userID,
		RoundNumber: roundNumber,
		TagNames:    tagNames,
	})
}

// StartRound starts the next round now. It is the creator's way to retry
// after a failed content lookup or to skip the reveal pause.
func (h *Hub) StartRound(ctx context.Context, code, userID string) (engine.State, int, error) {
	// Round preparation talks to the content store.
	ctx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout+h.opts.Room.ContentTimeout)
	defer cancel()

	rm, err := h.Room(ctx, code)
	if err != nil {
		return engine.State{}, 0, err
	}
	res, err := rm.StartNextRound(ctx, strings.TrimSpace(userID))
	if err != nil {
		return engine.State{}, 0, err
	}
	return res.State, res.Version, nil
}

// State returns an unmasked snapshot and its version.
func (h *Hub) State(ctx context.Context, code string) (engine.State, int, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	rm, err := h.Room(ctx, code)
	if err != nil {
		return engine.State{}, 0, err
	}
	v, err := rm.View(ctx)
	if err != nil {
		return engine.State{}, 0, err
	}
	return v.State, v.Version, nil
}

// View returns the snapshot as viewerID may see it.
func (h *Hub) View(ctx context.Context, code, viewerID string) (engine.State, int, error) {
	st, version, err := h.State(ctx, code)
	if err != nil {
		return engine.State{}, 0, err
	}
	return st.ViewFor(strings.TrimSpace(viewerID)), version, nil
}

func (h *Hub) Subscribe(ctx context.Context, code, clientID, viewerID string, outbox chan room.Snapshot) error {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	rm, err := h.Room(ctx, code)
	if err != nil {
		return err
	}
	return rm.Subscribe(ctx, clientID, strings.TrimSpace(viewerID), outbox)
}

func (h *Hub) Unsubscribe(ctx context.Context, code, clientID string) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	rm, err := h.Room(ctx, code)
	if err != nil {
		return
	}
	rm.Unsubscribe(ctx, clientID)
}

// Sweep drops expired rooms from memory and from the store.
func (h *Hub) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	reply := make(chan int, 1)
	n, err := ask(ctx, h, SweepRooms{Reply: reply}, reply)
	if err != nil {
		return 0, err
	}
	if h.store != nil {
		deleted, err := h.store.DeleteCreatedBefore(ctx, h.opts.Now().Add(-engine.RoomTTL))
		if err != nil {
			return n, fmt.Errorf("sweep store: %w", err)
		}
		if deleted > 0 {
			h.log.Info("expired rooms deleted from store", zap.Int64("count", deleted))
		}
	}
	return n, nil
}

// Restore reloads live rooms from the store. Call it once at boot.
func (h *Hub) Restore(ctx context.Context) (int, error) {
	if h.store == nil {
		return 0, nil
	}
	recs, err := h.store.LoadActive(ctx, h.opts.Now().Add(-engine.RoomTTL))
	if err != nil {
		return 0, fmt.Errorf("restore rooms: %w", err)
	}

	n := 0
	for _, rec := range recs {
		reply := make(chan bool, 1)
		opCtx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout)
		ok, err := ask(opCtx, h, RestoreRoom{Record: rec, Reply: reply}, reply)
		cancel()
		if err != nil {
			return n, fmt.Errorf("restore room %s: %w", rec.Code, err)
		}
		if ok {
			n++
		}
	}
	h.log.Info("rooms restored", zap.Int("count", n))
	return n, nil
}

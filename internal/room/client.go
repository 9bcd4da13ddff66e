package room

import (
	"context"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

// request sends m and waits for its reply, bounded by ctx.
func request[T any](ctx context.Context, r *Room, m Msg, reply <-chan T) (T, error) {
	var zero T
	select {
	case r.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
		return zero, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
		return zero, ErrClosed
	}
}

// Do applies cmd and returns the state after it.
func (r *Room) Do(ctx context.Context, cmd engine.Command) (Result, error) {
	reply := make(chan Result, 1)
	res, err := request(ctx, r, FromClient{Cmd: cmd, Reply: reply}, reply)
	if err != nil {
		return Result{}, err
	}
	return res, res.Err
}

// StartNextRound prepares and starts the next round on the creator's behalf.
func (r *Room) StartNextRound(ctx context.Context, userID string) (Result, error) {
	reply := make(chan Result, 1)
	res, err := request(ctx, r, NextRound{UserID: userID, Reply: reply}, reply)
	if err != nil {
		return Result{}, err
	}
	return res, res.Err
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	return request(ctx, r, GetState{Reply: reply}, reply)
}

// Subscribe registers outbox for masked snapshots as seen by viewerID. The
// current snapshot is sent at once; outbox is closed on Unsubscribe, on
// shutdown, or when it falls behind.
func (r *Room) Subscribe(ctx context.Context, clientID, viewerID string, outbox chan Snapshot) error {
	select {
	case r.inbox <- Subscribe{ClientID: clientID, ViewerID: viewerID, Outbox: outbox}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

func (r *Room) Unsubscribe(ctx context.Context, clientID string) {
	select {
	case r.inbox <- Unsubscribe{ClientID: clientID}:
	case <-ctx.Done():
	case <-r.done:
	}
}

// Close stops the loop and waits for it to exit.
func (r *Room) Close() {
	r.cancel()
	<-r.done
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
	"github.com/ethanchen143/LoopBop-sub001/internal/room"
	"github.com/ethanchen143/LoopBop-sub001/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 16
	// Each connection may send a burst of msgBurst, then msgRate per second.
	msgRate  = 5
	msgBurst = 10
)

// Rooms is the registry surface the feed needs.
type Rooms interface {
	View(ctx context.Context, code, viewerID string) (engine.State, int, error)
	Subscribe(ctx context.Context, code, clientID, viewerID string, outbox chan room.Snapshot) error
	Unsubscribe(ctx context.Context, code, clientID string)
	SetReady(ctx context.Context, code, userID string, ready bool) (engine.State, int, error)
	Start(ctx context.Context, code, userID string) (engine.State, int, error)
	StartRound(ctx context.Context, code, userID string) (engine.State, int, error)
	Submit(ctx context.Context, code string, roundNumber int, userID string, tagNames []string) (engine.State, int, error)
}

// Handler streams masked snapshots of one room to the viewer named in the
// query and applies the viewer's commands.
func Handler(rooms Rooms, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		viewer := r.URL.Query().Get("viewer")

		if _, _, err := rooms.View(r.Context(), code, viewer); err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				http.Error(w, "battle not found", http.StatusNotFound)
				return
			}
			http.Error(w, "battle unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		clog := log.With(zap.String("code", code), zap.String("client", clientID), zap.String("viewer", viewer))

		out := make(chan room.Snapshot, outboxSize)
		if err := rooms.Subscribe(r.Context(), code, clientID, viewer, out); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "subscribe failed")
			return
		}
		defer rooms.Unsubscribe(context.Background(), code, clientID)
		clog.Debug("subscribed")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		errs := make(chan types.ServerMessage, 4)

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				var msg types.ServerMessage
				select {
				case <-ctx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// Dropped as too slow, or the room is gone.
						conn.Close(websocket.StatusGoingAway, "feed closed")
						return
					}
					msg = types.ServerMessage{
						Type:        "StateSnapshot",
						Version:     snap.Version,
						State:       &snap.State,
						Leaderboard: snap.State.Leaderboard(),
					}
				case msg = <-errs:
				}
				if err := write(ctx, conn, msg); err != nil {
					clog.Debug("write failed", zap.Error(err))
					return
				}
			}
		}()

		// Reader loop
		limiter := rate.NewLimiter(rate.Limit(msgRate), msgBurst)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read ended", zap.Error(err))
				}
				return
			}

			if !limiter.Allow() {
				sendError(errs, "rate limited")
				continue
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				sendError(errs, "bad json")
				continue
			}
			if viewer == "" {
				sendError(errs, "viewer required")
				continue
			}
			if err := dispatch(ctx, rooms, code, viewer, cm); err != nil {
				sendError(errs, err.Error())
			}
		}
	}
}

func dispatch(ctx context.Context, rooms Rooms, code, viewer string, m types.ClientMessage) error {
	var err error
	switch m.Type {
	case "Submit":
		_, _, err = rooms.Submit(ctx, code, m.RoundNumber, viewer, m.Tags)
	case "SetReady":
		_, _, err = rooms.SetReady(ctx, code, viewer, m.Ready)
	case "Start":
		_, _, err = rooms.Start(ctx, code, viewer)
	case "StartRound":
		_, _, err = rooms.StartRound(ctx, code, viewer)
	default:
		err = errors.New("unknown type")
	}
	return err
}

// sendError queues an error for the writer, dropping it if the queue is full.
func sendError(errs chan<- types.ServerMessage, msg string) {
	select {
	case errs <- types.ServerMessage{Type: "Error", Error: msg}:
	default:
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

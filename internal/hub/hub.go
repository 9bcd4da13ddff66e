// Package hub is the room registry: one actor owning the code -> room map.
package hub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
	"github.com/ethanchen143/LoopBop-sub001/internal/room"
	"github.com/ethanchen143/LoopBop-sub001/internal/store"
)

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	State engine.State // Code is filled in by the hub
	Reply chan createResult
}

type createResult struct {
	Code string
	Err  error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room // nil when unknown or expired
}

type RestoreRoom struct {
	Record store.Record
	Reply  chan bool
}

type SweepRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RestoreRoom) isHubMsg() {}
func (SweepRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	// Room is the template for every room; OnChange, Now and Logger are
	// set by the hub.
	Room room.Options

	// OpTimeout bounds each registry call when the caller's context has a
	// later deadline or none.
	OpTimeout time.Duration

	GenerateCode func() (string, error)
	Now          func() time.Time
	Logger       *zap.Logger
}

type entry struct {
	room      *room.Room
	createdAt time.Time
}

type Hub struct {
	inbox     chan HubMsg
	rooms     map[string]entry
	prep      room.RoundPreparer
	store     store.Store
	persister *persister
	stopSaves context.CancelFunc
	opts      Options
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHub starts the registry. st may be nil, in which case nothing is
// persisted and Restore is a no-op.
func NewHub(parent context.Context, prep room.RoundPreparer, st store.Store, opts Options) *Hub {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	if opts.GenerateCode == nil {
		opts.GenerateCode = GenerateCode
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Room.ContentTimeout <= 0 {
		opts.Room.ContentTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Room.Now = opts.Now
	opts.Room.Logger = opts.Logger

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]entry),
		prep:   prep,
		store:  st,
		opts:   opts,
		log:    opts.Logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if st != nil {
		// Outlives the rooms so their final snapshots are written.
		pctx, stop := context.WithCancel(context.Background())
		h.persister = newPersister(st, opts.OpTimeout, opts.Logger)
		h.stopSaves = stop
		go h.persister.run(pctx)
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				code, err := h.create(msg.State)
				msg.Reply <- createResult{Code: code, Err: err}

			case GetRoom:
				msg.Reply <- h.lookup(msg.Code)

			case RestoreRoom:
				msg.Reply <- h.restore(msg.Record)

			case SweepRooms:
				msg.Reply <- h.sweep()

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(st engine.State) (string, error) {
	for range maxCodeAttempts {
		code, err := h.opts.GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		if _, taken := h.rooms[code]; taken {
			h.log.Debug("collision on code, regenerating", zap.String("code", code))
			continue
		}

		st.Code = code
		h.rooms[code] = entry{room: h.newRoom(st, 0), createdAt: st.CreatedAt}
		if h.persister != nil {
			h.persister.Save(store.Record{Code: code, Version: 0, State: st.Clone()})
		}
		h.log.Info("room created", zap.String("code", code), zap.String("creator", st.CreatorID), zap.Int("songs", st.SongCount))
		return code, nil
	}
	return "", engine.ErrCodeExhausted
}

func (h *Hub) restore(rec store.Record) bool {
	if _, ok := h.rooms[rec.Code]; ok {
		return false
	}
	if rec.State.Expired(h.opts.Now()) {
		return false
	}
	h.rooms[rec.Code] = entry{room: h.newRoom(rec.State, rec.Version), createdAt: rec.State.CreatedAt}
	return true
}

func (h *Hub) newRoom(st engine.State, version int) *room.Room {
	opts := h.opts.Room
	if h.persister != nil {
		p := h.persister
		opts.OnChange = func(s room.Snapshot) {
			p.Save(store.Record{Code: s.State.Code, Version: s.Version, State: s.State})
		}
	}
	return room.New(h.ctx, st, version, h.prep, opts)
}

// lookup expires rooms lazily.
func (h *Hub) lookup(code string) *room.Room {
	e, ok := h.rooms[code]
	if !ok {
		return nil
	}
	if h.opts.Now().Sub(e.createdAt) > engine.RoomTTL {
		h.remove(code)
		return nil
	}
	return e.room
}

func (h *Hub) sweep() int {
	now := h.opts.Now()
	n := 0
	for code, e := range h.rooms {
		if now.Sub(e.createdAt) > engine.RoomTTL {
			h.remove(code)
			n++
		}
	}
	return n
}

func (h *Hub) remove(code string) {
	e, ok := h.rooms[code]
	if !ok {
		return
	}
	delete(h.rooms, code)
	e.room.Close()
	if h.persister != nil {
		h.persister.Delete(code)
	}
	h.log.Info("room removed", zap.String("code", code))
}

func (h *Hub) shutdown() {
	for code, e := range h.rooms {
		e.room.Close()
		delete(h.rooms, code)
	}
	h.cancel()
	if h.stopSaves != nil {
		h.stopSaves()
	}
}

// Close stops every room and waits for pending snapshots to be written.
func (h *Hub) Close() {
	h.cancel()
	<-h.done
	if h.persister != nil {
		<-h.persister.done
	}
}

package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ethanchen143/LoopBop-sub001/internal/store"
)

type persistOp struct {
	rec    store.Record
	delete bool
}

// persister writes room snapshots on a single goroutine. Pending writes are
// coalesced per code, so only the latest snapshot of a busy room is written.
type persister struct {
	store   store.Store
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]persistOp
	wake    chan struct{}
	done    chan struct{}
}

func newPersister(s store.Store, timeout time.Duration, log *zap.Logger) *persister {
	return &persister{
		store:   s,
		log:     log.Named("persister"),
		timeout: timeout,
		pending: make(map[string]persistOp),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (p *persister) Save(rec store.Record) {
	p.mu.Lock()
	if cur, ok := p.pending[rec.Code]; ok && !cur.delete && cur.rec.Version > rec.Version {
		p.mu.Unlock()
		return
	}
	p.pending[rec.Code] = persistOp{rec: rec}
	p.mu.Unlock()
	p.notify()
}

func (p *persister) Delete(code string) {
	p.mu.Lock()
	p.pending[code] = persistOp{rec: store.Record{Code: code}, delete: true}
	p.mu.Unlock()
	p.notify()
}

func (p *persister) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run writes until ctx is done, then flushes what is left.
func (p *persister) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case <-p.wake:
			p.flush()
		}
	}
}

// flush is not tied to the hub context so a shutdown still writes the
// final snapshots.
func (p *persister) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]persistOp, len(batch))
	p.mu.Unlock()

	for code, op := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		var err error
		if op.delete {
			err = p.store.Delete(ctx, code)
		} else {
			err = p.store.Save(ctx, op.rec)
		}
		cancel()
		if err != nil {
			p.log.Error("persist room", zap.String("code", code), zap.Bool("delete", op.delete), zap.Error(err))
		}
	}
}

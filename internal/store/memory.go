package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[rec.Code]; ok && cur.Version > rec.Version {
		return nil
	}
	rec.State = rec.State.Clone()
	m.records[rec.Code] = rec
	return nil
}

func (m *Memory) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, code)
	return nil
}

func (m *Memory) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for code, rec := range m.records {
		if rec.State.CreatedAt.Before(cutoff) {
			delete(m.records, code)
			n++
		}
	}
	return n, nil
}

func (m *Memory) LoadActive(ctx context.Context, since time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Record{}
	for _, rec := range m.records {
		if !rec.State.CreatedAt.Before(since) {
			rec.State = rec.State.Clone()
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

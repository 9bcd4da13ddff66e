package content

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

// Seed is the JSON layout accepted by LoadSeedFile.
type Seed struct {
	Tags  []engine.Tag `json:"tags"`
	Songs []SeedSong   `json:"songs"`
}

type SeedSong struct {
	engine.Song
	Tags []string `json:"tags"`
}

// Memory is an in-process Repository used for development and tests.
type Memory struct {
	mu       sync.Mutex
	rng      *rand.Rand
	songs    []engine.Song
	tags     []engine.Tag
	songTags map[string][]string
}

func NewMemory(seed Seed, rng *rand.Rand) (*Memory, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	m := &Memory{rng: rng, songTags: make(map[string][]string, len(seed.Songs))}

	known := make(map[string]bool, len(seed.Tags))
	for _, t := range seed.Tags {
		if t.Name == "" || known[t.Name] {
			return nil, fmt.Errorf("seed: empty or duplicate tag %q", t.Name)
		}
		known[t.Name] = true
		m.tags = append(m.tags, t)
	}
	for _, s := range seed.Songs {
		for _, name := range s.Tags {
			if !known[name] {
				return nil, fmt.Errorf("seed: song %s references unknown tag %q", s.ID, name)
			}
		}
		m.songs = append(m.songs, s.Song)
		m.songTags[s.ID] = slices.Clone(s.Tags)
	}
	return m, nil
}

// ReadSeed parses a JSON seed file.
func ReadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read content seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("failed to unmarshal content seed: %w", err)
	}
	return seed, nil
}

func LoadSeedFile(path string, rng *rand.Rand) (*Memory, error) {
	seed, err := ReadSeed(path)
	if err != nil {
		return nil, err
	}
	return NewMemory(seed, rng)
}

func (m *Memory) PickEligibleSong(ctx context.Context) (engine.Song, error) {
	if err := ctx.Err(); err != nil {
		return engine.Song{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := make([]engine.Song, 0, len(m.songs))
	for _, s := range m.songs {
		if strings.TrimSpace(s.Explanation) != "" {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return engine.Song{}, ErrNoEligibleSong
	}
	return eligible[m.rng.IntN(len(eligible))], nil
}

func (m *Memory) TagsForSong(ctx context.Context, songID string) ([]engine.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.songTags[songID]
	tags := make([]engine.Tag, 0, len(names))
	for _, t := range m.tags {
		if slices.Contains(names, t.Name) {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTags, songID)
	}
	return tags, nil
}

func (m *Memory) RandomDecoyTags(ctx context.Context, excluding []string, count int) ([]engine.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return []engine.Tag{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pool := make([]engine.Tag, 0, len(m.tags))
	for _, t := range m.tags {
		if !slices.Contains(excluding, t.Name) {
			pool = append(pool, t)
		}
	}
	m.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > count {
		pool = pool[:count]
	}
	return pool, nil
}

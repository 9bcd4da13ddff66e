// Package quiz turns content from the tag graph into battle questions.
package quiz

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethanchen143/LoopBop-sub001/internal/content"
	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
	"github.com/ethanchen143/LoopBop-sub001/pkg/types"
)

// soloPlayerFactor sizes single-player questions as if three people played,
// so a lone player still sees decoys.
const soloPlayerFactor = 3

// Generator prepares rounds. It is safe for concurrent use.
type Generator struct {
	repo     content.Repository
	category string
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(repo content.Repository, category string, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{repo: repo, category: category, rng: rng, now: time.Now}
}

func (g *Generator) Shuffle(n int, swap func(i, j int)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng.Shuffle(n, swap)
}

// PrepareRound picks a song and builds its question for a room of
// playerCount players. Nothing is returned on failure, so a caller can retry.
func (g *Generator) PrepareRound(ctx context.Context, playerCount int) (engine.Round, error) {
	if playerCount < 1 {
		return engine.Round{}, engine.ErrInvalidPlayerCount
	}
	song, err := g.repo.PickEligibleSong(ctx)
	if err != nil {
		return engine.Round{}, fmt.Errorf("pick song: %w", err)
	}
	correct, err := g.repo.TagsForSong(ctx, song.ID)
	if err != nil {
		return engine.Round{}, fmt.Errorf("tags for song %s: %w", song.ID, err)
	}

	options, err := BuildOptions(ctx, correct, playerCount, g.repo.RandomDecoyTags, g)
	if err != nil {
		return engine.Round{}, err
	}

	return engine.Round{
		SongID:         song.ID,
		Title:          song.Title,
		Artist:         song.Artist,
		Album:          song.Album,
		Youtube:        song.Youtube,
		Explanation:    song.Explanation,
		Options:        options,
		CorrectAnswers: correctIn(options, correct),
		StartedAt:      g.now(),
	}, nil
}

// BattleData builds one single-player question.
func (g *Generator) BattleData(ctx context.Context) (types.BattleData, error) {
	r, err := g.PrepareRound(ctx, soloPlayerFactor)
	if err != nil {
		return types.BattleData{}, err
	}
	return types.BattleData{
		Type:           g.category,
		Youtube:        r.Youtube,
		Title:          r.Title,
		Artist:         r.Artist,
		Album:          r.Album,
		Explanation:    r.Explanation,
		Question:       fmt.Sprintf("Which %s tags fit %q by %s?", g.category, r.Title, r.Artist),
		Options:        wireTags(r.Options),
		CorrectAnswers: wireTags(r.CorrectAnswers),
	}, nil
}

// correctIn returns the option entries that are correct, deduplicated the
// same way BuildOptions deduplicates.
func correctIn(options, correct []engine.Tag) []engine.Tag {
	want := make(map[string]bool, len(correct))
	for _, t := range correct {
		want[t.Name] = true
	}
	out := make([]engine.Tag, 0, len(correct))
	for _, o := range options {
		if want[o.Name] {
			out = append(out, o)
		}
	}
	return out
}

func wireTags(tags []engine.Tag) []types.Tag {
	out := make([]types.Tag, len(tags))
	for i, t := range tags {
		out[i] = types.Tag{Name: t.Name, Family: t.Family, Description: t.Description}
	}
	return out
}

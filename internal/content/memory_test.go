package content

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

func loadTestSeed(t *testing.T) *Memory {
	t.Helper()
	m, err := LoadSeedFile("testdata/seed.json", rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	return m
}

func TestMemory_PickEligibleSongSkipsMissingExplanation(t *testing.T) {
	m := loadTestSeed(t)
	ctx := context.Background()

	for range 50 {
		song, err := m.PickEligibleSong(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, "untitled-demo", song.ID)
		assert.NotEmpty(t, song.Explanation)
	}
}

func TestMemory_PickEligibleSongNotFound(t *testing.T) {
	m, err := NewMemory(Seed{Songs: []SeedSong{{Song: engine.Song{ID: "s1", Explanation: "   "}}}}, nil)
	require.NoError(t, err)

	_, err = m.PickEligibleSong(context.Background())
	assert.ErrorIs(t, err, ErrNoEligibleSong)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestMemory_TagsForSong(t *testing.T) {
	m := loadTestSeed(t)
	ctx := context.Background()

	tags, err := m.TagsForSong(ctx, "so-what")
	require.NoError(t, err)
	names := []string{}
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"jazz", "bebop"}, names)

	_, err = m.TagsForSong(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestMemory_RandomDecoyTags(t *testing.T) {
	m := loadTestSeed(t)
	ctx := context.Background()

	decoys, err := m.RandomDecoyTags(ctx, []string{"jazz", "bebop"}, 4)
	require.NoError(t, err)
	assert.Len(t, decoys, 4)
	seen := map[string]bool{}
	for _, d := range decoys {
		assert.NotContains(t, []string{"jazz", "bebop"}, d.Name)
		assert.False(t, seen[d.Name], "duplicate decoy %s", d.Name)
		seen[d.Name] = true
	}

	// only six tags remain once two are excluded
	decoys, err = m.RandomDecoyTags(ctx, []string{"jazz", "bebop"}, 100)
	require.NoError(t, err)
	assert.Len(t, decoys, 6)

	decoys, err = m.RandomDecoyTags(ctx, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, decoys)
}

func TestNewMemory_RejectsUnknownTag(t *testing.T) {
	_, err := NewMemory(Seed{
		Tags:  []engine.Tag{{Name: "rock"}},
		Songs: []SeedSong{{Song: engine.Song{ID: "s1"}, Tags: []string{"polka"}}},
	}, nil)
	assert.Error(t, err)
}

func TestMemory_HonoursCancelledContext(t *testing.T) {
	m := loadTestSeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.PickEligibleSong(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

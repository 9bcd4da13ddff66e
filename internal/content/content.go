// Package content reads songs and tags from the tagged-content graph. The
// battle code only sees the Repository interface.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

var (
	ErrNoEligibleSong = fmt.Errorf("%w: no song with an explanation", engine.ErrNotFound)
	ErrNoTags         = fmt.Errorf("%w: song has no tags", engine.ErrNotFound)
	ErrUnexpected     = errors.New("unexpected content repository error")
)

type Repository interface {
	// PickEligibleSong returns a random song whose explanation is non-empty.
	PickEligibleSong(ctx context.Context) (engine.Song, error)
	// TagsForSong returns the song's tags in the repository's category.
	TagsForSong(ctx context.Context, songID string) ([]engine.Tag, error)
	// RandomDecoyTags returns at most count distinct tags whose names are not
	// in excluding. Fewer is not an error.
	RandomDecoyTags(ctx context.Context, excluding []string, count int) ([]engine.Tag, error)
}

package quiz

import (
	"context"
	"fmt"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

// DecoyFetcher returns up to count tags whose names are not in excluding.
type DecoyFetcher func(ctx context.Context, excluding []string, count int) ([]engine.Tag, error)

// Shuffler is satisfied by *rand.Rand.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// OptionTarget is how many options a question with correctCount answers gets
// in a room of playerCount players.
func OptionTarget(correctCount, playerCount int) int {
	return min(correctCount*playerCount, engine.MaxOptions)
}

// BuildOptions merges the correct tags with decoys, drops duplicate names
// (a correct tag always beats a decoy of the same name) and shuffles.
// A decoy shortfall just means fewer options. More than MaxOptions correct
// tags are cut down to a random MaxOptions of them.
func BuildOptions(ctx context.Context, correct []engine.Tag, playerCount int, fetch DecoyFetcher, shuffler Shuffler) ([]engine.Tag, error) {
	if playerCount < 1 {
		return nil, engine.ErrInvalidPlayerCount
	}

	unique := make([]engine.Tag, 0, len(correct))
	seen := make(map[string]bool, engine.MaxOptions)
	for _, t := range correct {
		if !seen[t.Name] {
			seen[t.Name] = true
			unique = append(unique, t)
		}
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: no correct tags", engine.ErrValidation)
	}
	if len(unique) > engine.MaxOptions {
		shuffler.Shuffle(len(unique), func(i, j int) { unique[i], unique[j] = unique[j], unique[i] })
		unique = unique[:engine.MaxOptions]
	}

	additional := max(0, OptionTarget(len(unique), playerCount)-len(unique))
	options := unique
	if additional > 0 {
		excluding := make([]string, len(unique))
		for i, t := range unique {
			excluding[i] = t.Name
		}
		decoys, err := fetch(ctx, excluding, additional)
		if err != nil {
			return nil, fmt.Errorf("fetch decoys: %w", err)
		}
		for _, d := range decoys {
			if len(options)-len(unique) == additional {
				break
			}
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			options = append(options, d)
		}
	}

	shuffler.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return options, nil
}

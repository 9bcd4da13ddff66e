package content

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

//go:embed schema.sql
var Schema string

// Postgres reads the content graph from the songs, tags and song_tags tables.
// Only tags in one category (genre, mood, era...) are used for questions.
type Postgres struct {
	pool     *pgxpool.Pool
	category string
}

func NewPostgres(ctx context.Context, connString, category string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
	return &Postgres{pool: pool, category: category}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate creates the content tables when they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return classify(err)
}

type tagRow struct {
	Name        string `db:"name"`
	Family      string `db:"family"`
	Description string `db:"description"`
}

func (r tagRow) tag() engine.Tag {
	return engine.Tag{Name: r.Name, Family: r.Family, Description: r.Description}
}

func (p *Postgres) PickEligibleSong(ctx context.Context) (engine.Song, error) {
	const query = `
		SELECT id, title, artist, album, youtube, explanation
		FROM songs
		WHERE explanation IS NOT NULL AND btrim(explanation) <> ''
		ORDER BY random()
		LIMIT 1`

	var s engine.Song
	err := p.pool.QueryRow(ctx, query).Scan(&s.ID, &s.Title, &s.Artist, &s.Album, &s.Youtube, &s.Explanation)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Song{}, ErrNoEligibleSong
	}
	if err != nil {
		return engine.Song{}, classify(err)
	}
	return s, nil
}

func (p *Postgres) TagsForSong(ctx context.Context, songID string) ([]engine.Tag, error) {
	const query = `
		SELECT t.name, t.family, t.description
		FROM tags t
		JOIN song_tags st ON st.tag_name = t.name
		WHERE st.song_id = $1 AND t.category = $2
		ORDER BY t.name`

	tags, err := p.queryTags(ctx, query, songID, p.category)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTags, songID)
	}
	return tags, nil
}

func (p *Postgres) RandomDecoyTags(ctx context.Context, excluding []string, count int) ([]engine.Tag, error) {
	if count <= 0 {
		return []engine.Tag{}, nil
	}
	if excluding == nil {
		excluding = []string{}
	}
	const query = `
		SELECT name, family, description
		FROM tags
		WHERE category = $1 AND NOT (name = ANY($2::text[]))
		ORDER BY random()
		LIMIT $3`

	return p.queryTags(ctx, query, p.category, excluding, count)
}

func (p *Postgres) queryTags(ctx context.Context, query string, args ...any) ([]engine.Tag, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[tagRow])
	if err != nil {
		return nil, classify(err)
	}
	tags := make([]engine.Tag, len(collected))
	for i, r := range collected {
		tags[i] = r.tag()
	}
	return tags, nil
}

// Import upserts a seed into the graph tables, tagging every seed tag with
// the repository's category.
func (p *Postgres) Import(ctx context.Context, seed Seed) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	for _, t := range seed.Tags {
		_, err := tx.Exec(ctx, `
			INSERT INTO tags (name, category, family, description) VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET category = $2, family = $3, description = $4`,
			t.Name, p.category, t.Family, t.Description)
		if err != nil {
			return classify(err)
		}
	}
	for _, s := range seed.Songs {
		_, err := tx.Exec(ctx, `
			INSERT INTO songs (id, title, artist, album, youtube, explanation) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET title = $2, artist = $3, album = $4, youtube = $5, explanation = $6`,
			s.ID, s.Title, s.Artist, s.Album, s.Youtube, s.Explanation)
		if err != nil {
			return classify(err)
		}
		for _, name := range s.Tags {
			_, err := tx.Exec(ctx, `INSERT INTO song_tags (song_id, tag_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, s.ID, name)
			if err != nil {
				return classify(err)
			}
		}
	}
	return classify(tx.Commit(ctx))
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
}

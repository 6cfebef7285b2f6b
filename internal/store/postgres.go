// Package store persists the index outside the process: a PostgreSQL
// mirror written through on every mutation, and a MinIO bucket for
// snapshot archives.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/postgres"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL,
	name       TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	line_count INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS postings (
	token       TEXT NOT NULL,
	doc_name    TEXT NOT NULL REFERENCES documents (name) ON DELETE CASCADE,
	occurrences INTEGER NOT NULL,
	first_line  INTEGER NOT NULL,
	PRIMARY KEY (token, doc_name)
);
CREATE INDEX IF NOT EXISTS postings_doc_name_idx ON postings (doc_name);
CREATE TABLE IF NOT EXISTS noise_words (
	word TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS index_meta (
	id         SMALLINT PRIMARY KEY DEFAULT 1,
	generation BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Postgres mirrors documents, postings and noise words into PostgreSQL.
// Every write runs in one transaction, so a failed write leaves the mirror
// as it was.
type Postgres struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		client: client,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// Migrate creates the mirror tables when they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// SaveDocument upserts doc and replaces its postings.
func (s *Postgres) SaveDocument(ctx context.Context, doc *index.Document, generation uint64) error {
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (name, content, line_count, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (name) DO UPDATE
			SET content = EXCLUDED.content, line_count = EXCLUDED.line_count, updated_at = NOW()`,
			doc.Name, doc.Content, len(doc.Lines),
		); err != nil {
			return fmt.Errorf("upserting document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM postings WHERE doc_name = $1`, doc.Name); err != nil {
			return fmt.Errorf("deleting old postings: %w", err)
		}
		if err := copyPostings(ctx, tx, []*index.Document{doc}); err != nil {
			return err
		}
		return setGeneration(ctx, tx, generation)
	})
	if err != nil {
		return fmt.Errorf("saving document %q: %w", doc.Name, err)
	}
	s.logger.Debug("document mirrored",
		"doc", doc.Name,
		"terms", len(doc.Postings),
		"generation", generation,
	)
	return nil
}

// ReplaceNoise stores a new noise-word set together with the postings of
// every document re-derived under it.
func (s *Postgres) ReplaceNoise(ctx context.Context, words []string, docs []*index.Document, generation uint64) error {
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM noise_words`); err != nil {
			return fmt.Errorf("clearing noise words: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("noise_words", "word"))
		if err != nil {
			return fmt.Errorf("preparing noise word copy: %w", err)
		}
		for _, w := range words {
			if _, err := stmt.ExecContext(ctx, w); err != nil {
				stmt.Close()
				return fmt.Errorf("copying noise word %q: %w", w, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flushing noise word copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("closing noise word copy: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM postings`); err != nil {
			return fmt.Errorf("clearing postings: %w", err)
		}
		if err := copyPostings(ctx, tx, docs); err != nil {
			return err
		}
		return setGeneration(ctx, tx, generation)
	})
	if err != nil {
		return fmt.Errorf("replacing noise words: %w", err)
	}
	s.logger.Info("noise words mirrored",
		"noise_words", len(words),
		"docs", len(docs),
		"generation", generation,
	)
	return nil
}

// Load reads the mirrored noise words and documents. Postings are left for
// the caller to re-derive.
func (s *Postgres) Load(ctx context.Context) (*index.State, error) {
	state := &index.State{}

	rows, err := s.client.DB.QueryContext(ctx, `SELECT word FROM noise_words ORDER BY word`)
	if err != nil {
		return nil, fmt.Errorf("querying noise words: %w", err)
	}
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning noise word: %w", err)
		}
		state.NoiseWords = append(state.NoiseWords, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating noise words: %w", err)
	}

	rows, err = s.client.DB.QueryContext(ctx, `SELECT name, content FROM documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	for rows.Next() {
		var doc index.StoredDocument
		if err := rows.Scan(&doc.Name, &doc.Content); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		state.Documents = append(state.Documents, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	var generation int64
	err = s.client.DB.QueryRowContext(ctx, `SELECT generation FROM index_meta WHERE id = 1`).Scan(&generation)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying index generation: %w", err)
	}
	state.Generation = uint64(generation)

	s.logger.Info("mirror loaded",
		"docs", len(state.Documents),
		"noise_words", len(state.NoiseWords),
		"generation", state.Generation,
	)
	return state, nil
}

func copyPostings(ctx context.Context, tx *sql.Tx, docs []*index.Document) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("postings", "token", "doc_name", "occurrences", "first_line"))
	if err != nil {
		return fmt.Errorf("preparing postings copy: %w", err)
	}
	for _, doc := range docs {
		for _, term := range doc.Terms() {
			p := doc.Postings[term]
			if _, err := stmt.ExecContext(ctx, term, doc.Name, p.Count, p.FirstLine); err != nil {
				stmt.Close()
				return fmt.Errorf("copying posting %q/%q: %w", term, doc.Name, err)
			}
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flushing postings copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing postings copy: %w", err)
	}
	return nil
}

func setGeneration(ctx context.Context, tx *sql.Tx, generation uint64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (id, generation, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET generation = EXCLUDED.generation, updated_at = NOW()`,
		int64(generation),
	)
	if err != nil {
		return fmt.Errorf("updating index generation: %w", err)
	}
	return nil
}

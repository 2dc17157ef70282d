package repository

import (
	"context"
	"errors"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type DictionaryRepository struct {
	db dbtx
}

func NewDictionaryRepository(pool *pgxpool.Pool) *DictionaryRepository {
	return &DictionaryRepository{db: pool}
}

func NewDictionaryRepositoryWithTx(tx pgx.Tx) *DictionaryRepository {
	return &DictionaryRepository{db: tx}
}

func (r *DictionaryRepository) Create(ctx context.Context, e *domain.DictionaryEntry) error {
	var embedding any
	if e.Embedding != nil {
		embedding = pgvector.NewVector(e.Embedding)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO dictionary_entries (id, org_id, phrase, category, notes, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.OrgID, e.Phrase, e.Category, e.Notes, embedding, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (r *DictionaryRepository) GetByID(ctx context.Context, id string) (*domain.DictionaryEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, org_id, phrase, category, notes, embedding, created_at, updated_at
		 FROM dictionary_entries WHERE id = $1`,
		id,
	)
	return scanDictionaryEntry(row)
}

func (r *DictionaryRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.DictionaryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, phrase, category, notes, embedding, created_at, updated_at
		 FROM dictionary_entries WHERE org_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDictionaryRows(rows)
}

func (r *DictionaryRepository) ListByIDs(ctx context.Context, orgID string, ids []string) ([]*domain.DictionaryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, phrase, category, notes, embedding, created_at, updated_at
		 FROM dictionary_entries WHERE org_id = $1 AND id = ANY($2) ORDER BY created_at DESC`,
		orgID, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDictionaryRows(rows)
}

func (r *DictionaryRepository) Update(ctx context.Context, e *domain.DictionaryEntry) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE dictionary_entries SET phrase = $1, category = $2, notes = $3, updated_at = $4
		 WHERE id = $5`,
		e.Phrase, e.Category, e.Notes, time.Now().UTC(), e.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDictionaryEntryNotFound
	}
	return nil
}

func (r *DictionaryRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM dictionary_entries WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDictionaryEntryNotFound
	}
	return nil
}

// UpdateEmbedding stores the vector for an entry. Only the embedding
// batch queue and creation-time generation write this column.
func (r *DictionaryRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE dictionary_entries SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDictionaryEntryNotFound
	}
	return nil
}

// SearchSimilar returns the organization's dictionary entries scored
// against text: trigram similarity for the lexical signal, cosine
// similarity for entries with an embedding. Entries without an embedding
// get a zero vector score and still participate. Score combination and
// final ranking happen in the resolver.
func (r *DictionaryRepository) SearchSimilar(ctx context.Context, orgID, text string, embedding []float32, limit int) ([]*domain.RankedCandidate, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error

	if embedding != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, phrase, category,
			        similarity(phrase, $2) AS lexical_score,
			        CASE WHEN embedding IS NOT NULL
			             THEN 1.0 / (1.0 + (embedding <=> $3))
			             ELSE 0.0 END AS vector_score
			 FROM dictionary_entries
			 WHERE org_id = $1
			 ORDER BY GREATEST(similarity(phrase, $2),
			          CASE WHEN embedding IS NOT NULL
			               THEN 1.0 / (1.0 + (embedding <=> $3))
			               ELSE 0.0 END) DESC
			 LIMIT $4`,
			orgID, text, pgvector.NewVector(embedding), limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, phrase, category,
			        similarity(phrase, $2) AS lexical_score,
			        0.0 AS vector_score
			 FROM dictionary_entries
			 WHERE org_id = $1
			 ORDER BY similarity(phrase, $2) DESC
			 LIMIT $3`,
			orgID, text, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*domain.RankedCandidate
	for rows.Next() {
		var c domain.RankedCandidate
		if err := rows.Scan(&c.EntryID, &c.Phrase, &c.Category, &c.LexicalScore, &c.VectorScore); err != nil {
			return nil, err
		}
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}

func scanDictionaryEntry(row pgx.Row) (*domain.DictionaryEntry, error) {
	var e domain.DictionaryEntry
	var vec *pgvector.Vector
	err := row.Scan(&e.ID, &e.OrgID, &e.Phrase, &e.Category, &e.Notes, &vec, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDictionaryEntryNotFound
		}
		return nil, err
	}
	if vec != nil {
		e.Embedding = vec.Slice()
	}
	return &e, nil
}

func scanDictionaryRows(rows pgx.Rows) ([]*domain.DictionaryEntry, error) {
	var entries []*domain.DictionaryEntry
	for rows.Next() {
		var e domain.DictionaryEntry
		var vec *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Phrase, &e.Category, &e.Notes, &vec, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if vec != nil {
			e.Embedding = vec.Slice()
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

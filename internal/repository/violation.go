package repository

import (
	"context"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ViolationRepository struct {
	db dbtx
}

func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{db: pool}
}

func NewViolationRepositoryWithTx(tx pgx.Tx) *ViolationRepository {
	return &ViolationRepository{db: tx}
}

// CreateBatch inserts all violations for a completed check in one batch.
func (r *ViolationRepository) CreateBatch(ctx context.Context, violations []*domain.Violation) error {
	if len(violations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, v := range violations {
		batch.Queue(
			`INSERT INTO violations (id, check_id, start_pos, end_pos, reason, dictionary_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			v.ID, v.CheckID, v.StartPos, v.EndPos, v.Reason, v.DictionaryID, v.CreatedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range violations {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *ViolationRepository) ListByCheck(ctx context.Context, checkID string) ([]*domain.Violation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, check_id, start_pos, end_pos, reason, dictionary_id, created_at
		 FROM violations WHERE check_id = $1 ORDER BY start_pos ASC`,
		checkID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []*domain.Violation
	for rows.Next() {
		var v domain.Violation
		if err := rows.Scan(&v.ID, &v.CheckID, &v.StartPos, &v.EndPos, &v.Reason, &v.DictionaryID, &v.CreatedAt); err != nil {
			return nil, err
		}
		violations = append(violations, &v)
	}
	return violations, rows.Err()
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/pagination"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CheckRepository struct {
	db dbtx
}

func NewCheckRepository(pool *pgxpool.Pool) *CheckRepository {
	return &CheckRepository{db: pool}
}

func NewCheckRepositoryWithTx(tx pgx.Tx) *CheckRepository {
	return &CheckRepository{db: tx}
}

const checkColumns = `id, org_id, user_id, status, input_type, original_text, extracted_text,
	image_key, modified_text, error_message, created_at, completed_at, deleted_at`

func (r *CheckRepository) Create(ctx context.Context, c *domain.Check) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO checks (id, org_id, user_id, status, input_type, original_text, extracted_text, image_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.OrgID, c.UserID, c.Status, c.InputType, c.OriginalText,
		nullableString(c.ExtractedText), nullableString(c.ImageKey), c.CreatedAt,
	)
	return err
}

func (r *CheckRepository) GetByID(ctx context.Context, id string) (*domain.Check, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanCheck(row)
}

// ListByOrgWithCursor pages an organization's checks newest-first. A
// non-empty userID narrows the rows to that user's own checks, so page
// size, HasMore, and the next cursor are computed over exactly the rows
// the caller is allowed to see.
func (r *CheckRepository) ListByOrgWithCursor(ctx context.Context, orgID, userID string, cursor *pagination.Cursor, limit int) (*service.CheckPage, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + checkColumns + ` FROM checks WHERE org_id = $1 AND deleted_at IS NULL`
	args := []any{orgID}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.Timestamp, cursor.LastID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*domain.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(checks) > limit
	if hasMore {
		checks = checks[:limit]
	}

	var nextCursor string
	if hasMore && len(checks) > 0 {
		last := checks[len(checks)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.CheckPage{
		Checks:     checks,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// MarkProcessing transitions a queued check to processing. The
// conditional WHERE makes the queued->processing step race-safe against
// a concurrent cancellation.
func (r *CheckRepository) MarkProcessing(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE checks SET status = $1 WHERE id = $2 AND status = $3 AND deleted_at IS NULL`,
		domain.CheckStatusProcessing, id, domain.CheckStatusQueued,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCheckAlreadyTerminal
	}
	return nil
}

// Complete marks a processing check completed with its rewritten text.
// At most one terminal transition can ever succeed; a check cancelled
// mid-flight stays cancelled and the in-flight result is discarded here.
func (r *CheckRepository) Complete(ctx context.Context, id, modifiedText string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE checks SET status = $1, modified_text = $2, completed_at = $3
		 WHERE id = $4 AND status = $5`,
		domain.CheckStatusCompleted, modifiedText, time.Now().UTC(), id, domain.CheckStatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCheckAlreadyTerminal
	}
	return nil
}

// Fail marks a non-terminal check failed with a captured error message.
func (r *CheckRepository) Fail(ctx context.Context, id, errMsg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE checks SET status = $1, error_message = $2, completed_at = $3
		 WHERE id = $4 AND status IN ($5, $6)`,
		domain.CheckStatusFailed, errMsg, time.Now().UTC(), id,
		domain.CheckStatusQueued, domain.CheckStatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCheckAlreadyTerminal
	}
	return nil
}

// Cancel marks a non-terminal check cancelled.
func (r *CheckRepository) Cancel(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE checks SET status = $1, completed_at = $2
		 WHERE id = $3 AND status IN ($4, $5) AND deleted_at IS NULL`,
		domain.CheckStatusCancelled, time.Now().UTC(), id,
		domain.CheckStatusQueued, domain.CheckStatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCheckNotCancellable
	}
	return nil
}

// SoftDelete marks a check logically deleted. Rows are never removed.
func (r *CheckRepository) SoftDelete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE checks SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCheckNotFound
	}
	return nil
}

func scanCheck(row pgx.Row) (*domain.Check, error) {
	var c domain.Check
	var extractedText, imageKey *string
	err := row.Scan(
		&c.ID, &c.OrgID, &c.UserID, &c.Status, &c.InputType, &c.OriginalText,
		&extractedText, &imageKey, &c.ModifiedText, &c.ErrorMessage,
		&c.CreatedAt, &c.CompletedAt, &c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCheckNotFound
		}
		return nil, err
	}
	if extractedText != nil {
		c.ExtractedText = *extractedText
	}
	if imageKey != nil {
		c.ImageKey = *imageKey
	}
	return &c, nil
}

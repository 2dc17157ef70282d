package service

import (
	"context"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

// CheckTxRepository is the transaction-bound slice of check persistence
// used when completing a check.
type CheckTxRepository interface {
	Complete(ctx context.Context, id, modifiedText string) error
}

// ViolationTxRepository is the transaction-bound slice of violation
// persistence used when completing a check.
type ViolationTxRepository interface {
	CreateBatch(ctx context.Context, violations []*domain.Violation) error
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Checks() CheckTxRepository
	Violations() ViolationTxRepository
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-hierarchy/pkg/composables"
)

// Transactor runs fn atomically: either every write inside fn commits or none does.
type Transactor interface {
	InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error
}

type pgTransactor struct{}

// NewPgTransactor opens transactions on the pool bound to the context and
// applies tenant RLS. A transaction already in the context is joined.
func NewPgTransactor() Transactor {
	return pgTransactor{}
}

func (pgTransactor) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	return composables.InTenantTx(composables.WithTenantID(ctx, tenantID), fn)
}

func inTx[T any](ctx context.Context, tx Transactor, tenantID uuid.UUID, fn func(txCtx context.Context) (T, error)) (T, error) {
	var out T
	err := tx.InTx(ctx, tenantID, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, mapPgErrorToServiceError(err)
	}
	return out, nil
}

func inTxDo(ctx context.Context, tx Transactor, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	return mapPgErrorToServiceError(tx.InTx(ctx, tenantID, fn))
}

package composables

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-hierarchy/pkg/constants"
)

// InTenantTx joins the transaction already bound to ctx, or opens a new one.
func InTenantTx(ctx context.Context, fn func(context.Context) error) error {
	if existing, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && existing != nil {
		if err := ApplyTenantRLS(ctx, existing); err != nil {
			return err
		}
		return fn(ctx)
	}
	return InTx(ctx, fn)
}

package services

import (
	"context"

	"github.com/upb/sso-audit/repositories"
)

// WithTransaction runs fn inside the transaction scope of txMgr so that
// every repository call made with the supplied context shares one
// transaction. A nil manager runs fn directly.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) error) error {
	if txMgr == nil {
		return fn(ctx)
	}
	return txMgr.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		return fn(txCtx)
	})
}

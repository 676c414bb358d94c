package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying transaction handle via `tx`.
//
// Use-case interfaces stay clean (no transaction types leaking out) while
// repository methods that accept a Tx can run SELECT ... FOR UPDATE or use
// tx-bound Exec/Query as needed. Repositories MUST gracefully accept a nil
// Tx (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

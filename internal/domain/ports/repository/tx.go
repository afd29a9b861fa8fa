package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle handed to repositories. Its concrete
// type belongs to the storage adapter (pgx.Tx for Postgres). Repositories
// treat a nil Tx as "use the pool, no transaction".
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one storage transaction.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		p, err := intents.FindByGatewayID(ctx, tx, id) // row locked until commit
//		...
//	})
//
// fn returning an error rolls back; nil commits.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

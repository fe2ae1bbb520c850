package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Store methods take the narrowest capability they need so the same code
// runs against the pool, a transaction, or a test stub.

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is what read paths outside a transaction get.
type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is the surface handed to store methods running inside db.WithTx.
// Multi-row reads inside a transaction take DB instead.
type Tx interface {
	Execer
	Getter
}

var (
	_ DB = (*sqlx.DB)(nil)
	_ DB = (*sqlx.Tx)(nil)
)

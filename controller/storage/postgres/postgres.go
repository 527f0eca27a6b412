// Package postgres backs the graph store and the SLO repository with
// PostgreSQL. The in-memory implementations in controller/graph and
// controller/slo remain the reference semantics; everything here must
// behave identically under the shared interface tests.
package postgres

import (
	"context"
	_ "embed"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sloscope/sloscope/pkg/problem"
)

//go:embed schema.sql
var schema string

const (
	connectTimeout = 10 * time.Second
	maxOpenConns   = 16
)

// Open connects to the database and applies the schema.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, problem.Wrap(problem.Unavailable, err, "could not connect to postgres")
	}
	db.SetMaxOpenConns(maxOpenConns)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, problem.Wrap(problem.Internal, err, "could not apply schema")
	}
	log.Debug("postgres schema applied")
	return db, nil
}

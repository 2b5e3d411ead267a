package db

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"gitlab.com/ranfdev/pollvote/internal/models"
	"gitlab.com/ranfdev/pollvote/migrations"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// SharedDB is the postgres implementation of the poll catalog and of the
// vote store.
type SharedDB struct {
	voteQueries
	pool   *pgxpool.Pool
	config *models.EnvConfig
}

func newMigrate(dbURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	return m, nil
}

func MigrateUp(dbURL string) error {
	m, err := newMigrate(dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("while migrating up: %w", err)
	}
	return nil
}
func MigrateDown(dbURL string) error {
	m, err := newMigrate(dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	err = m.Down()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("while migrating down: %w", err)
	}
	return nil
}
func Drop(dbURL string) error {
	m, err := newMigrate(dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	err = m.Drop()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("while dropping: %w", err)
	}
	return nil
}

func Connect(ctx context.Context, config *models.EnvConfig) (*SharedDB, error) {
	pool, err := pgxpool.Connect(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SharedDB{
		voteQueries: voteQueries{db: pool},
		pool:        pool,
		config:      config,
	}, nil
}

func (sdb *SharedDB) Close() {
	sdb.pool.Close()
}

func (sdb *SharedDB) Ping(ctx context.Context) error {
	return sdb.pool.Ping(ctx)
}

func execTx(ctx context.Context, db *pgxpool.Pool, txFunc func(context.Context, pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	err = txFunc(ctx, tx)
	if err != nil {
		tx.Rollback(context.WithoutCancel(ctx))
		return err
	}

	return tx.Commit(ctx)
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeSerializationFail   = "40001"
	codeDeadlockDetected    = "40P01"
	codeAdminShutdown       = "57P01"
	codeTooManyConnections  = "53300"
)

// classify maps driver errors to the model sentinels. Errors that leave
// the vote state unchanged become models.ErrStoreUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		models.ErrOptionNotFound, models.ErrPollNotFound, models.ErrVoteNotFound,
		models.ErrVoteConflict, models.ErrStoreUnavailable, models.ErrSwitchPartiallyFailed,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrVoteConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", models.ErrOptionNotFound, pgErr.ConstraintName)
		case codeSerializationFail, codeDeadlockDetected, codeAdminShutdown, codeTooManyConnections:
			return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return err
}

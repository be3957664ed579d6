package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// queryer is the statement surface repositories run against. *sql.Tx
// satisfies it; repositories never see the pool itself.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sessionKey struct{}

func inSession(ctx context.Context) bool {
	_, ok := ctx.Value(sessionKey{}).(*sql.Tx)
	return ok
}

// sessions hands out scoped units of work over the bounded *sql.DB pool.
type sessions struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

// WithSession borrows a connection, opens a transaction and runs work with it.
// The transaction commits when work returns nil and rolls back otherwise (a
// panic rolls back and is re-raised); the connection always goes back to the
// pool. A ctx that already carries a session reuses that transaction, so
// nested calls never commit partially.
//
// Cancellation of ctx is honoured only while waiting for a connection. Once the
// transaction has begun it runs to commit or rollback.
func (s *sessions) WithSession(ctx context.Context, work func(ctx context.Context, tx *sql.Tx) error) (err error) {
	if tx, ok := ctx.Value(sessionKey{}).(*sql.Tx); ok {
		return work(ctx, tx)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: failed to acquire connection: %w", ErrStorageUnavailable, err)
	}
	defer conn.Close()

	txCtx := context.WithoutCancel(ctx)
	tx, err := conn.BeginTx(txCtx, nil)
	if err != nil {
		return classifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := work(context.WithValue(txCtx, sessionKey{}, tx), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return classifyError(err)
	}

	if err := tx.Commit(); err != nil {
		return classifyError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

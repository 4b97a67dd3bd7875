package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/sso-audit/repositories"
	"go.uber.org/zap"
)

// txKey binds the active *Tx to a context
type txKey struct{}

// TxManager groups writes that must land together, such as an event and
// the workflow rows it advanced.
type TxManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTransactionManager creates a transaction manager over db
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TxManager{db: db, logger: logger}
}

// Begin opens a transaction. Failures to open are classified like any other
// storage error so callers can retry connection problems.
func (m *TxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyError("begin transaction", err)
	}
	return &Tx{tx: sqlTx, ctx: ctx, logger: m.logger}, nil
}

// InTransaction runs fn with the transaction bound to its context, so
// repositories called with that context write through it. A call made while
// a transaction is already bound joins it and the outermost call commits.
// A panic in fn rolls back before propagating.
func (m *TxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if outer, ok := txFromContext(ctx); ok {
		return fn(ctx, outer)
	}

	begun, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	tx := begun.(*Tx)
	tx.ctx = context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			m.rollback(tx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err := fn(tx.ctx, tx); err != nil {
		m.rollback(tx, err)
		return err
	}
	return tx.Commit()
}

func (m *TxManager) rollback(tx *Tx, cause error) {
	if err := tx.Rollback(); err != nil {
		m.logger.Error("failed to rollback audit transaction",
			zap.Error(err),
			zap.NamedError("cause", cause))
	}
}

// Tx is a repositories.Transaction backed by *sql.Tx
type Tx struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classifyError("commit transaction", err)
	}
	t.logger.Debug("audit transaction committed")
	return nil
}

// Rollback rolls the transaction back. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return classifyError("rollback transaction", err)
	}
	t.logger.Debug("audit transaction rolled back")
	return nil
}

// Context returns the context the transaction is bound to
func (t *Tx) Context() context.Context {
	return t.ctx
}

func txFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the transaction bound to ctx, or the pool when there is none
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tx, ok := txFromContext(ctx); ok {
		return tx.tx
	}
	return db.DB
}

package uow

import (
	"context"
	"database/sql"
	"time"

	"github.com/nimburion/unitofwork/pkg/repository"
)

var _ repository.Transaction = (*Transaction)(nil)

// Transaction is the handle of the transaction a session has open. It is
// owned by the session; Commit and Rollback close it through the session.
type Transaction struct {
	id        string
	tx        *sql.Tx
	session   *Session
	ctx       context.Context
	startedAt time.Time
}

// ID identifies the transaction in logs and errors.
func (t *Transaction) ID() string { return t.id }

// Tx returns the driver transaction for passing to code that takes *sql.Tx.
func (t *Transaction) Tx() *sql.Tx { return t.tx }

// Context returns the context the transaction was begun with.
func (t *Transaction) Context() context.Context { return t.ctx }

// StartedAt returns when the transaction was begun.
func (t *Transaction) StartedAt() time.Time { return t.startedAt }

// Commit commits the transaction. It fails with ErrTransactionClosed when the
// transaction is no longer the session's current one.
func (t *Transaction) Commit() error {
	return t.session.commit(t)
}

// Rollback rolls back the transaction. It fails with ErrTransactionClosed when
// the transaction is no longer the session's current one.
func (t *Transaction) Rollback() error {
	return t.session.rollback(t)
}

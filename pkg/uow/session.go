// Package uow implements a unit of work over database/sql: a session pinned to
// one connection that owns at most one transaction, lazily built repositories
// sharing that transaction, raw SQL helpers and an interceptor that wraps
// business methods in transaction boundaries.
package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/unitofwork/pkg/async"
	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/repository"
)

// Connector supplies the connection a session pins for its lifetime.
// *sql.DB implements it.
type Connector interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Session is one unit of work. It is meant for a single logical flow; the
// transaction state is locked so that commit and rollback may run from the
// goroutine settling a pending result.
type Session struct {
	id   string
	conn *sql.Conn
	opts sessionOptions
	log  logger.Logger

	mu           sync.Mutex
	current      *Transaction
	state        TxState
	rollbackOnly bool
	disposed     bool

	repositories *RepositoryCache
	changes      *repository.ChangeSet
	executor     *sessionExecutor
	disposeOnce  sync.Once
}

// NewSession acquires a connection from connector and pins it to a new session.
func NewSession(ctx context.Context, connector Connector, opts ...Option) (*Session, error) {
	if connector == nil {
		return nil, &ConstructionError{What: "session", Err: errors.New("nil connector")}
	}

	options := defaultSessionOptions()
	for _, opt := range opts {
		opt(&options)
	}

	conn, err := connector.Conn(ctx)
	if err != nil {
		return nil, &ConstructionError{What: "session", Err: fmt.Errorf("acquire connection: %w", err)}
	}

	s := &Session{
		id:           uuid.NewString(),
		conn:         conn,
		opts:         options,
		repositories: NewRepositoryCache(),
		changes:      repository.NewChangeSet(),
	}
	s.log = options.log.With("session_id", s.id)
	s.executor = &sessionExecutor{session: s}

	s.log.Debug("unit of work session opened", "dialect", string(options.dialect))
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Dialect returns the placeholder dialect of the session.
func (s *Session) Dialect() repository.Dialect { return s.opts.dialect }

// Model returns the model the session is bound to, or nil.
func (s *Session) Model() *Model { return s.opts.model }

// Logger returns the session logger.
func (s *Session) Logger() logger.Logger { return s.log }

// Conn returns the pinned connection. Statements run on it directly bypass
// the current transaction; use Executor to follow it.
func (s *Session) Conn() (*sql.Conn, error) {
	if s.isDisposed() {
		return nil, ErrSessionDisposed
	}
	return s.conn, nil
}

// Executor returns a repository.SQLExecutor that runs statements on the
// current transaction when one is active and on the pinned connection otherwise.
func (s *Session) Executor() repository.SQLExecutor { return s.executor }

// BeginTransaction opens a transaction on the pinned connection. When one is
// already active it is returned unchanged.
func (s *Session) BeginTransaction(ctx context.Context) (*Transaction, error) {
	tx, _, err := s.begin(ctx)
	return tx, err
}

func (s *Session) begin(ctx context.Context) (*Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil, false, ErrSessionDisposed
	}
	if s.current != nil {
		return s.current, false, nil
	}

	// Pending results keep the transaction open after the opening call returns.
	sqlTx, err := s.conn.BeginTx(context.WithoutCancel(ctx), s.opts.txOptions)
	if err != nil {
		return nil, false, fmt.Errorf("uow: begin transaction: %w", err)
	}

	t := &Transaction{
		id:        uuid.NewString(),
		tx:        sqlTx,
		session:   s,
		ctx:       ctx,
		startedAt: time.Now(),
	}
	s.current = t
	s.state = Active
	s.rollbackOnly = false
	s.opts.metrics.begun()
	s.log.Debug("transaction started", "tx_id", t.id)

	return t, true, nil
}

// Commit commits the current transaction. It does nothing when no transaction
// is active. A session marked rollback-only rolls back instead and returns
// ErrRollbackOnly.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.commitLocked(s.current)
}

// Rollback rolls back the current transaction. It does nothing when no
// transaction is active.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.closeLocked(s.current, false)
}

func (s *Session) commit(t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != t {
		return ErrTransactionClosed
	}
	return s.commitLocked(t)
}

func (s *Session) rollback(t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != t {
		return ErrTransactionClosed
	}
	return s.closeLocked(t, false)
}

func (s *Session) commitLocked(t *Transaction) error {
	if s.rollbackOnly {
		if err := s.closeLocked(t, false); err != nil {
			return errors.Join(ErrRollbackOnly, err)
		}
		return ErrRollbackOnly
	}
	return s.closeLocked(t, true)
}

// closeLocked ends t. The current transaction is cleared whatever the driver
// reports, so the next begin opens a fresh one.
func (s *Session) closeLocked(t *Transaction, commit bool) error {
	s.current = nil
	s.rollbackOnly = false

	var err error
	state := RolledBack
	if commit {
		state = Committed
		err = t.tx.Commit()
	} else {
		err = t.tx.Rollback()
	}
	if err != nil {
		state = Failed
	}
	s.state = state
	s.opts.metrics.closed(state, t.startedAt)

	switch {
	case err != nil && commit:
		s.log.Error("transaction commit failed", "tx_id", t.id, "error", err)
		return &TransactionCommitError{TxID: t.id, Err: err}
	case err != nil:
		s.log.Error("transaction rollback failed", "tx_id", t.id, "error", err)
		return &TransactionRollbackError{TxID: t.id, Err: err}
	case commit:
		s.log.Debug("transaction committed", "tx_id", t.id, "duration", time.Since(t.startedAt))
	default:
		s.log.Debug("transaction rolled back", "tx_id", t.id, "duration", time.Since(t.startedAt))
	}
	return nil
}

// MarkRollbackOnly makes the next commit of the current transaction roll back.
// It does nothing when no transaction is active.
func (s *Session) MarkRollbackOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.rollbackOnly = true
	}
}

// IsRollbackOnly reports whether the current transaction is marked rollback-only.
func (s *Session) IsRollbackOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackOnly
}

// CurrentTransaction returns the active transaction, or nil.
func (s *Session) CurrentTransaction() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsTransactionActive reports whether a transaction is open.
func (s *Session) IsTransactionActive() bool {
	return s.CurrentTransaction() != nil
}

// HasCommitted reports whether the last transaction committed successfully.
func (s *Session) HasCommitted() bool {
	return s.State() == Committed
}

// State returns the transaction state of the session.
func (s *Session) State() TxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingChanges returns the number of writes staged by tracked repositories.
func (s *Session) PendingChanges() int {
	return s.changes.Len()
}

// SaveChanges applies the writes staged by tracked repositories in staging
// order and returns how many were applied. It joins the active transaction;
// without one the writes run in a transaction of their own. On failure the
// error is returned unchanged and the staged writes are kept.
func (s *Session) SaveChanges(ctx context.Context) (int64, error) {
	if s.isDisposed() {
		return 0, ErrSessionDisposed
	}
	if s.IsTransactionActive() {
		return s.changes.Flush(ctx)
	}
	if s.changes.Len() == 0 {
		return 0, nil
	}

	tx, err := s.BeginTransaction(ctx)
	if err != nil {
		return 0, err
	}

	applied, err := s.changes.Apply(ctx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback after failed save changes failed", "tx_id", tx.ID(), "error", rbErr)
		}
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.changes.Discard(applied)
	return applied, nil
}

// SaveChangesAsync runs SaveChanges on a new goroutine.
func (s *Session) SaveChangesAsync(ctx context.Context) *async.Future[int64] {
	return async.Go(ctx, s.SaveChanges)
}

// Dispose rolls back a still active transaction, clears the repository cache
// and the staged writes and releases the pinned connection. Only the first
// call has an effect.
func (s *Session) Dispose() error {
	var err error
	s.disposeOnce.Do(func() {
		var errs []error

		s.mu.Lock()
		s.disposed = true
		if s.current != nil {
			s.log.Warn("disposing session with an active transaction", "tx_id", s.current.id)
			if rbErr := s.closeLocked(s.current, false); rbErr != nil {
				errs = append(errs, rbErr)
			}
		}
		s.mu.Unlock()

		s.repositories.Clear()
		s.changes.Clear()

		if cErr := s.conn.Close(); cErr != nil {
			errs = append(errs, fmt.Errorf("uow: release connection: %w", cErr))
		}
		err = errors.Join(errs...)
		s.log.Debug("unit of work session disposed")
	})
	return err
}

func (s *Session) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// route picks where a statement runs: the explicit transaction when given,
// otherwise the current transaction, otherwise the pinned connection.
func (s *Session) route(tx *Transaction) (repository.SQLExecutor, error) {
	if tx != nil {
		if tx.session != s {
			return nil, ErrForeignTransaction
		}
		if s.CurrentTransaction() != tx {
			return nil, ErrTransactionClosed
		}
		return tx.tx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrSessionDisposed
	}
	if s.current != nil {
		return s.current.tx, nil
	}
	return s.conn, nil
}

func (s *Session) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.statementTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.statementTimeout)
}

type sessionExecutor struct {
	session *Session
}

func (e *sessionExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	target, err := e.session.route(nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := e.session.statementContext(ctx)
	defer cancel()
	return target.ExecContext(ctx, query, args...)
}

func (e *sessionExecutor) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	target, err := e.session.route(nil)
	if err != nil {
		return nil, err
	}
	return target.QueryContext(ctx, query, args...)
}

// QueryRowContext cannot report a routing error, so a disposed session falls
// back to its closed connection and the error surfaces on Scan.
func (e *sessionExecutor) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	target, err := e.session.route(nil)
	if err != nil {
		return e.session.conn.QueryRowContext(ctx, query, args...)
	}
	return target.QueryRowContext(ctx, query, args...)
}

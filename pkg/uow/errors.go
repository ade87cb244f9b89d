package uow

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionDisposed is returned by operations on a disposed session.
	ErrSessionDisposed = errors.New("uow: session disposed")
	// ErrRollbackOnly is returned when the owner of a transaction finished
	// successfully but a nested call had already failed, so the work was rolled back.
	ErrRollbackOnly = errors.New("uow: transaction marked rollback-only")
	// ErrTransactionClosed is returned when a transaction handle is used after
	// its transaction was committed or rolled back.
	ErrTransactionClosed = errors.New("uow: transaction already closed")
	// ErrForeignTransaction is returned when a statement is given a
	// transaction opened by a different session.
	ErrForeignTransaction = errors.New("uow: transaction belongs to another session")
	// ErrNilFuture is returned when a pending-result method returned a nil future.
	ErrNilFuture = errors.New("uow: method returned a nil future")
)

// ConstructionError reports that a session or repository could not be built.
type ConstructionError struct {
	What string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("uow: cannot construct %s: %v", e.What, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// TransactionCommitError reports that the driver rejected a commit.
type TransactionCommitError struct {
	TxID string
	Err  error
}

func (e *TransactionCommitError) Error() string {
	return fmt.Sprintf("uow: commit of transaction %s failed: %v", e.TxID, e.Err)
}

func (e *TransactionCommitError) Unwrap() error { return e.Err }

// TransactionRollbackError reports that the driver rejected a rollback.
type TransactionRollbackError struct {
	TxID string
	Err  error
}

func (e *TransactionRollbackError) Error() string {
	return fmt.Sprintf("uow: rollback of transaction %s failed: %v", e.TxID, e.Err)
}

func (e *TransactionRollbackError) Unwrap() error { return e.Err }

// TargetInvocationError wraps the failure of an intercepted method. Err is the
// method's own error, kept intact. RollbackErr is set when the rollback that
// followed the failure also failed.
type TargetInvocationError struct {
	Method      string
	Err         error
	RollbackErr error
}

func (e *TargetInvocationError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("uow: %s failed: %v (rollback: %v)", e.Method, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("uow: %s failed: %v", e.Method, e.Err)
}

// Unwrap exposes both the method failure and the rollback failure to errors.Is/As.
func (e *TargetInvocationError) Unwrap() []error {
	if e.RollbackErr == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.RollbackErr}
}

// CardinalityError is returned by QuerySingle when the statement did not
// produce exactly one row.
type CardinalityError struct {
	Query string
	Rows  int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("uow: expected exactly one row, got %d", e.Rows)
}

// ConfigurationError reports an invalid registration.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "uow: configuration: " + e.Reason
}

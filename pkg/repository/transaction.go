package repository

import (
	"context"
	"errors"
	"fmt"
)

// TransactionManager runs fn inside a transaction, committing when it returns
// nil and rolling back otherwise. uow.Provider implements it.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Transaction is the handle a unit of work exposes for its current transaction.
type Transaction interface {
	Commit() error
	Rollback() error

	// Context returns the context the transaction was started with
	Context() context.Context
}

// Versioned entities are updated with a version check. The mapper must emit a
// "version" column.
type Versioned interface {
	GetVersion() int64
	SetVersion(version int64)
}

// ErrStaleEntity matches every *OptimisticLockError with errors.Is.
var ErrStaleEntity = errors.New("stale entity")

// OptimisticLockError reports a versioned update that lost a race. Actual is
// the version currently stored.
type OptimisticLockError struct {
	Table    string
	EntityID string
	Expected int64
	Actual   int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed for %s %s: expected version %d, found %d",
		e.Table, e.EntityID, e.Expected, e.Actual)
}

// Is reports whether target is ErrStaleEntity.
func (e *OptimisticLockError) Is(target error) bool {
	return target == ErrStaleEntity
}

package repository

import (
	"context"
	"fmt"
	"sync"
)

// ChangeOp identifies the kind of a staged write.
type ChangeOp string

const (
	ChangeAdd    ChangeOp = "add"
	ChangeModify ChangeOp = "modify"
	ChangeRemove ChangeOp = "remove"
)

// Change is a write staged on a ChangeSet.
type Change struct {
	Op    ChangeOp
	Table string
	apply func(ctx context.Context) error
}

// String returns op and table, e.g. "add users".
func (c Change) String() string {
	return fmt.Sprintf("%s %s", c.Op, c.Table)
}

// ChangeSet collects staged writes and applies them in staging order.
// It is safe for concurrent use.
type ChangeSet struct {
	mu      sync.Mutex
	pending []Change
}

// NewChangeSet creates an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{}
}

// Stage appends a write to the set.
func (c *ChangeSet) Stage(op ChangeOp, table string, apply func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, Change{Op: op, Table: table, apply: apply})
}

// Len returns the number of staged writes.
func (c *ChangeSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Pending returns a copy of the staged writes.
func (c *ChangeSet) Pending() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Change, len(c.pending))
	copy(out, c.pending)
	return out
}

// Clear drops every staged write.
func (c *ChangeSet) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// Apply runs the staged writes in order and returns how many succeeded. It
// stops at the first failure and returns that error as-is. The set is left
// unchanged; callers drop applied writes with Discard.
func (c *ChangeSet) Apply(ctx context.Context) (int64, error) {
	var applied int64
	for _, change := range c.Pending() {
		if err := change.apply(ctx); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Discard drops the first n staged writes.
func (c *ChangeSet) Discard(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= int64(len(c.pending)) {
		c.pending = nil
		return
	}
	c.pending = c.pending[n:]
}

// Flush applies the staged writes and empties the set when all of them
// succeed. On failure the staged writes are kept.
func (c *ChangeSet) Flush(ctx context.Context) (int64, error) {
	applied, err := c.Apply(ctx)
	if err != nil {
		return applied, err
	}
	c.Discard(applied)
	return applied, nil
}

// TrackedRepository is a GenericCrudRepository whose Add, Modify and Remove
// stage writes on a ChangeSet instead of executing them.
type TrackedRepository[T any, ID comparable] struct {
	*GenericCrudRepository[T, ID]
	changes *ChangeSet
}

// NewTrackedRepository wraps repo so staged writes go to changes.
func NewTrackedRepository[T any, ID comparable](repo *GenericCrudRepository[T, ID], changes *ChangeSet) *TrackedRepository[T, ID] {
	return &TrackedRepository[T, ID]{GenericCrudRepository: repo, changes: changes}
}

// Add stages an insert of entity.
func (r *TrackedRepository[T, ID]) Add(entity *T) {
	r.changes.Stage(ChangeAdd, r.tableName, func(ctx context.Context) error {
		return r.Create(ctx, entity)
	})
}

// Modify stages an update of entity.
func (r *TrackedRepository[T, ID]) Modify(entity *T) {
	r.changes.Stage(ChangeModify, r.tableName, func(ctx context.Context) error {
		return r.Update(ctx, entity)
	})
}

// Remove stages a delete by id.
func (r *TrackedRepository[T, ID]) Remove(id ID) {
	r.changes.Stage(ChangeRemove, r.tableName, func(ctx context.Context) error {
		return r.Delete(ctx, id)
	})
}

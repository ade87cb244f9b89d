package repository

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Masterminds/squirrel"
)

// Reader provides read operations for entities
type Reader[T any, ID comparable] interface {
	FindByID(ctx context.Context, id ID) (*T, error)
	FindAll(ctx context.Context, opts QueryOptions) ([]T, error)
	Count(ctx context.Context, filter Filter) (int64, error)
}

// Writer provides write operations for entities
type Writer[T any, ID comparable] interface {
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, id ID) error
}

// Repository is the CRUD surface a unit of work hands out per entity.
type Repository[T any, ID comparable] interface {
	Reader[T, ID]
	Writer[T, ID]
}

// QueryOptions narrows, orders and pages a FindAll.
type QueryOptions struct {
	Filter     Filter
	Sort       Sort
	Pagination Pagination
}

// Filter holds equality criteria keyed by column, combined with AND.
// squirrel renders the columns in sorted order.
type Filter map[string]interface{}

func (f Filter) apply(sb squirrel.SelectBuilder) squirrel.SelectBuilder {
	if len(f) == 0 {
		return sb
	}
	return sb.Where(squirrel.Eq(f))
}

// SortOrder defines the sort direction for queries.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Sort orders results by one column. The column is interpolated into the
// statement, so it must be a plain or table-qualified identifier.
type Sort struct {
	Field string
	Order SortOrder
}

var sortField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Clause renders the ORDER BY term. An empty field yields an empty clause.
func (s Sort) Clause() (string, error) {
	if s.Field == "" {
		return "", nil
	}
	if !sortField.MatchString(s.Field) {
		return "", fmt.Errorf("invalid sort field %q", s.Field)
	}
	switch s.Order {
	case SortDesc:
		return s.Field + " DESC", nil
	case SortAsc, "":
		return s.Field + " ASC", nil
	default:
		return "", fmt.Errorf("invalid sort order %q", s.Order)
	}
}

// Pagination is 1-based. A zero PageSize disables paging.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset calculates the offset for database queries
func (p Pagination) Offset() int {
	if p.Page <= 0 || p.PageSize <= 0 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Limit returns the page size for database queries
func (p Pagination) Limit() int {
	if p.PageSize < 0 {
		return 0
	}
	return p.PageSize
}

func (o QueryOptions) apply(sb squirrel.SelectBuilder) (squirrel.SelectBuilder, error) {
	sb = o.Filter.apply(sb)

	clause, err := o.Sort.Clause()
	if err != nil {
		return sb, err
	}
	if clause != "" {
		sb = sb.OrderBy(clause)
	}

	if limit := o.Pagination.Limit(); limit > 0 {
		sb = sb.Limit(uint64(limit)).Offset(uint64(o.Pagination.Offset()))
	}
	return sb, nil
}

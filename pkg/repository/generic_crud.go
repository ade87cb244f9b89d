package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Masterminds/squirrel"
)

// SQLExecutor defines the interface for executing SQL queries
// This can be a *sql.DB, *sql.Conn, *sql.Tx, or a unit-of-work session executor
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect selects the bind placeholder style of the target database.
type Dialect string

const (
	// DialectPostgres uses $1, $2, ... placeholders
	DialectPostgres Dialect = "postgres"
	// DialectMySQL uses ? placeholders
	DialectMySQL Dialect = "mysql"
)

// Placeholder returns the squirrel placeholder format for the dialect.
func (d Dialect) Placeholder() squirrel.PlaceholderFormat {
	if d == DialectMySQL {
		return squirrel.Question
	}
	return squirrel.Dollar
}

// System returns the OpenTelemetry db.system value for the dialect.
func (d Dialect) System() string {
	if d == DialectMySQL {
		return "mysql"
	}
	return "postgresql"
}

// Bind rewrites ? placeholders in query to the dialect's style.
func (d Dialect) Bind(query string) (string, error) {
	return d.Placeholder().ReplacePlaceholders(query)
}

// GenericCrudRepository provides a generic implementation of CRUD operations for SQL databases
type GenericCrudRepository[T any, ID comparable] struct {
	executor  SQLExecutor
	tableName string
	idColumn  string
	mapper    EntityMapper[T, ID]
	builder   squirrel.StatementBuilderType
}

// EntityMapper defines how to map between entities and database rows
type EntityMapper[T any, ID comparable] interface {
	// ToRow converts an entity to column names and values for INSERT/UPDATE
	ToRow(entity *T) (columns []string, values []interface{}, err error)

	// FromRow scans a database row into an entity
	FromRow(rows *sql.Rows) (*T, error)

	// GetID extracts the ID from an entity
	GetID(entity *T) ID

	// SetID sets the ID on an entity
	SetID(entity *T, id ID)
}

// Option configures a GenericCrudRepository.
type Option func(*repositoryOptions)

type repositoryOptions struct {
	dialect Dialect
}

// WithDialect sets the placeholder dialect. Postgres is the default.
func WithDialect(d Dialect) Option {
	return func(o *repositoryOptions) {
		o.dialect = d
	}
}

// NewGenericCrudRepository creates a new generic CRUD repository
func NewGenericCrudRepository[T any, ID comparable](
	executor SQLExecutor,
	tableName string,
	idColumn string,
	mapper EntityMapper[T, ID],
	opts ...Option,
) *GenericCrudRepository[T, ID] {
	options := repositoryOptions{dialect: DialectPostgres}
	for _, opt := range opts {
		opt(&options)
	}

	return &GenericCrudRepository[T, ID]{
		executor:  executor,
		tableName: tableName,
		idColumn:  idColumn,
		mapper:    mapper,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(options.dialect.Placeholder()),
	}
}

// Table returns the table the repository reads and writes.
func (r *GenericCrudRepository[T, ID]) Table() string {
	return r.tableName
}

// Create inserts a new entity into the database
func (r *GenericCrudRepository[T, ID]) Create(ctx context.Context, entity *T) error {
	if entity == nil {
		return errors.New("entity cannot be nil")
	}

	columns, values, err := r.mapper.ToRow(entity)
	if err != nil {
		return fmt.Errorf("failed to map entity to row: %w", err)
	}

	query, args, err := r.builder.Insert(r.tableName).Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.executor.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

// FindByID retrieves an entity by its ID
func (r *GenericCrudRepository[T, ID]) FindByID(ctx context.Context, id ID) (*T, error) {
	query, args, err := r.builder.Select("*").From(r.tableName).Where(squirrel.Eq{r.idColumn: id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating rows: %w", err)
		}
		return nil, sql.ErrNoRows
	}

	entity, err := r.mapper.FromRow(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	return entity, nil
}

// FindAll retrieves entities matching the query options. Returns an empty
// slice if no entities match; an invalid sort is rejected before querying.
func (r *GenericCrudRepository[T, ID]) FindAll(ctx context.Context, opts QueryOptions) ([]T, error) {
	sb, err := opts.apply(r.builder.Select("*").From(r.tableName))
	if err != nil {
		return nil, err
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := []T{}
	for rows.Next() {
		entity, err := r.mapper.FromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entities, nil
}

// Count returns the number of entities matching the filter
func (r *GenericCrudRepository[T, ID]) Count(ctx context.Context, filter Filter) (int64, error) {
	sb := filter.apply(r.builder.Select("COUNT(*)").From(r.tableName))

	query, args, err := sb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count: %w", err)
	}

	var count int64
	if err := r.executor.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}

	return count, nil
}

// Update updates an existing entity in the database.
// Automatically uses optimistic locking if the entity implements the Versioned interface.
// Returns sql.ErrNoRows if the entity doesn't exist.
func (r *GenericCrudRepository[T, ID]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return errors.New("entity cannot be nil")
	}

	id := r.mapper.GetID(entity)
	columns, values, err := r.mapper.ToRow(entity)
	if err != nil {
		return fmt.Errorf("failed to map entity to row: %w", err)
	}

	if versioned, ok := any(entity).(Versioned); ok {
		return r.updateWithOptimisticLock(ctx, versioned, id, columns, values)
	}

	ub := r.builder.Update(r.tableName)
	for i, col := range columns {
		ub = ub.Set(col, values[i])
	}
	query, args, err := ub.Where(squirrel.Eq{r.idColumn: id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	return r.execAffectingOne(ctx, "update", query, args)
}

func (r *GenericCrudRepository[T, ID]) updateWithOptimisticLock(
	ctx context.Context,
	versioned Versioned,
	id ID,
	columns []string,
	values []interface{},
) error {
	currentVersion := versioned.GetVersion()
	newVersion := currentVersion + 1

	ub := r.builder.Update(r.tableName)
	for i, col := range columns {
		if col == "version" {
			ub = ub.Set(col, newVersion)
			continue
		}
		ub = ub.Set(col, values[i])
	}

	query, args, err := ub.
		Where(squirrel.Eq{r.idColumn: id}).
		Where(squirrel.Eq{"version": currentVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := r.executor.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		checkQuery, checkArgs, err := r.builder.Select("version").From(r.tableName).Where(squirrel.Eq{r.idColumn: id}).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build version check: %w", err)
		}

		var actualVersion int64
		err = r.executor.QueryRowContext(ctx, checkQuery, checkArgs...).Scan(&actualVersion)
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("failed to check entity version: %w", err)
		}

		return &OptimisticLockError{
			Table:    r.tableName,
			EntityID: fmt.Sprintf("%v", id),
			Expected: currentVersion,
			Actual:   actualVersion,
		}
	}

	versioned.SetVersion(newVersion)
	return nil
}

// Delete removes an entity from the database by its ID
func (r *GenericCrudRepository[T, ID]) Delete(ctx context.Context, id ID) error {
	query, args, err := r.builder.Delete(r.tableName).Where(squirrel.Eq{r.idColumn: id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	return r.execAffectingOne(ctx, "delete", query, args)
}

func (r *GenericCrudRepository[T, ID]) execAffectingOne(ctx context.Context, verb, query string, args []interface{}) error {
	result, err := r.executor.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s entity: %w", verb, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// ReflectionMapper maps struct fields to columns through `db` tags, falling back
// to the lower-cased field name. Fields tagged `db:"-"` are skipped.
type ReflectionMapper[T any, ID comparable] struct {
	idField string
}

// NewReflectionMapper creates a new reflection-based entity mapper
func NewReflectionMapper[T any, ID comparable](idField string) *ReflectionMapper[T, ID] {
	return &ReflectionMapper[T, ID]{
		idField: idField,
	}
}

func columnName(field reflect.StructField) string {
	if name := field.Tag.Get("db"); name != "" {
		return name
	}
	return strings.ToLower(field.Name)
}

// ToRow converts an entity to column names and values using reflection
func (m *ReflectionMapper[T, ID]) ToRow(entity *T) ([]string, []interface{}, error) {
	v := reflect.ValueOf(entity).Elem()
	t := v.Type()

	columns := []string{}
	values := []interface{}{}
	for i := 0; i < t.NumField(); i++ {
		name := columnName(t.Field(i))
		if name == "-" {
			continue
		}
		columns = append(columns, name)
		values = append(values, v.Field(i).Interface())
	}

	return columns, values, nil
}

// FromRow scans a database row into an entity using reflection
func (m *ReflectionMapper[T, ID]) FromRow(rows *sql.Rows) (*T, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	scanDest := make([]interface{}, len(columns))
	columnIndex := make(map[string]int, len(columns))
	for i, col := range columns {
		columnIndex[col] = i
		scanDest[i] = new(interface{})
	}

	if err := rows.Scan(scanDest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	entity := new(T)
	v := reflect.ValueOf(entity).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		idx, ok := columnIndex[columnName(t.Field(i))]
		if !ok {
			continue
		}
		value := *(scanDest[idx].(*interface{}))
		if value == nil {
			continue
		}
		rv := reflect.ValueOf(value)
		if !rv.Type().ConvertibleTo(v.Field(i).Type()) {
			return nil, fmt.Errorf("column %s: cannot convert %s to %s", columns[idx], rv.Type(), v.Field(i).Type())
		}
		v.Field(i).Set(rv.Convert(v.Field(i).Type()))
	}

	return entity, nil
}

// GetID extracts the ID from an entity using reflection
func (m *ReflectionMapper[T, ID]) GetID(entity *T) ID {
	field := reflect.ValueOf(entity).Elem().FieldByName(m.idField)
	if !field.IsValid() {
		var zero ID
		return zero
	}
	id, _ := field.Interface().(ID)
	return id
}

// SetID sets the ID on an entity using reflection
func (m *ReflectionMapper[T, ID]) SetID(entity *T, id ID) {
	field := reflect.ValueOf(entity).Elem().FieldByName(m.idField)
	if field.IsValid() && field.CanSet() {
		field.Set(reflect.ValueOf(id))
	}
}

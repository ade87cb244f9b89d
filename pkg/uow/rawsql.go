package uow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/nimburion/unitofwork/pkg/observability/tracing"
	"github.com/nimburion/unitofwork/pkg/repository"
)

// Params holds named statement parameters. Passed as the only argument of a
// raw SQL helper, every @name outside a quoted literal is replaced with the
// dialect's positional placeholder.
type Params map[string]any

type statementFunc func(ctx context.Context, target repository.SQLExecutor, query string, args []any) error

// Query runs query and maps every row into a T. Structs map columns through
// `db` tags; single-column results map into scalars. No rows yields an empty slice.
func Query[T any](ctx context.Context, s *Session, query string, args ...any) ([]T, error) {
	return QueryTx[T](ctx, s, nil, query, args...)
}

// QueryTx is Query bound to tx instead of the session's current transaction.
func QueryTx[T any](ctx context.Context, s *Session, tx *Transaction, query string, args ...any) ([]T, error) {
	var out []T
	err := s.run(ctx, tx, tracing.SpanOperationDBQuery, query, args, func(ctx context.Context, target repository.SQLExecutor, q string, a []any) error {
		return sqlscan.Select(ctx, target, &out, q, a...)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// QueryFirstOrDefault returns the first row of query, or the zero T when the
// query has no rows. Additional rows are ignored.
func QueryFirstOrDefault[T any](ctx context.Context, s *Session, query string, args ...any) (T, error) {
	return QueryFirstOrDefaultTx[T](ctx, s, nil, query, args...)
}

// QueryFirstOrDefaultTx is QueryFirstOrDefault bound to tx.
func QueryFirstOrDefaultTx[T any](ctx context.Context, s *Session, tx *Transaction, query string, args ...any) (T, error) {
	var out T
	err := s.run(ctx, tx, tracing.SpanOperationDBQuery, query, args, func(ctx context.Context, target repository.SQLExecutor, q string, a []any) error {
		rows, err := target.QueryContext(ctx, q, a...)
		if err != nil {
			return err
		}
		defer rows.Close()

		if rows.Next() {
			if err := sqlscan.ScanRow(&out, rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// QuerySingle returns the only row of query. It fails with *CardinalityError
// when the query has no rows or more than one.
func QuerySingle[T any](ctx context.Context, s *Session, query string, args ...any) (T, error) {
	return QuerySingleTx[T](ctx, s, nil, query, args...)
}

// QuerySingleTx is QuerySingle bound to tx.
func QuerySingleTx[T any](ctx context.Context, s *Session, tx *Transaction, query string, args ...any) (T, error) {
	var out T
	err := s.run(ctx, tx, tracing.SpanOperationDBQuery, query, args, func(ctx context.Context, target repository.SQLExecutor, q string, a []any) error {
		rows, err := target.QueryContext(ctx, q, a...)
		if err != nil {
			return err
		}
		defer rows.Close()

		count := 0
		for rows.Next() {
			count++
			if count == 1 {
				if err := sqlscan.ScanRow(&out, rows); err != nil {
					return err
				}
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if count != 1 {
			return &CardinalityError{Query: q, Rows: count}
		}
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Execute runs a statement and returns the number of affected rows.
func Execute(ctx context.Context, s *Session, query string, args ...any) (int64, error) {
	return ExecuteTx(ctx, s, nil, query, args...)
}

// ExecuteTx is Execute bound to tx.
func ExecuteTx(ctx context.Context, s *Session, tx *Transaction, query string, args ...any) (int64, error) {
	var affected int64
	err := s.run(ctx, tx, tracing.SpanOperationDBExec, query, args, func(ctx context.Context, target repository.SQLExecutor, q string, a []any) error {
		result, err := target.ExecContext(ctx, q, a...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Session) run(ctx context.Context, tx *Transaction, op tracing.SpanOperation, query string, args []any, fn statementFunc) error {
	target, err := s.route(tx)
	if err != nil {
		return err
	}

	q, a, err := bindArgs(s.opts.dialect, query, args)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem(s.opts.dialect.System()),
		tracing.WithDBStatement(q),
	)
	defer span.End()

	ctx, cancel := s.statementContext(ctx)
	defer cancel()

	err = fn(ctx, target, q, a)
	s.opts.metrics.statement(string(op), err)
	if err != nil {
		tracing.RecordError(span, err)
		var cardinality *CardinalityError
		if errors.As(err, &cardinality) {
			return err
		}
		return fmt.Errorf("uow: %s: %w", op, err)
	}
	tracing.RecordSuccess(span)
	return nil
}

func bindArgs(d repository.Dialect, query string, args []any) (string, []any, error) {
	for i, arg := range args {
		params, ok := arg.(Params)
		if !ok {
			continue
		}
		if len(args) != 1 || i != 0 {
			return "", nil, errors.New("uow: Params must be the only statement argument")
		}
		return bindNamed(d, query, params)
	}
	return query, args, nil
}

// bindNamed rewrites @name references. Postgres reuses the index of a repeated
// name; MySQL repeats the value. @@ is left alone for MySQL system variables.
// String literals, quoted identifiers and comments are copied untouched.
func bindNamed(d repository.Dialect, query string, params Params) (string, []any, error) {
	var (
		b       strings.Builder
		args    []any
		indexes = map[string]int{}
	)
	b.Grow(len(query))

	for i := 0; i < len(query); i++ {
		if end := skipVerbatim(d, query, i); end > i {
			b.WriteString(query[i:end])
			i = end - 1
			continue
		}

		c := query[i]
		switch {
		case c != '@':
			b.WriteByte(c)
			continue
		case i+1 < len(query) && query[i+1] == '@':
			b.WriteString("@@")
			i++
			continue
		case i+1 >= len(query) || !isIdentStart(query[i+1]):
			b.WriteByte(c)
			continue
		}

		j := i + 1
		for j < len(query) && isIdentPart(query[j]) {
			j++
		}
		name := query[i+1 : j]
		value, ok := params[name]
		if !ok {
			return "", nil, fmt.Errorf("uow: missing parameter @%s", name)
		}

		if d == repository.DialectMySQL {
			args = append(args, value)
			b.WriteByte('?')
		} else {
			n, seen := indexes[name]
			if !seen {
				args = append(args, value)
				n = len(args)
				indexes[name] = n
			}
			fmt.Fprintf(&b, "$%d", n)
		}
		i = j - 1
	}

	return b.String(), args, nil
}

// skipVerbatim returns the end of the literal, quoted identifier or comment
// starting at i, or i when none starts there. An unterminated span runs to
// the end of the query.
func skipVerbatim(d repository.Dialect, q string, i int) int {
	mysql := d == repository.DialectMySQL
	switch c := q[i]; {
	case c == '\'':
		// MySQL strings and Postgres E'' strings honour backslash escapes.
		escapes := mysql || (i > 0 && (q[i-1] == 'E' || q[i-1] == 'e') && (i < 2 || !isIdentPart(q[i-2])))
		return closeQuote(q, i, '\'', escapes)
	case c == '"':
		return closeQuote(q, i, '"', mysql)
	case c == '`' && mysql:
		return closeQuote(q, i, '`', false)
	case c == '-' && strings.HasPrefix(q[i:], "--"), c == '#' && mysql:
		if n := strings.IndexByte(q[i:], '\n'); n >= 0 {
			return i + n + 1
		}
		return len(q)
	case c == '/' && strings.HasPrefix(q[i:], "/*"):
		return closeBlockComment(q, i, !mysql)
	case c == '$' && !mysql:
		return closeDollarQuote(q, i)
	}
	return i
}

// closeQuote finds the quote ending the span opened at i. A doubled quote is
// part of the span either way.
func closeQuote(q string, i int, quote byte, escapes bool) int {
	for j := i + 1; j < len(q); j++ {
		switch q[j] {
		case '\\':
			if escapes {
				j++
			}
		case quote:
			return j + 1
		}
	}
	return len(q)
}

// closeBlockComment handles /* */, nested when the dialect allows it.
func closeBlockComment(q string, i int, nested bool) int {
	depth := 0
	for j := i; j+1 < len(q); j++ {
		switch {
		case q[j] == '/' && q[j+1] == '*' && (nested || depth == 0):
			depth++
			j++
		case q[j] == '*' && q[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(q)
}

// closeDollarQuote handles Postgres $tag$...$tag$ strings. $1 is a
// positional parameter, not a tag.
func closeDollarQuote(q string, i int) int {
	j := i + 1
	if j < len(q) && isIdentStart(q[j]) {
		for j < len(q) && isIdentPart(q[j]) {
			j++
		}
	}
	if j >= len(q) || q[j] != '$' {
		return i
	}
	tag := q[i : j+1]
	if n := strings.Index(q[j+1:], tag); n >= 0 {
		return j + 1 + n + len(tag)
	}
	return len(q)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

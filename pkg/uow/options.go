package uow

import (
	"database/sql"
	"time"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/repository"
)

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	model            *Model
	log              logger.Logger
	txOptions        *sql.TxOptions
	dialect          repository.Dialect
	statementTimeout time.Duration
	metrics          *Metrics
}

func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		log:     logger.NewNopLogger(),
		dialect: repository.DialectPostgres,
	}
}

// WithModel binds the session to a model holding custom repositories.
func WithModel(m *Model) Option {
	return func(o *sessionOptions) {
		o.model = m
	}
}

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) Option {
	return func(o *sessionOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTxOptions sets the isolation level and read-only flag of every
// transaction the session begins.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(o *sessionOptions) {
		o.txOptions = opts
	}
}

// WithDialect sets the placeholder dialect used by repositories and by the
// @name parameter rewriting of raw SQL.
func WithDialect(d repository.Dialect) Option {
	return func(o *sessionOptions) {
		o.dialect = d
	}
}

// WithStatementTimeout bounds raw SQL statements whose context has no deadline.
func WithStatementTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		o.statementTimeout = d
	}
}

// WithMetrics records transaction outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *sessionOptions) {
		o.metrics = m
	}
}

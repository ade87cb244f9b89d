// Package store selects and opens the relational database behind a
// unit-of-work context.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nimburion/unitofwork/pkg/repository"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// Database is a pooled SQL adapter that sessions can pin connections on.
type Database interface {
	Adapter
	Ping(ctx context.Context) error
	DB() *sql.DB
	Conn(ctx context.Context) (*sql.Conn, error)
	Dialect() repository.Dialect
	QueryTimeout() time.Duration
	Stats() sql.DBStats
}

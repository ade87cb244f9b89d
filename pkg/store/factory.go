package store

import (
	"fmt"
	"strings"

	"github.com/nimburion/unitofwork/pkg/config"
	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/store/mysql"
	"github.com/nimburion/unitofwork/pkg/store/postgres"
)

var (
	_ Database = (*postgres.PostgreSQLAdapter)(nil)
	_ Database = (*mysql.MySQLAdapter)(nil)
)

// NewDatabase opens the adapter named by cfg.Type.
func NewDatabase(cfg config.DatabaseConfig, log logger.Logger) (Database, error) {
	pool := postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
		QueryTimeout:    cfg.QueryTimeout,
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "":
		return nil, fmt.Errorf("database.type is required")
	case config.DatabaseTypePostgres:
		return postgres.NewPostgreSQLAdapter(pool, log)
	case config.DatabaseTypeMySQL:
		return mysql.NewMySQLAdapter(pool, log)
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: postgres, mysql)", cfg.Type)
	}
}

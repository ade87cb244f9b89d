package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/observability/tracing"
	"github.com/nimburion/unitofwork/pkg/repository"
	"github.com/nimburion/unitofwork/pkg/uow"
)

// DefaultTable is the bookkeeping table used when none is configured.
const DefaultTable = "schema_migrations"

var (
	migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)
	tableNamePattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// Migration represents a database migration with up and down SQL scripts.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// SessionProvider opens unit-of-work scopes. *uow.Provider satisfies it.
type SessionProvider interface {
	Scope(ctx context.Context, fn func(ctx context.Context, s *uow.Session) error) error
}

// SQLManager applies migrations through unit-of-work sessions. Every
// migration and its bookkeeping row commit or roll back together.
//
// A file is sent as one statement, so MySQL files holding several
// statements need multiStatements=true in the DSN.
type SQLManager struct {
	provider   SessionProvider
	migrations []Migration
	table      string
	log        logger.Logger
}

// ManagerOption customizes an SQLManager.
type ManagerOption func(*SQLManager)

// WithTable sets the bookkeeping table name.
func WithTable(name string) ManagerOption {
	return func(m *SQLManager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithLogger sets the logger for migration progress.
func WithLogger(l logger.Logger) ManagerOption {
	return func(m *SQLManager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewSQLManager loads the migrations under migrationsDir in migrationFiles.
func NewSQLManager(provider SessionProvider, migrationFiles fs.FS, migrationsDir string, opts ...ManagerOption) (*SQLManager, error) {
	if provider == nil {
		return nil, fmt.Errorf("session provider is required")
	}
	if migrationFiles == nil {
		return nil, fmt.Errorf("migration files filesystem is required")
	}
	if strings.TrimSpace(migrationsDir) == "" {
		return nil, fmt.Errorf("migration directory is required")
	}

	m := &SQLManager{provider: provider, table: DefaultTable, log: logger.NewNopLogger()}
	for _, opt := range opts {
		opt(m)
	}
	if !tableNamePattern.MatchString(m.table) {
		return nil, fmt.Errorf("invalid migration table name %q", m.table)
	}

	migrations, err := loadMigrations(migrationFiles, migrationsDir)
	if err != nil {
		return nil, err
	}
	m.migrations = migrations
	return m, nil
}

// Migrations returns the loaded migrations in version order.
func (m *SQLManager) Migrations() []Migration {
	return append([]Migration(nil), m.migrations...)
}

// Up applies all pending migrations in order and stops at the first failure.
func (m *SQLManager) Up(ctx context.Context) (int, error) {
	versions, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	applied := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	count := 0
	for _, migration := range m.migrations {
		if _, done := applied[migration.Version]; done {
			continue
		}
		err := m.step(ctx, migration, "up", func(ctx context.Context, s *uow.Session) error {
			if _, err := uow.Execute(ctx, s, migration.UpSQL); err != nil {
				return fmt.Errorf("apply migration %d_%s: %w", migration.Version, migration.Name, err)
			}
			_, err := uow.Execute(ctx, s,
				"INSERT INTO "+m.table+" (version, name) VALUES (@version, @name)",
				uow.Params{"version": migration.Version, "name": migration.Name})
			if err != nil {
				return fmt.Errorf("record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Down reverts up to steps of the most recently applied migrations.
func (m *SQLManager) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	versions, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if steps > len(versions) {
		steps = len(versions)
	}

	reverted := 0
	for _, version := range versions[:steps] {
		migration, ok := m.migrationByVersion(version)
		if !ok {
			return reverted, fmt.Errorf("migration definition not found for applied version %d", version)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return reverted, fmt.Errorf("down migration missing for version %d", version)
		}

		err := m.step(ctx, migration, "down", func(ctx context.Context, s *uow.Session) error {
			if _, err := uow.Execute(ctx, s, migration.DownSQL); err != nil {
				return fmt.Errorf("rollback migration %d_%s: %w", migration.Version, migration.Name, err)
			}
			if _, err := uow.Execute(ctx, s, "DELETE FROM "+m.table+" WHERE version = @version", uow.Params{"version": version}); err != nil {
				return fmt.Errorf("delete migration record %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return reverted, err
		}
		reverted++
	}
	return reverted, nil
}

// Status reports applied versions and the migrations still pending.
func (m *SQLManager) Status(ctx context.Context) (*Status, error) {
	versions, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	pending := make([]PendingMigration, 0)
	for _, migration := range m.migrations {
		if _, ok := applied[migration.Version]; !ok {
			pending = append(pending, PendingMigration{Version: migration.Version, Name: migration.Name})
		}
	}
	return &Status{AppliedVersions: versions, Pending: pending}, nil
}

// step runs fn inside a transactional call on a fresh session.
func (m *SQLManager) step(ctx context.Context, migration Migration, direction string, fn func(ctx context.Context, s *uow.Session) error) error {
	return m.provider.Scope(ctx, func(ctx context.Context, s *uow.Session) error {
		ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBMigrate,
			tracing.WithDBSystem(s.Dialect().System()),
			tracing.WithDBTable(m.table),
			tracing.WithMigration(migration.Version, direction),
		)
		defer span.End()

		method := uow.Transactional(fmt.Sprintf("migrate.%s.%d", direction, migration.Version))
		ic := uow.NewInterceptor(s, uow.WithInterceptorLogger(m.log))
		_, err := uow.Invoke(ctx, ic, method, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx, s)
		})
		if err != nil {
			tracing.RecordError(span, err)
			return err
		}
		tracing.RecordSuccess(span)
		m.log.Info("migration "+direction, "version", migration.Version, "name", migration.Name)
		return nil
	})
}

// applied ensures the bookkeeping table exists and returns applied versions
// in ascending order.
func (m *SQLManager) applied(ctx context.Context) ([]int64, error) {
	var versions []int64
	err := m.provider.Scope(ctx, func(ctx context.Context, s *uow.Session) error {
		if _, err := uow.Execute(ctx, s, createTableSQL(s.Dialect(), m.table)); err != nil {
			return fmt.Errorf("ensure %s table: %w", m.table, err)
		}
		var err error
		versions, err = uow.Query[int64](ctx, s, "SELECT version FROM "+m.table+" ORDER BY version")
		if err != nil {
			return fmt.Errorf("load applied migrations: %w", err)
		}
		return nil
	})
	return versions, err
}

func createTableSQL(d repository.Dialect, table string) string {
	if d == repository.DialectMySQL {
		return "CREATE TABLE IF NOT EXISTS " + table + ` (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL DEFAULT '',
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	}
	return "CREATE TABLE IF NOT EXISTS " + table + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
}

func (m *SQLManager) migrationByVersion(version int64) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

func loadMigrations(migrationFiles fs.FS, migrationsDir string) ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", matches[1], err)
		}
		payload, err := fs.ReadFile(migrationFiles, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = item
		} else if item.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, matches[2])
		}
		if matches[3] == "up" {
			item.UpSQL = string(payload)
		} else {
			item.DownSQL = string(payload)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", item.Version)
		}
		migrations = append(migrations, *item)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

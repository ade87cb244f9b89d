package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/cobra"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/testutil"
	"github.com/nimburion/unitofwork/pkg/uow"
)

func TestNewCommand_NilWithoutOpener(t *testing.T) {
	if cmd := NewCommand(CommandOptions{ServiceName: "uowctl"}); cmd != nil {
		t.Fatal("expected nil migrate command without an opener")
	}
}

func TestNewCommand_Subcommands(t *testing.T) {
	cmd := NewCommand(CommandOptions{
		ServiceName: "uowctl",
		Open:        func(*cobra.Command) (*Target, error) { return nil, nil },
	})
	for _, name := range []string{"up", "down", "status"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Fatalf("Find(%q) = %v, %v", name, sub, err)
		}
	}
}

func TestStatusCommand_WritesYAML(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"001_init.up.sql":  "CREATE TABLE users (id BIGINT)",
		"002_index.up.sql": "CREATE INDEX users_id ON users (id)",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write migration: %v", err)
		}
	}

	db, mock := testutil.NewSQLMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	provider, err := uow.NewRegistry().AddUnitOfWork("cli", db)
	if err != nil {
		t.Fatalf("AddUnitOfWork() error = %v", err)
	}

	closed := false
	var out bytes.Buffer
	cmd := NewCommand(CommandOptions{
		ServiceName: "uowctl",
		Stdout:      &out,
		Open: func(*cobra.Command) (*Target, error) {
			return &Target{
				Provider: provider,
				Dir:      dir,
				Logger:   logger.NewNopLogger(),
				Close:    func() error { closed = true; return nil },
			}, nil
		},
	})
	cmd.SetArgs([]string{"status"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"applied:", "- 1", "pending:", "version: 2", "name: index"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status output missing %q:\n%s", want, got)
		}
	}
	if !closed {
		t.Fatal("expected the target to be closed")
	}
}

func TestDownCommand_RejectsBadSteps(t *testing.T) {
	cmd := NewCommand(CommandOptions{
		ServiceName: "uowctl",
		Open: func(*cobra.Command) (*Target, error) {
			return &Target{Provider: &noopProvider{}, Dir: t.TempDir(), Logger: logger.NewNopLogger()}, nil
		},
	})
	cmd.SetArgs([]string{"down", "many"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid down steps") {
		t.Fatalf("Execute() error = %v", err)
	}
}

type noopProvider struct{}

func (*noopProvider) Scope(context.Context, func(context.Context, *uow.Session) error) error {
	return nil
}

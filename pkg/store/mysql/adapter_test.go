package mysql

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/repository"
	"github.com/nimburion/unitofwork/pkg/store/internal/sqlpool"
)

func newMockAdapter(t *testing.T) (*MySQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	pool, err := sqlpool.Wrap(db, "MySQL", Config{}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	return &MySQLAdapter{Pool: pool}, mock
}

func TestNewMySQLAdapter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "empty URL", url: "", wantErr: "database URL is required"},
		{name: "malformed DSN", url: "user:pass@tcp(localhost:3306", wantErr: "invalid MySQL DSN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMySQLAdapter(Config{URL: tt.url}, logger.NewNopLogger())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("NewMySQLAdapter() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeDSN_ForcesParseTime(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "bare", in: "app:secret@tcp(db:3306)/orders"},
		{name: "explicit false", in: "app:secret@tcp(db:3306)/orders?parseTime=false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeDSN(tt.in)
			if err != nil {
				t.Fatalf("normalizeDSN() error = %v", err)
			}
			if !strings.Contains(got, "parseTime=true") {
				t.Fatalf("normalizeDSN() = %q, want parseTime=true", got)
			}
			if !strings.HasPrefix(got, "app:secret@tcp(db:3306)/orders") {
				t.Fatalf("normalizeDSN() lost the address: %q", got)
			}
		})
	}
}

func TestMySQLAdapter_Dialect(t *testing.T) {
	var a MySQLAdapter
	if a.Dialect() != repository.DialectMySQL {
		t.Fatalf("Dialect() = %v", a.Dialect())
	}
}

func TestClosePreventsSubsequentConnections(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectClose()

	if err := a.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if _, err := a.Conn(context.Background()); err == nil {
		t.Fatal("expected error after close")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

package store

import (
	"strings"
	"testing"

	"github.com/nimburion/unitofwork/pkg/config"
	"github.com/nimburion/unitofwork/pkg/observability/logger"
)

func TestNewDatabase_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr string
	}{
		{name: "empty type", cfg: config.DatabaseConfig{}, wantErr: "database.type is required"},
		{name: "unsupported type", cfg: config.DatabaseConfig{Type: "mongodb", URL: "mongodb://x"}, wantErr: "unsupported database.type"},
		{name: "postgres without URL", cfg: config.DatabaseConfig{Type: "postgres"}, wantErr: "database URL is required"},
		{name: "mysql with bad DSN", cfg: config.DatabaseConfig{Type: " MySQL ", URL: "root@tcp(db"}, wantErr: "invalid MySQL DSN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := NewDatabase(tt.cfg, logger.NewNopLogger())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("NewDatabase() error = %v, want %q", err, tt.wantErr)
			}
			if db != nil {
				t.Fatal("expected nil database on error")
			}
		})
	}
}

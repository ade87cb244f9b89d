package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestTrackedRepository_StagesUntilFlush(t *testing.T) {
	repo, mock := newTestRepository(t)
	changes := NewChangeSet()
	tracked := NewTrackedRepository(repo, changes)

	tracked.Add(&TestEntity{ID: 1, Name: "a", Status: "new"})
	tracked.Modify(&TestEntity{ID: 2, Name: "b", Status: "active", Version: 3})
	tracked.Remove(3)

	if changes.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", changes.Len())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("staging must not touch the database: %v", err)
	}

	got := changes.Pending()
	want := []string{"add test_entities", "modify test_entities", "remove test_entities"}
	for i, c := range got {
		if c.String() != want[i] {
			t.Fatalf("Pending()[%d] = %q, want %q", i, c, want[i])
		}
	}

	mock.ExpectExec("INSERT INTO test_entities").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE test_entities SET .* AND version = \\$6").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM test_entities WHERE id = \\$1").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := changes.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n != 3 || changes.Len() != 0 {
		t.Fatalf("Flush() = %d, remaining %d", n, changes.Len())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestChangeSet_FlushFailureKeepsChanges(t *testing.T) {
	boom := errors.New("boom")
	changes := NewChangeSet()

	var calls int
	changes.Stage(ChangeAdd, "t", func(context.Context) error { calls++; return nil })
	changes.Stage(ChangeAdd, "t", func(context.Context) error { calls++; return boom })
	changes.Stage(ChangeAdd, "t", func(context.Context) error { calls++; return nil })

	n, err := changes.Flush(context.Background())
	if !errors.Is(err, boom) || err != boom {
		t.Fatalf("Flush() error = %v, want the unmodified failure", err)
	}
	if n != 1 || calls != 2 {
		t.Fatalf("applied = %d, calls = %d", n, calls)
	}
	if changes.Len() != 3 {
		t.Fatalf("Len() = %d, want staged changes kept", changes.Len())
	}

	changes.Clear()
	if changes.Len() != 0 {
		t.Fatal("Clear() left staged changes")
	}
	if n, err := changes.Flush(context.Background()); n != 0 || err != nil {
		t.Fatalf("empty Flush() = %d, %v", n, err)
	}
}

package repository_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/unitofwork/pkg/repository"
)

type Invoice struct {
	ID      int64  `db:"id"`
	Number  string `db:"number"`
	Total   int64  `db:"total"`
	Version int64  `db:"version"`
}

func (i *Invoice) GetVersion() int64  { return i.Version }
func (i *Invoice) SetVersion(v int64) { i.Version = v }

// Example stages writes on a change set and flushes them in order, the way a
// unit of work does on SaveChanges.
func Example() {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec("INSERT INTO invoices").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM invoices WHERE id = \\$1").WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changes := repository.NewChangeSet()
	invoices := repository.NewTrackedRepository(
		repository.NewGenericCrudRepository[Invoice, int64](db, "invoices", "id",
			repository.NewReflectionMapper[Invoice, int64]("ID")),
		changes,
	)

	invoices.Add(&Invoice{ID: 1, Number: "INV-001", Total: 1200})
	invoices.Remove(3)
	for _, c := range changes.Pending() {
		fmt.Println(c)
	}

	n, err := changes.Flush(context.Background())
	fmt.Println(n, err, changes.Len())
	// Output:
	// add invoices
	// remove invoices
	// 2 <nil> 0
}

func ExampleGenericCrudRepository_Update() {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	// Another writer bumped the row to version 2 first.
	mock.ExpectExec("UPDATE invoices SET .* WHERE id = \\$5 AND version = \\$6").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM invoices WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)))

	invoices := repository.NewGenericCrudRepository[Invoice, int64](db, "invoices", "id",
		repository.NewReflectionMapper[Invoice, int64]("ID"))

	err := invoices.Update(context.Background(), &Invoice{ID: 9, Number: "INV-009", Total: 50, Version: 1})
	fmt.Println(errors.Is(err, repository.ErrStaleEntity))
	fmt.Println(err)
	// Output:
	// true
	// optimistic lock failed for invoices 9: expected version 1, found 2
}

package uow_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/unitofwork/pkg/repository"
	"github.com/nimburion/unitofwork/pkg/uow"
)

// OrderService routes its business methods through the interceptor so each
// runs inside the session transaction.
type OrderService struct {
	ic *uow.Interceptor
}

func (o *OrderService) PlaceOrder(ctx context.Context, sku string, qty int64) (int64, error) {
	return uow.Invoke(ctx, o.ic, uow.Transactional("PlaceOrder"), func(ctx context.Context) (int64, error) {
		s, _ := uow.SessionFromContext(ctx)
		n, err := uow.Execute(ctx, s, "UPDATE stock SET qty = qty - @qty WHERE sku = @sku AND qty >= @qty",
			uow.Params{"sku": sku, "qty": qty})
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, errors.New("insufficient stock")
		}
		return uow.QuerySingle[int64](ctx, s, "INSERT INTO orders (sku, qty) VALUES (@sku, @qty) RETURNING id",
			uow.Params{"sku": sku, "qty": qty})
	})
}

func Example() {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stock").WithArgs(int64(2), "A-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO orders").WithArgs("A-1", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stock").WithArgs(int64(9), "B-2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	provider, err := uow.NewRegistry().AddUnitOfWork("orders", db, uow.WithDialect(repository.DialectPostgres))
	if err != nil {
		fmt.Println(err)
		return
	}

	_ = provider.Scope(context.Background(), func(ctx context.Context, s *uow.Session) error {
		svc := &OrderService{ic: uow.NewInterceptor(s)}

		id, err := svc.PlaceOrder(ctx, "A-1", 2)
		fmt.Println("order", id, err)

		_, err = svc.PlaceOrder(ctx, "B-2", 9)
		fmt.Println(err)
		return nil
	})

	fmt.Println(mock.ExpectationsWereMet())
	// Output:
	// order 7 <nil>
	// uow: PlaceOrder failed: insufficient stock
	// <nil>
}

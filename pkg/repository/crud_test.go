package repository

import (
	"context"
	"testing"
)

func TestPagination(t *testing.T) {
	tests := []struct {
		name       string
		p          Pagination
		wantOffset int
		wantLimit  int
	}{
		{name: "first page", p: Pagination{Page: 1, PageSize: 10}, wantOffset: 0, wantLimit: 10},
		{name: "third page", p: Pagination{Page: 3, PageSize: 25}, wantOffset: 50, wantLimit: 25},
		{name: "page zero", p: Pagination{Page: 0, PageSize: 10}, wantOffset: 0, wantLimit: 10},
		{name: "paging disabled", p: Pagination{Page: 4}, wantOffset: 0, wantLimit: 0},
		{name: "negative size", p: Pagination{Page: 2, PageSize: -5}, wantOffset: 0, wantLimit: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Offset(); got != tt.wantOffset {
				t.Errorf("Offset() = %d, want %d", got, tt.wantOffset)
			}
			if got := tt.p.Limit(); got != tt.wantLimit {
				t.Errorf("Limit() = %d, want %d", got, tt.wantLimit)
			}
		})
	}
}

func TestSort_Clause(t *testing.T) {
	tests := []struct {
		name    string
		sort    Sort
		want    string
		wantErr bool
	}{
		{name: "unset", sort: Sort{}, want: ""},
		{name: "default order", sort: Sort{Field: "created_at"}, want: "created_at ASC"},
		{name: "descending", sort: Sort{Field: "total", Order: SortDesc}, want: "total DESC"},
		{name: "qualified column", sort: Sort{Field: "orders.id", Order: SortAsc}, want: "orders.id ASC"},
		{name: "injection attempt", sort: Sort{Field: "id; DROP TABLE orders"}, wantErr: true},
		{name: "expression", sort: Sort{Field: "lower(name)"}, wantErr: true},
		{name: "unknown order", sort: Sort{Field: "id", Order: "sideways"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sort.Clause()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Clause() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Clause() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenericCrudRepository_FindAllRejectsInvalidSort(t *testing.T) {
	repo, mock := newTestRepository(t)

	_, err := repo.FindAll(context.Background(), QueryOptions{Sort: Sort{Field: "1=1 --"}})
	if err == nil {
		t.Fatal("FindAll() should reject an invalid sort field")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no statement should reach the driver: %v", err)
	}
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestUpsertPriceInsertsAllRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO ps_products").
		WithArgs("Phone X").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery("INSERT INTO ps_stores").
		WithArgs("Carrefour Market").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO ps_prices").
		WithArgs(int64(11), int64(7), "carrefour", "120000", "CFA", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = sink.UpsertPrice(
		context.Background(),
		"Phone X",
		"Carrefour Market",
		decimal.NewFromInt(120000),
		"CFA",
		"carrefour",
		now,
	)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPriceProductFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO ps_products").
		WithArgs("Phone X").
		WillReturnError(errors.New("connection reset"))

	err = sink.UpsertPrice(
		context.Background(),
		"Phone X",
		"Carrefour Market",
		decimal.NewFromInt(120000),
		"CFA",
		"carrefour",
		time.Now(),
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert product")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPriceValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock)
	require.NoError(t, err)

	err = sink.UpsertPrice(context.Background(), "", "Store", decimal.NewFromInt(1), "CFA", "s", time.Now())
	require.Error(t, err)

	err = sink.UpsertPrice(context.Background(), "Product", "", decimal.NewFromInt(1), "CFA", "s", time.Now())
	require.Error(t, err)
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

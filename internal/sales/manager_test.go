package sales

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivet/m/domain"
	"agrivet/m/internal/stock"
	"agrivet/m/internal/testutil"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (*Manager, *testutil.Levels, func(qty int64) int64, func(id int64) int64) {
	t.Helper()
	db := testutil.NewDB(t)
	obs := &testutil.Levels{}
	m := NewManager(db, stock.New(db, stock.WithObserver(obs)), nil)
	seed := func(qty int64) int64 {
		return testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: qty, SellingPrice: dec("10")})
	}
	qty := func(id int64) int64 { return testutil.Quantity(t, db, id) }
	return m, obs, seed, qty
}

func TestCreateComputesTotalsAndDecrements(t *testing.T) {
	m, obs, seed, qty := setup(t)
	ctx := context.Background()
	m1, m2 := seed(20), seed(5)

	sale, err := m.Create(ctx, CreateRequest{
		Items: []domain.LineItem{
			{MedicineID: m1, Quantity: 3, UnitPrice: dec("12.50"), Discount: dec("0.50")},
			{MedicineID: m2, Quantity: 2, UnitPrice: dec("4")},
		},
		Tax:      dec("1.75"),
		Discount: dec("3"),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sale.SaleNumber, "SALE-"))
	require.Len(t, sale.Items, 2)
	assert.True(t, sale.Items[0].TotalPrice.Equal(dec("36")), sale.Items[0].TotalPrice.String())
	assert.True(t, sale.Items[1].TotalPrice.Equal(dec("8")))
	assert.True(t, sale.TotalAmount.Equal(dec("45.75")), sale.TotalAmount.String())
	assert.True(t, sale.Discount.Equal(dec("3")))

	assert.Equal(t, int64(17), qty(m1))
	assert.Equal(t, int64(3), qty(m2))
	assert.Len(t, obs.Calls(), 1)
}

func TestCreateEmptyCart(t *testing.T) {
	m, _, _, _ := setup(t)
	_, err := m.Create(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCreateInsufficientStockLeavesQuantity(t *testing.T) {
	m, obs, seed, qty := setup(t)
	id := seed(10)

	_, err := m.Create(context.Background(), CreateRequest{
		Items: []domain.LineItem{{MedicineID: id, Quantity: 11, UnitPrice: dec("1")}},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "available: 10, requested: 11")
	assert.Equal(t, int64(10), qty(id))
	assert.Empty(t, obs.Calls())
}

func TestCreateIsAllOrNothing(t *testing.T) {
	m, _, seed, qty := setup(t)
	a, b := seed(10), seed(1)

	_, err := m.Create(context.Background(), CreateRequest{
		Items: []domain.LineItem{
			{MedicineID: a, Quantity: 4, UnitPrice: dec("1")},
			{MedicineID: b, Quantity: 2, UnitPrice: dec("1")},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(10), qty(a), "earlier lines must be rolled back")
	assert.Equal(t, int64(1), qty(b))
}

func TestCreateSameMedicineTwice(t *testing.T) {
	m, _, seed, qty := setup(t)
	id := seed(5)

	_, err := m.Create(context.Background(), CreateRequest{
		Items: []domain.LineItem{
			{MedicineID: id, Quantity: 3, UnitPrice: dec("1")},
			{MedicineID: id, Quantity: 3, UnitPrice: dec("1")},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(5), qty(id))
}

func TestDeleteRestoresQuantities(t *testing.T) {
	m, _, seed, qty := setup(t)
	ctx := context.Background()
	m1, m2 := seed(8), seed(6)

	sale, err := m.Create(ctx, CreateRequest{Items: []domain.LineItem{
		{MedicineID: m1, Quantity: 3, UnitPrice: dec("2")},
		{MedicineID: m2, Quantity: 2, UnitPrice: dec("2")},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), qty(m1))

	require.NoError(t, m.Delete(ctx, sale.ID))
	assert.Equal(t, int64(8), qty(m1))
	assert.Equal(t, int64(6), qty(m2))

	_, err = m.Get(ctx, sale.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, sale.ID), domain.ErrNotFound)
}

func TestUpdateTaxOnlyKeepsStock(t *testing.T) {
	m, obs, seed, qty := setup(t)
	ctx := context.Background()
	id := seed(10)

	sale, err := m.Create(ctx, CreateRequest{
		Items: []domain.LineItem{{MedicineID: id, Quantity: 2, UnitPrice: dec("7.5")}},
		Tax:   dec("1"),
	})
	require.NoError(t, err)
	calls := len(obs.Calls())

	tax := dec("2.40")
	updated, err := m.Update(ctx, sale.ID, UpdateRequest{Tax: &tax})
	require.NoError(t, err)

	assert.True(t, updated.TotalAmount.Equal(dec("17.40")), updated.TotalAmount.String())
	assert.True(t, updated.Tax.Equal(tax))
	assert.Equal(t, int64(8), qty(id))
	assert.Len(t, obs.Calls(), calls, "no stock touched, no notification")
}

func TestUpdateItemsRestoresThenConsumes(t *testing.T) {
	m, _, seed, qty := setup(t)
	ctx := context.Background()
	a, b := seed(5), seed(10)

	sale, err := m.Create(ctx, CreateRequest{
		Items: []domain.LineItem{{MedicineID: a, Quantity: 5, UnitPrice: dec("1")}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty(a))

	// The full original quantity is available again once the old item is restored.
	items := []domain.LineItem{
		{MedicineID: a, Quantity: 5, UnitPrice: dec("2")},
		{MedicineID: b, Quantity: 4, UnitPrice: dec("3")},
	}
	name := "Farm Co-op"
	updated, err := m.Update(ctx, sale.ID, UpdateRequest{Items: &items, CustomerName: &name})
	require.NoError(t, err)

	assert.Equal(t, int64(0), qty(a))
	assert.Equal(t, int64(6), qty(b))
	require.Len(t, updated.Items, 2)
	assert.True(t, updated.TotalAmount.Equal(dec("22")), updated.TotalAmount.String())
	require.NotNil(t, updated.CustomerName)
	assert.Equal(t, name, *updated.CustomerName)
}

func TestUpdateFailureRollsBackRestore(t *testing.T) {
	m, _, seed, qty := setup(t)
	ctx := context.Background()
	a, b := seed(5), seed(1)

	sale, err := m.Create(ctx, CreateRequest{
		Items: []domain.LineItem{{MedicineID: a, Quantity: 2, UnitPrice: dec("1")}},
	})
	require.NoError(t, err)

	items := []domain.LineItem{{MedicineID: b, Quantity: 3, UnitPrice: dec("1")}}
	_, err = m.Update(ctx, sale.ID, UpdateRequest{Items: &items})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, int64(3), qty(a))
	assert.Equal(t, int64(1), qty(b))
	got, err := m.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, a, got.Items[0].MedicineID)
}

func TestUpdateValidation(t *testing.T) {
	m, _, seed, _ := setup(t)
	ctx := context.Background()
	id := seed(5)

	sale, err := m.Create(ctx, CreateRequest{Items: []domain.LineItem{{MedicineID: id, Quantity: 1, UnitPrice: dec("1")}}})
	require.NoError(t, err)

	empty := []domain.LineItem{}
	_, err = m.Update(ctx, sale.ID, UpdateRequest{Items: &empty})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	bad := []domain.LineItem{{MedicineID: id}}
	_, err = m.Update(ctx, sale.ID, UpdateRequest{Items: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.Update(ctx, 4242, UpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	m, _, seed, qty := setup(t)
	ctx := context.Background()
	med := seed(10)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(ctx, CreateRequest{Items: []domain.LineItem{{MedicineID: med, Quantity: 3, UnitPrice: dec("10")}}})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), successes)
	assert.Equal(t, 10-3*successes, qty(med))
	assert.GreaterOrEqual(t, qty(med), int64(0))
}

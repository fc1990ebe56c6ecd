package adjustments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivet/m/domain"
	"agrivet/m/internal/stock"
	"agrivet/m/internal/testutil"
)

func newRecorder(t *testing.T) (*Recorder, *sqlx.DB, *testutil.Clock, *testutil.Levels) {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	obs := &testutil.Levels{}
	return NewRecorder(db, stock.New(db, stock.WithClock(clock.Now), stock.WithObserver(obs)), nil), db, clock, obs
}

func countAdjustments(t *testing.T, db *sqlx.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM stock_adjustments`))
	return n
}

func TestCreateAppendsOneAuditRow(t *testing.T) {
	r, db, _, obs := newRecorder(t)
	ctx := context.Background()
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Name: "Oxytetracycline", Quantity: 100})
	lot := testutil.SeedLot(t, db, med, "OXY-1", 10, domain.LotActive)
	user := int64(42)
	notes := "crushed carton"

	adj, err := r.Create(ctx, CreateRequest{
		InventoryID:    lot,
		AdjustmentType: domain.AdjustmentDamage,
		QuantityChange: -4,
		Reason:         "damaged in transit",
		AdjustedBy:     &user,
		Notes:          &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-4), adj.QuantityChange)
	assert.Equal(t, 1, countAdjustments(t, db))

	var stored domain.StockAdjustment
	require.NoError(t, db.Get(&stored, `SELECT `+adjustmentColumns+` FROM stock_adjustments WHERE id = $1`, adj.ID))
	assert.Equal(t, int64(-4), stored.QuantityChange)
	require.NotNil(t, stored.AdjustedBy)
	assert.Equal(t, user, *stored.AdjustedBy)

	lots, err := r.ListLots(ctx, med)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, int64(6), lots[0].Quantity)
	assert.Equal(t, int64(100), testutil.Quantity(t, db, med), "medicine ledger is separate from lots")

	calls := obs.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0][0].LotID)
	assert.Equal(t, "Oxytetracycline", calls[0][0].MedicineName)
}

func TestCreateFailuresLeaveNoAuditRow(t *testing.T) {
	r, db, _, _ := newRecorder(t)
	ctx := context.Background()
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{})
	lot := testutil.SeedLot(t, db, med, "B-9", 2, domain.LotActive)

	_, err := r.Create(ctx, CreateRequest{InventoryID: lot, AdjustmentType: domain.AdjustmentTheft, QuantityChange: -3, Reason: "missing"})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = r.Create(ctx, CreateRequest{InventoryID: 999, AdjustmentType: domain.AdjustmentTheft, QuantityChange: -1, Reason: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.Create(ctx, CreateRequest{InventoryID: lot, AdjustmentType: "LOST", QuantityChange: -1, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Create(ctx, CreateRequest{InventoryID: lot, AdjustmentType: domain.AdjustmentTheft, QuantityChange: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, 0, countAdjustments(t, db))
}

func TestCreateDrivesLotStatus(t *testing.T) {
	r, db, _, _ := newRecorder(t)
	ctx := context.Background()
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{})
	lot := testutil.SeedLot(t, db, med, "B-1", 2, domain.LotActive)

	_, err := r.Create(ctx, CreateRequest{InventoryID: lot, AdjustmentType: domain.AdjustmentExpired, QuantityChange: -2, Reason: "expired"})
	require.NoError(t, err)
	lots, err := r.ListLots(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.LotSoldOut, lots[0].Status)

	_, err = r.Create(ctx, CreateRequest{InventoryID: lot, AdjustmentType: domain.AdjustmentReturn, QuantityChange: 1, Reason: "customer return"})
	require.NoError(t, err)
	lots, err = r.ListLots(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.LotActive, lots[0].Status)
}

func TestListNewestFirst(t *testing.T) {
	r, db, clock, _ := newRecorder(t)
	ctx := context.Background()
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{})
	lot := testutil.SeedLot(t, db, med, "B-2", 50, domain.LotActive)

	for i, reason := range []string{"first", "second", "third"} {
		clock.Set(time.Date(2025, 5, 1+i, 8, 0, 0, 0, time.UTC))
		_, err := r.Create(ctx, CreateRequest{InventoryID: lot, AdjustmentType: domain.AdjustmentCorrection, QuantityChange: 1, Reason: reason})
		require.NoError(t, err)
	}

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Reason)
	assert.Equal(t, "first", list[2].Reason)
}

func TestCreateLotAndChangeQuantity(t *testing.T) {
	r, db, _, obs := newRecorder(t)
	ctx := context.Background()
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Name: "Albendazole"})

	empty, err := r.CreateLot(ctx, CreateLotRequest{MedicineID: med, BatchNumber: "ALB-0", Quantity: 0})
	require.NoError(t, err)
	assert.Equal(t, domain.LotSoldOut, empty.Status)

	lot, err := r.CreateLot(ctx, CreateLotRequest{MedicineID: med, BatchNumber: "ALB-1", Quantity: 5, UnitPrice: decimal.NewFromInt(3)})
	require.NoError(t, err)
	assert.Equal(t, domain.LotActive, lot.Status)
	assert.Equal(t, "Albendazole", lot.MedicineName)

	_, err = r.CreateLot(ctx, CreateLotRequest{MedicineID: med, BatchNumber: "ALB-1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = r.CreateLot(ctx, CreateLotRequest{MedicineID: 999, BatchNumber: "X", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	changed, err := r.ChangeLotQuantity(ctx, lot.ID, -5)
	require.NoError(t, err)
	assert.Equal(t, domain.LotSoldOut, changed.Status)

	_, err = r.ChangeLotQuantity(ctx, lot.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 0, countAdjustments(t, db))
	assert.Len(t, obs.Calls(), 3)
}

func TestConcurrentAdjustmentsNeverDrainLotBelowZero(t *testing.T) {
	r, db, _, _ := newRecorder(t)
	ctx := context.Background()
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 100})
	lot := testutil.SeedLot(t, db, med, "CONC-1", 10, domain.LotActive)

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
			_, err := r.Create(ctx, CreateRequest{InventoryID: lot, AdjustmentType: domain.AdjustmentDamage, QuantityChange: -3, Reason: "broken vial"})
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

	var remaining int64
	require.NoError(t, db.Get(&remaining, `SELECT quantity FROM inventory WHERE id = $1`, lot))
	assert.Equal(t, int64(3), successes)
	assert.Equal(t, 10-3*successes, remaining)
	assert.Equal(t, int(successes), countAdjustments(t, db))
}

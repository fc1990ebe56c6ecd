package stock_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivet/m/domain"
	"agrivet/m/internal/stock"
	"agrivet/m/internal/testutil"
)

func TestApplyDeltaNeverNegative(t *testing.T) {
	db := testutil.NewDB(t)
	id := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 10})
	m := stock.New(db)
	ctx := context.Background()

	deltas := []int64{-3, -4, +2, -6, -1, +5, -11, -5}
	want := int64(10)
	for _, d := range deltas {
		err := m.Run(ctx, func(s *stock.Session) error {
			_, err := s.ApplyDelta(ctx, id, d)
			return err
		})
		if want+d < 0 {
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		} else {
			require.NoError(t, err)
			want += d
		}
		got := testutil.Quantity(t, db, id)
		assert.Equal(t, want, got)
		assert.GreaterOrEqual(t, got, int64(0))
	}
}

func TestApplyDeltaInsufficientMessage(t *testing.T) {
	db := testutil.NewDB(t)
	id := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 4})
	m := stock.New(db)
	ctx := context.Background()

	err := m.Run(ctx, func(s *stock.Session) error {
		_, err := s.ApplyDelta(ctx, id, -10)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "available: 4, requested: 10")
}

func TestRunRollsBackEveryDeltaOnFailure(t *testing.T) {
	db := testutil.NewDB(t)
	a := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Name: "A", Quantity: 5})
	b := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Name: "B", Quantity: 1})
	obs := &testutil.Levels{}
	m := stock.New(db, stock.WithObserver(obs))
	ctx := context.Background()

	err := m.Run(ctx, func(s *stock.Session) error {
		if err := s.LockMedicines(ctx, b, a); err != nil {
			return err
		}
		if _, err := s.ApplyDelta(ctx, a, -5); err != nil {
			return err
		}
		_, err := s.ApplyDelta(ctx, b, -2)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(5), testutil.Quantity(t, db, a))
	assert.Equal(t, int64(1), testutil.Quantity(t, db, b))
	assert.Empty(t, obs.Calls(), "observers must not fire on rollback")
}

func TestRunNotifiesAfterCommit(t *testing.T) {
	db := testutil.NewDB(t)
	id := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Name: "Ivermectin", Quantity: 12})
	obs := &testutil.Levels{}
	m := stock.New(db, stock.WithObserver(obs))
	ctx := context.Background()

	require.NoError(t, m.Run(ctx, func(s *stock.Session) error {
		_, err := s.ApplyDelta(ctx, id, -3)
		return err
	}))

	calls := obs.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1)
	assert.Equal(t, id, calls[0][0].MedicineID)
	assert.Equal(t, "Ivermectin", calls[0][0].MedicineName)
	assert.Equal(t, int64(9), calls[0][0].Quantity)
}

type panicObserver struct{}

func (panicObserver) StockChanged(context.Context, []domain.StockLevel) { panic("boom") }

func TestObserverPanicDoesNotFailMutation(t *testing.T) {
	db := testutil.NewDB(t)
	id := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 2})
	m := stock.New(db, stock.WithObserver(panicObserver{}))
	ctx := context.Background()

	err := m.Run(ctx, func(s *stock.Session) error {
		_, err := s.ApplyDelta(ctx, id, 3)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), testutil.Quantity(t, db, id))
}

func TestApplyLotDeltaStatusRule(t *testing.T) {
	db := testutil.NewDB(t)
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 0})
	lot := testutil.SeedLot(t, db, med, "B-001", 3, domain.LotActive)
	m := stock.New(db)
	ctx := context.Background()

	apply := func(delta int64) domain.InventoryLot {
		var out domain.InventoryLot
		require.NoError(t, m.Run(ctx, func(s *stock.Session) error {
			var err error
			out, err = s.ApplyLotDelta(ctx, lot, delta)
			return err
		}))
		return out
	}

	got := apply(-3)
	assert.Equal(t, int64(0), got.Quantity)
	assert.Equal(t, domain.LotSoldOut, got.Status)

	got = apply(4)
	assert.Equal(t, int64(4), got.Quantity)
	assert.Equal(t, domain.LotActive, got.Status)

	err := m.Run(ctx, func(s *stock.Session) error {
		_, err := s.ApplyLotDelta(ctx, lot, -5)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestApplyDeltaUnknownMedicine(t *testing.T) {
	db := testutil.NewDB(t)
	m := stock.New(db)
	ctx := context.Background()

	err := m.Run(ctx, func(s *stock.Session) error {
		_, err := s.ApplyDelta(ctx, 999, 1)
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

type countingRecorder struct {
	mutations, rejections int
}

func (c *countingRecorder) StockMutation(string, int64) { c.mutations++ }
func (c *countingRecorder) StockRejected(string)        { c.rejections++ }

func TestRecorderCountsMutationsAndRejections(t *testing.T) {
	db := testutil.NewDB(t)
	id := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 1})
	rec := &countingRecorder{}
	m := stock.New(db, stock.WithRecorder(rec))
	ctx := context.Background()

	_ = m.Run(ctx, func(s *stock.Session) error { _, err := s.ApplyDelta(ctx, id, -1); return err })
	_ = m.Run(ctx, func(s *stock.Session) error { _, err := s.ApplyDelta(ctx, id, -1); return err })

	assert.Equal(t, 1, rec.mutations)
	assert.Equal(t, 1, rec.rejections)
}

func TestDeltaOverflowIsRejected(t *testing.T) {
	db := testutil.NewDB(t)
	med := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 5})
	lot := testutil.SeedLot(t, db, med, "B-OVF", 5, domain.LotActive)
	m := stock.New(db)
	ctx := context.Background()

	err := m.Run(ctx, func(s *stock.Session) error {
		_, err := s.ApplyDelta(ctx, med, math.MaxInt64)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrInsufficientStock)

	err = m.Run(ctx, func(s *stock.Session) error {
		_, err := s.ApplyLotDelta(ctx, lot, math.MaxInt64)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, int64(5), testutil.Quantity(t, db, med))
}

func TestConcurrentDeltasNeverOversell(t *testing.T) {
	db := testutil.NewDB(t)
	id := testutil.SeedMedicine(t, db, testutil.MedicineSeed{Quantity: 10})
	m := stock.New(db)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Run(ctx, func(s *stock.Session) error {
				_, err := s.ApplyDelta(ctx, id, -3)
				return err
			})
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
	assert.Equal(t, 10-3*successes, testutil.Quantity(t, db, id))
}

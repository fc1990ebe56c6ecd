// Package testutil provides isolated in-memory databases and seed helpers
// for package tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"agrivet/m/domain"
	"agrivet/m/internal/database"
	"agrivet/m/internal/migrations"
)

// NewDB opens a fresh in-memory SQLite database with the schema applied.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	return db
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

type MedicineSeed struct {
	Name         string
	Quantity     int64
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	ExpiryDate   *time.Time
}

// SeedMedicine inserts a medicine row and returns its id.
func SeedMedicine(t *testing.T, db *sqlx.DB, seed MedicineSeed) int64 {
	t.Helper()
	if seed.Name == "" {
		seed.Name = "Amoxicillin 250mg"
	}
	var id int64
	err := db.QueryRowx(`INSERT INTO medicines (name, quantity, cost_price, selling_price, expiry_date, updated_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		seed.Name, seed.Quantity, seed.CostPrice, seed.SellingPrice, seed.ExpiryDate, time.Now().UTC()).Scan(&id)
	require.NoError(t, err)
	return id
}

// Medicine loads a medicine row.
func Medicine(t *testing.T, db *sqlx.DB, id int64) domain.Medicine {
	t.Helper()
	var med domain.Medicine
	require.NoError(t, db.Get(&med, `SELECT id, name, quantity, cost_price, selling_price, expiry_date, manufacturing_date, updated_at FROM medicines WHERE id = $1`, id))
	return med
}

// Quantity returns a medicine's on-hand quantity.
func Quantity(t *testing.T, db *sqlx.DB, id int64) int64 {
	t.Helper()
	var qty int64
	require.NoError(t, db.Get(&qty, `SELECT quantity FROM medicines WHERE id = $1`, id))
	return qty
}

// SeedLot inserts an inventory lot and returns its id.
func SeedLot(t *testing.T, db *sqlx.DB, medicineID int64, batch string, quantity int64, status domain.LotStatus) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowx(`INSERT INTO inventory (medicine_id, batch_number, quantity, unit_price, selling_price, purchase_date, status, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		medicineID, batch, quantity, decimal.NewFromInt(5), decimal.NewFromInt(8), time.Now().UTC(), status, time.Now().UTC()).Scan(&id)
	require.NoError(t, err)
	return id
}

// Levels records every StockChanged call.
type Levels struct {
	mu    sync.Mutex
	calls [][]domain.StockLevel
}

func (l *Levels) StockChanged(_ context.Context, levels []domain.StockLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, levels)
}

func (l *Levels) Calls() [][]domain.StockLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]domain.StockLevel(nil), l.calls...)
}

// Package stock is the single place where medicine and lot quantities change.
//
// Every caller runs its work through Mutator.Run, which opens one database
// transaction, hands out a Session that locks rows in ascending id order and
// applies signed deltas, and notifies observers only after the commit.
package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agrivet/m/domain"
	"agrivet/m/internal/database"
	"agrivet/m/internal/logging"
)

// Observer receives post-commit stock levels. Implementations must not block.
type Observer interface {
	StockChanged(ctx context.Context, levels []domain.StockLevel)
}

// Recorder counts mutations. The metrics package satisfies it.
type Recorder interface {
	StockMutation(ledger string, delta int64)
	StockRejected(ledger string)
}

// Mutator serialises stock changes through one transaction per Run.
type Mutator struct {
	db        *sqlx.DB
	forUpdate string
	observers []Observer
	recorder  Recorder
	log       *zap.Logger
	now       func() time.Time
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithObserver adds an observer notified after every committed Run.
func WithObserver(o Observer) Option { return func(m *Mutator) { m.observers = append(m.observers, o) } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(m *Mutator) { m.recorder = r } }

func WithLogger(l *zap.Logger) Option { return func(m *Mutator) { m.log = logging.OrNop(l) } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(m *Mutator) { m.now = now } }

// New constructs a Mutator on db. Row locks follow db's driver.
func New(db *sqlx.DB, opts ...Option) *Mutator {
	m := &Mutator{
		db:        db,
		forUpdate: database.ForUpdate(db),
		log:       zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mutator) Now() time.Time { return m.now() }

// Run executes fn in one transaction. Any error rolls back every mutation
// fn made; observers fire only after a successful commit.
func (m *Mutator) Run(ctx context.Context, fn func(s *Session) error) error {
	var s *Session
	err := database.WithTx(ctx, m.db, func(tx *sqlx.Tx) error {
		s = &Session{
			Tx:        tx,
			m:         m,
			medicines: make(map[int64]domain.Medicine),
			lots:      make(map[int64]domain.InventoryLot),
		}
		return fn(s)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) && m.recorder != nil {
			m.recorder.StockRejected(s.ledger())
		}
		return err
	}
	if m.recorder != nil {
		for _, d := range s.deltas {
			m.recorder.StockMutation(d.ledger, d.delta)
		}
	}
	m.notify(ctx, s.levels())
	return nil
}

func (m *Mutator) notify(ctx context.Context, levels []domain.StockLevel) {
	if len(levels) == 0 {
		return
	}
	for _, o := range m.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("stock observer panicked", zap.Any("panic", r))
				}
			}()
			o.StockChanged(ctx, levels)
		}()
	}
}

// Session is one transaction's view of the stock ledgers.
type Session struct {
	*sqlx.Tx
	m *Mutator

	medicines  map[int64]domain.Medicine
	lots       map[int64]domain.InventoryLot
	changedMed []int64
	changedLot []int64
	lastLedger string
	deltas     []ledgerDelta
}

type ledgerDelta struct {
	ledger string
	delta  int64
}

func (s *Session) Now() time.Time { return s.m.now() }

// ForUpdate is the row-lock suffix for SELECTs inside this session.
func (s *Session) ForUpdate() string { return s.m.forUpdate }

const medicineColumns = `id, name, quantity, cost_price, selling_price, expiry_date, manufacturing_date, updated_at`

// LockMedicines locks the given medicine rows in ascending id order and
// caches them. Unknown ids fail with NotFound.
func (s *Session) LockMedicines(ctx context.Context, ids ...int64) error {
	for _, id := range sortedUnique(ids) {
		if _, ok := s.medicines[id]; ok {
			continue
		}
		var med domain.Medicine
		err := s.GetContext(ctx, &med, `SELECT `+medicineColumns+` FROM medicines WHERE id = $1`+s.m.forUpdate, id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound("medicine", id)
		}
		if err != nil {
			return fmt.Errorf("lock medicine %d: %w", id, err)
		}
		s.medicines[id] = med
	}
	return nil
}

// Medicine returns the locked row for id, locking it if needed.
func (s *Session) Medicine(ctx context.Context, id int64) (domain.Medicine, error) {
	if err := s.LockMedicines(ctx, id); err != nil {
		return domain.Medicine{}, err
	}
	return s.medicines[id], nil
}

// ApplyDelta adds delta to a medicine's quantity. A result below zero fails
// with InsufficientStock and leaves the row untouched.
func (s *Session) ApplyDelta(ctx context.Context, medicineID, delta int64) (domain.Medicine, error) {
	s.lastLedger = "medicine"
	med, err := s.Medicine(ctx, medicineID)
	if err != nil {
		return domain.Medicine{}, err
	}
	next, ok := domain.AddQuantity(med.Quantity, delta)
	if !ok {
		return domain.Medicine{}, domain.Errorf(domain.ErrValidation, "quantity change %d for medicine %d is out of range", delta, medicineID)
	}
	if next < 0 {
		return domain.Medicine{}, domain.InsufficientStock(medicineID, med.Quantity, -delta)
	}

	med.Quantity = next
	med.UpdatedAt = s.Now()
	if _, err := s.ExecContext(ctx, `UPDATE medicines SET quantity = $1, updated_at = $2 WHERE id = $3`,
		med.Quantity, med.UpdatedAt, med.ID); err != nil {
		return domain.Medicine{}, fmt.Errorf("update medicine %d quantity: %w", med.ID, err)
	}
	s.touchMedicine(med)
	s.deltas = append(s.deltas, ledgerDelta{"medicine", delta})
	s.m.log.Debug("medicine stock changed",
		zap.Int64("medicine_id", med.ID), zap.Int64("delta", delta), zap.Int64("quantity", med.Quantity))
	return med, nil
}

// RestockDetails overwrites the receiving-owned fields of a locked medicine.
func (s *Session) RestockDetails(ctx context.Context, medicineID int64, sellingPrice decimal.Decimal, expiry, manufactured *time.Time) (domain.Medicine, error) {
	med, err := s.Medicine(ctx, medicineID)
	if err != nil {
		return domain.Medicine{}, err
	}
	med.SellingPrice = sellingPrice
	med.ExpiryDate = expiry
	med.ManufacturingDate = manufactured
	med.UpdatedAt = s.Now()
	if _, err := s.ExecContext(ctx, `UPDATE medicines SET selling_price = $1, expiry_date = $2, manufacturing_date = $3, updated_at = $4 WHERE id = $5`,
		med.SellingPrice, med.ExpiryDate, med.ManufacturingDate, med.UpdatedAt, med.ID); err != nil {
		return domain.Medicine{}, fmt.Errorf("update medicine %d details: %w", med.ID, err)
	}
	s.touchMedicine(med)
	return med, nil
}

const lotColumns = `i.id, i.medicine_id, m.name AS medicine_name, i.batch_number, i.quantity, i.unit_price, i.selling_price, i.expiry_date, i.purchase_date, i.status, i.updated_at`

// Lot locks and returns an inventory lot.
func (s *Session) Lot(ctx context.Context, lotID int64) (domain.InventoryLot, error) {
	if lot, ok := s.lots[lotID]; ok {
		return lot, nil
	}
	lockClause := s.m.forUpdate
	if lockClause != "" {
		lockClause = " FOR UPDATE OF i"
	}
	var lot domain.InventoryLot
	err := s.GetContext(ctx, &lot, `SELECT `+lotColumns+`
                FROM inventory i
                JOIN medicines m ON m.id = i.medicine_id
                WHERE i.id = $1`+lockClause, lotID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryLot{}, domain.NotFound("inventory lot", lotID)
	}
	if err != nil {
		return domain.InventoryLot{}, fmt.Errorf("lock inventory lot %d: %w", lotID, err)
	}
	s.lots[lotID] = lot
	return lot, nil
}

// ApplyLotDelta adds delta to a lot's quantity and applies the lot status rule.
func (s *Session) ApplyLotDelta(ctx context.Context, lotID, delta int64) (domain.InventoryLot, error) {
	s.lastLedger = "lot"
	lot, err := s.Lot(ctx, lotID)
	if err != nil {
		return domain.InventoryLot{}, err
	}
	next, ok := domain.AddQuantity(lot.Quantity, delta)
	if !ok {
		return domain.InventoryLot{}, domain.Errorf(domain.ErrValidation, "quantity change %d for inventory lot %d is out of range", delta, lotID)
	}
	if next < 0 {
		return domain.InventoryLot{}, domain.Errorf(domain.ErrInsufficientStock,
			"insufficient stock for inventory lot %d, available: %d, requested: %d", lotID, lot.Quantity, -delta)
	}

	lot.Quantity = next
	lot.Status = domain.NextLotStatus(lot.Status, next)
	lot.UpdatedAt = s.Now()
	if _, err := s.ExecContext(ctx, `UPDATE inventory SET quantity = $1, status = $2, updated_at = $3 WHERE id = $4`,
		lot.Quantity, lot.Status, lot.UpdatedAt, lot.ID); err != nil {
		return domain.InventoryLot{}, fmt.Errorf("update inventory lot %d: %w", lot.ID, err)
	}
	s.lots[lot.ID] = lot
	s.changedLot = appendOnce(s.changedLot, lot.ID)
	s.deltas = append(s.deltas, ledgerDelta{"lot", delta})
	s.m.log.Debug("lot stock changed",
		zap.Int64("lot_id", lot.ID), zap.Int64("delta", delta), zap.Int64("quantity", lot.Quantity), zap.String("status", string(lot.Status)))
	return lot, nil
}

// TrackLot registers a lot created inside the session so observers see it.
func (s *Session) TrackLot(lot domain.InventoryLot) {
	s.lots[lot.ID] = lot
	s.changedLot = appendOnce(s.changedLot, lot.ID)
}

func (s *Session) touchMedicine(med domain.Medicine) {
	s.medicines[med.ID] = med
	s.changedMed = appendOnce(s.changedMed, med.ID)
}

func (s *Session) levels() []domain.StockLevel {
	levels := make([]domain.StockLevel, 0, len(s.changedMed)+len(s.changedLot))
	for _, id := range s.changedMed {
		levels = append(levels, s.medicines[id].Level())
	}
	for _, id := range s.changedLot {
		levels = append(levels, s.lots[id].Level())
	}
	return levels
}

func (s *Session) ledger() string {
	if s == nil || s.lastLedger == "" {
		return "medicine"
	}
	return s.lastLedger
}

func sortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func appendOnce(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

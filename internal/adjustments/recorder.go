// Package adjustments owns the lot ledger: inventory lots, direct quantity
// changes and the append-only stock adjustment audit trail.
package adjustments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agrivet/m/domain"
	"agrivet/m/internal/logging"
	"agrivet/m/internal/stock"
)

// Recorder writes lot changes and their audit trail.
type Recorder struct {
	db    *sqlx.DB
	stock *stock.Mutator
	log   *zap.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(db *sqlx.DB, mutator *stock.Mutator, log *zap.Logger) *Recorder {
	return &Recorder{db: db, stock: mutator, log: logging.OrNop(log)}
}

type CreateRequest struct {
	InventoryID    int64                 `json:"inventory_id"`
	AdjustmentType domain.AdjustmentType `json:"adjustment_type"`
	QuantityChange int64                 `json:"quantity_change"`
	Reason         string                `json:"reason"`
	AdjustedBy     *int64                `json:"-"`
	Notes          *string               `json:"notes"`
}

const adjustmentColumns = `id, inventory_id, adjustment_type, quantity_change, reason, adjusted_by, adjustment_date, notes`

// Create applies the delta to the lot and appends one audit row, atomically.
func (r *Recorder) Create(ctx context.Context, req CreateRequest) (*domain.StockAdjustment, error) {
	if !req.AdjustmentType.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "unknown adjustment type %q", req.AdjustmentType)
	}
	if req.QuantityChange == 0 {
		return nil, domain.Errorf(domain.ErrValidation, "quantity_change must not be zero")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domain.Errorf(domain.ErrValidation, "reason is required")
	}

	var adj domain.StockAdjustment
	err := r.stock.Run(ctx, func(s *stock.Session) error {
		if _, err := s.ApplyLotDelta(ctx, req.InventoryID, req.QuantityChange); err != nil {
			return err
		}
		adj = domain.StockAdjustment{
			InventoryID:    req.InventoryID,
			AdjustmentType: req.AdjustmentType,
			QuantityChange: req.QuantityChange,
			Reason:         req.Reason,
			AdjustedBy:     req.AdjustedBy,
			AdjustmentDate: s.Now(),
			Notes:          req.Notes,
		}
		err := s.QueryRowxContext(ctx, `INSERT INTO stock_adjustments (inventory_id, adjustment_type, quantity_change, reason, adjusted_by, adjustment_date, notes) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			adj.InventoryID, adj.AdjustmentType, adj.QuantityChange, adj.Reason, adj.AdjustedBy, adj.AdjustmentDate, adj.Notes).Scan(&adj.ID)
		if err != nil {
			return fmt.Errorf("insert stock adjustment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("stock adjusted",
		zap.Int64("inventory_id", adj.InventoryID),
		zap.String("type", string(adj.AdjustmentType)),
		zap.Int64("quantity_change", adj.QuantityChange))
	return &adj, nil
}

// List returns every adjustment, newest first.
func (r *Recorder) List(ctx context.Context) ([]domain.StockAdjustment, error) {
	adjustments := []domain.StockAdjustment{}
	if err := r.db.SelectContext(ctx, &adjustments, `SELECT `+adjustmentColumns+` FROM stock_adjustments ORDER BY adjustment_date DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list stock adjustments: %w", err)
	}
	return adjustments, nil
}

type CreateLotRequest struct {
	MedicineID   int64           `json:"medicine_id"`
	BatchNumber  string          `json:"batch_number"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	PurchaseDate *time.Time      `json:"purchase_date"`
}

// CreateLot stores a new lot. Its status follows from the quantity.
func (r *Recorder) CreateLot(ctx context.Context, req CreateLotRequest) (*domain.InventoryLot, error) {
	req.BatchNumber = strings.TrimSpace(req.BatchNumber)
	if req.MedicineID <= 0 || req.BatchNumber == "" {
		return nil, domain.Errorf(domain.ErrValidation, "medicine_id and batch_number are required")
	}
	if req.Quantity < 0 || req.UnitPrice.IsNegative() || req.SellingPrice.IsNegative() {
		return nil, domain.Errorf(domain.ErrValidation, "quantity and prices must not be negative")
	}

	var lot domain.InventoryLot
	err := r.stock.Run(ctx, func(s *stock.Session) error {
		med, err := s.Medicine(ctx, req.MedicineID)
		if err != nil {
			return err
		}
		var exists bool
		if err := s.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM inventory WHERE batch_number = $1)`, req.BatchNumber); err != nil {
			return fmt.Errorf("check batch number: %w", err)
		}
		if exists {
			return domain.Errorf(domain.ErrValidation, "batch number %q already exists", req.BatchNumber)
		}

		now := s.Now()
		purchased := now
		if req.PurchaseDate != nil {
			purchased = req.PurchaseDate.UTC()
		}
		lot = domain.InventoryLot{
			MedicineID:   med.ID,
			MedicineName: med.Name,
			BatchNumber:  req.BatchNumber,
			Quantity:     req.Quantity,
			UnitPrice:    req.UnitPrice,
			SellingPrice: req.SellingPrice,
			ExpiryDate:   req.ExpiryDate,
			PurchaseDate: purchased,
			Status:       domain.NextLotStatus(domain.LotActive, req.Quantity),
			UpdatedAt:    now,
		}
		err = s.QueryRowxContext(ctx, `INSERT INTO inventory (medicine_id, batch_number, quantity, unit_price, selling_price, expiry_date, purchase_date, status, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			lot.MedicineID, lot.BatchNumber, lot.Quantity, lot.UnitPrice, lot.SellingPrice, lot.ExpiryDate, lot.PurchaseDate, lot.Status, lot.UpdatedAt).Scan(&lot.ID)
		if err != nil {
			return fmt.Errorf("insert inventory lot: %w", err)
		}
		s.TrackLot(lot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("inventory lot created", zap.Int64("lot_id", lot.ID), zap.String("batch_number", lot.BatchNumber))
	return &lot, nil
}

// ListLots returns lots, optionally for one medicine.
func (r *Recorder) ListLots(ctx context.Context, medicineID int64) ([]domain.InventoryLot, error) {
	query := `SELECT i.id, i.medicine_id, m.name AS medicine_name, i.batch_number, i.quantity, i.unit_price, i.selling_price, i.expiry_date, i.purchase_date, i.status, i.updated_at
                FROM inventory i
                JOIN medicines m ON m.id = i.medicine_id`
	var args []any
	if medicineID > 0 {
		query += " WHERE i.medicine_id = $1"
		args = append(args, medicineID)
	}
	query += " ORDER BY i.expiry_date ASC, i.id ASC"

	lots := []domain.InventoryLot{}
	if err := r.db.SelectContext(ctx, &lots, query, args...); err != nil {
		return nil, fmt.Errorf("list inventory lots: %w", err)
	}
	return lots, nil
}

// ChangeLotQuantity applies a signed delta to a lot without an audit row.
func (r *Recorder) ChangeLotQuantity(ctx context.Context, lotID, delta int64) (*domain.InventoryLot, error) {
	if delta == 0 {
		return nil, domain.Errorf(domain.ErrValidation, "quantity change must not be zero")
	}
	var lot domain.InventoryLot
	err := r.stock.Run(ctx, func(s *stock.Session) error {
		var err error
		lot, err = s.ApplyLotDelta(ctx, lotID, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// Package sales records point-of-sale transactions and keeps medicine stock
// in step with them: items are consumed on create and restored on update or
// delete, all inside one stock session.
package sales

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agrivet/m/domain"
	"agrivet/m/internal/logging"
	"agrivet/m/internal/stock"
)

// Manager creates, edits and voids sales.
type Manager struct {
	db    *sqlx.DB
	stock *stock.Mutator
	log   *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(db *sqlx.DB, mutator *stock.Mutator, log *zap.Logger) *Manager {
	return &Manager{db: db, stock: mutator, log: logging.OrNop(log)}
}

type CreateRequest struct {
	Items         []domain.LineItem `json:"items"`
	CustomerName  *string           `json:"customer_name"`
	CustomerPhone *string           `json:"customer_phone"`
	Discount      decimal.Decimal   `json:"discount"`
	Tax           decimal.Decimal   `json:"tax"`
	SaleDate      *time.Time        `json:"sale_date"`
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Items         *[]domain.LineItem `json:"items"`
	CustomerName  *string            `json:"customer_name"`
	CustomerPhone *string            `json:"customer_phone"`
	Discount      *decimal.Decimal   `json:"discount"`
	Tax           *decimal.Decimal   `json:"tax"`
}

const saleColumns = `id, sale_number, sale_date, customer_name, customer_phone, total_amount, discount, tax`

const itemColumns = `id, sale_id, medicine_id, quantity, unit_price, discount, total_price`

// Create decrements stock for every line and persists the sale with its
// computed totals. Any failing line aborts the whole sale.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Sale, error) {
	if len(req.Items) == 0 {
		return nil, domain.Errorf(domain.ErrEmptyCart, "sale must contain at least one item")
	}
	if err := validateLines(req.Items); err != nil {
		return nil, err
	}
	if err := validateAmounts(req.Discount, req.Tax); err != nil {
		return nil, err
	}

	var saleID int64
	err := m.stock.Run(ctx, func(s *stock.Session) error {
		if err := s.LockMedicines(ctx, medicineIDs(req.Items)...); err != nil {
			return err
		}
		if err := consume(ctx, s, req.Items); err != nil {
			return err
		}

		items := buildItems(req.Items)
		saleDate := s.Now()
		if req.SaleDate != nil {
			saleDate = req.SaleDate.UTC()
		}
		err := s.QueryRowxContext(ctx, `INSERT INTO sales (sale_number, sale_date, customer_name, customer_phone, total_amount, discount, tax) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			newSaleNumber(saleDate), saleDate, req.CustomerName, req.CustomerPhone, domain.SaleTotal(items, req.Tax), req.Discount, req.Tax).Scan(&saleID)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		return insertItems(ctx, s.Tx, saleID, items)
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("sale created", zap.Int64("sale_id", saleID), zap.Int("items", len(req.Items)))
	return m.Get(ctx, saleID)
}

// Get loads a sale with its items.
func (m *Manager) Get(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := m.db.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("sale", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load sale %d: %w", id, err)
	}
	if err := m.db.SelectContext(ctx, &sale.Items, `SELECT `+itemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id`, id); err != nil {
		return nil, fmt.Errorf("load sale %d items: %w", id, err)
	}
	return &sale, nil
}

// Update applies a partial update. When items are replaced, every existing
// item is restored to stock before the new ones are consumed.
func (m *Manager) Update(ctx context.Context, id int64, patch UpdateRequest) (*domain.Sale, error) {
	if patch.Items != nil {
		if len(*patch.Items) == 0 {
			return nil, domain.Errorf(domain.ErrEmptyCart, "sale must contain at least one item")
		}
		if err := validateLines(*patch.Items); err != nil {
			return nil, err
		}
	}

	err := m.stock.Run(ctx, func(s *stock.Session) error {
		sale, existing, err := lockSale(ctx, s, id)
		if err != nil {
			return err
		}

		items := existing
		if patch.Items != nil {
			ids := medicineIDs(*patch.Items)
			for _, item := range existing {
				ids = append(ids, item.MedicineID)
			}
			if err := s.LockMedicines(ctx, ids...); err != nil {
				return err
			}
			if err := restore(ctx, s, existing); err != nil {
				return err
			}
			if err := consume(ctx, s, *patch.Items); err != nil {
				return err
			}
			if _, err := s.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
				return fmt.Errorf("delete sale %d items: %w", id, err)
			}
			items = buildItems(*patch.Items)
			if err := insertItems(ctx, s.Tx, id, items); err != nil {
				return err
			}
		}

		if patch.Discount != nil {
			sale.Discount = *patch.Discount
		}
		if patch.Tax != nil {
			sale.Tax = *patch.Tax
		}
		if patch.CustomerName != nil {
			sale.CustomerName = patch.CustomerName
		}
		if patch.CustomerPhone != nil {
			sale.CustomerPhone = patch.CustomerPhone
		}
		if err := validateAmounts(sale.Discount, sale.Tax); err != nil {
			return err
		}
		sale.TotalAmount = domain.SaleTotal(items, sale.Tax)

		_, err = s.ExecContext(ctx, `UPDATE sales SET customer_name = $1, customer_phone = $2, total_amount = $3, discount = $4, tax = $5 WHERE id = $6`,
			sale.CustomerName, sale.CustomerPhone, sale.TotalAmount, sale.Discount, sale.Tax, id)
		if err != nil {
			return fmt.Errorf("update sale %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("sale updated", zap.Int64("sale_id", id), zap.Bool("items_replaced", patch.Items != nil))
	return m.Get(ctx, id)
}

// Delete restores every item's quantity and removes the sale.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	err := m.stock.Run(ctx, func(s *stock.Session) error {
		_, items, err := lockSale(ctx, s, id)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.MedicineID)
		}
		if err := s.LockMedicines(ctx, ids...); err != nil {
			return err
		}
		if err := restore(ctx, s, items); err != nil {
			return err
		}
		if _, err := s.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
			return fmt.Errorf("delete sale %d items: %w", id, err)
		}
		if _, err := s.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete sale %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info("sale deleted", zap.Int64("sale_id", id))
	return nil
}

func lockSale(ctx context.Context, s *stock.Session, id int64) (domain.Sale, []domain.SaleItem, error) {
	var sale domain.Sale
	err := s.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = $1`+s.ForUpdate(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sale{}, nil, domain.NotFound("sale", id)
	}
	if err != nil {
		return domain.Sale{}, nil, fmt.Errorf("lock sale %d: %w", id, err)
	}
	var items []domain.SaleItem
	if err := s.SelectContext(ctx, &items, `SELECT `+itemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id`, id); err != nil {
		return domain.Sale{}, nil, fmt.Errorf("load sale %d items: %w", id, err)
	}
	return sale, items, nil
}

func consume(ctx context.Context, s *stock.Session, lines []domain.LineItem) error {
	for _, line := range lines {
		if _, err := s.ApplyDelta(ctx, line.MedicineID, -line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func restore(ctx context.Context, s *stock.Session, items []domain.SaleItem) error {
	for _, item := range items {
		if _, err := s.ApplyDelta(ctx, item.MedicineID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func insertItems(ctx context.Context, tx *sqlx.Tx, saleID int64, items []domain.SaleItem) error {
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sale_items (sale_id, medicine_id, quantity, unit_price, discount, total_price) VALUES ($1, $2, $3, $4, $5, $6)`,
			saleID, item.MedicineID, item.Quantity, item.UnitPrice, item.Discount, item.TotalPrice); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

func buildItems(lines []domain.LineItem) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.SaleItem{
			MedicineID: line.MedicineID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Discount:   line.Discount,
			TotalPrice: domain.LineTotal(line.Quantity, line.UnitPrice, line.Discount),
		})
	}
	return items
}

func validateLines(lines []domain.LineItem) error {
	for i, line := range lines {
		if line.MedicineID <= 0 || line.Quantity <= 0 {
			return domain.Errorf(domain.ErrValidation, "item %d: medicine_id and a positive quantity are required", i+1)
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() {
			return domain.Errorf(domain.ErrValidation, "item %d: unit_price and discount must not be negative", i+1)
		}
	}
	return nil
}

func validateAmounts(discount, tax decimal.Decimal) error {
	if discount.IsNegative() || tax.IsNegative() {
		return domain.Errorf(domain.ErrValidation, "discount and tax must not be negative")
	}
	return nil
}

func medicineIDs(lines []domain.LineItem) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.MedicineID)
	}
	return ids
}

func newSaleNumber(at time.Time) string {
	return fmt.Sprintf("SALE-%s-%s", at.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

// Package purchasing manages purchase orders and turns received goods into
// medicine stock.
//
// There are two receiving paths and they do not agree. Receive uses the
// received quantities and refreshes price, expiry and manufacturing date.
// UpdateStatus(RECEIVED) adds the ordered quantities and changes nothing
// else. Both are kept until the product decides which one is right.
package purchasing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"agrivet/m/domain"
	"agrivet/m/internal/logging"
	"agrivet/m/internal/stock"
)

// Receiver creates purchase orders and books their receipts into stock.
type Receiver struct {
	db     *sqlx.DB
	stock  *stock.Mutator
	policy PricePolicy
	log    *zap.Logger
}

// NewReceiver constructs a Receiver using the MeanPrice policy.
func NewReceiver(db *sqlx.DB, mutator *stock.Mutator, log *zap.Logger) *Receiver {
	return &Receiver{db: db, stock: mutator, policy: MeanPrice, log: logging.OrNop(log)}
}

// WithPricePolicy swaps the selling price aggregation used by Receive.
func (r *Receiver) WithPricePolicy(p PricePolicy) *Receiver {
	r.policy = p
	return r
}

type OrderLine struct {
	MedicineID int64 `json:"medicine_id"`
	Quantity   int64 `json:"quantity"`
}

type CreateOrderRequest struct {
	SupplierID           int64       `json:"supplier_id"`
	ExpectedDeliveryDate *time.Time  `json:"expected_delivery_date"`
	Items                []OrderLine `json:"items"`
}

type ReceiveRequest struct {
	ReceivedDate *time.Time           `json:"received_date"`
	Items        []domain.ReceiveItem `json:"items"`
}

const orderColumns = `id, order_number, supplier_id, status, order_date, expected_delivery_date, received_date`

// CreateOrder stores a DRAFT order.
func (r *Receiver) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.PurchaseOrder, error) {
	if req.SupplierID <= 0 {
		return nil, domain.Errorf(domain.ErrValidation, "supplier_id is required")
	}
	if len(req.Items) == 0 {
		return nil, domain.Errorf(domain.ErrValidation, "purchase order must contain at least one item")
	}
	for i, item := range req.Items {
		if item.MedicineID <= 0 || item.Quantity <= 0 {
			return nil, domain.Errorf(domain.ErrValidation, "item %d: medicine_id and a positive quantity are required", i+1)
		}
	}

	var orderID int64
	err := r.stock.Run(ctx, func(s *stock.Session) error {
		now := s.Now()
		err := s.QueryRowxContext(ctx, `INSERT INTO purchase_orders (order_number, supplier_id, status, order_date, expected_delivery_date) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			newOrderNumber(now), req.SupplierID, domain.OrderDraft, now, req.ExpectedDeliveryDate).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("insert purchase order: %w", err)
		}
		for _, item := range req.Items {
			// Ordering moves no stock, so the medicine is checked without a row lock.
			var exists bool
			if err := s.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM medicines WHERE id = $1)`, item.MedicineID); err != nil {
				return fmt.Errorf("check medicine %d: %w", item.MedicineID, err)
			}
			if !exists {
				return domain.NotFound("medicine", item.MedicineID)
			}
			if _, err := s.ExecContext(ctx, `INSERT INTO purchase_order_items (purchase_order_id, medicine_id, quantity) VALUES ($1, $2, $3)`,
				orderID, item.MedicineID, item.Quantity); err != nil {
				return fmt.Errorf("insert purchase order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("purchase order created", zap.Int64("order_id", orderID), zap.Int("items", len(req.Items)))
	return r.Get(ctx, orderID)
}

// Get loads an order with its items.
func (r *Receiver) Get(ctx context.Context, id int64) (*domain.PurchaseOrder, error) {
	var order domain.PurchaseOrder
	err := r.db.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("purchase order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load purchase order %d: %w", id, err)
	}
	if err := r.db.SelectContext(ctx, &order.Items, `SELECT id, purchase_order_id, medicine_id, quantity FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id`, id); err != nil {
		return nil, fmt.Errorf("load purchase order %d items: %w", id, err)
	}
	return &order, nil
}

// Receive books a receipt against an open order: received quantities are
// aggregated per medicine, added to stock, and the order becomes RECEIVED.
func (r *Receiver) Receive(ctx context.Context, orderID int64, req ReceiveRequest) (*domain.PurchaseOrder, error) {
	if len(req.Items) == 0 {
		return nil, domain.Errorf(domain.ErrInvalidItem, "receipt must contain at least one item")
	}

	err := r.stock.Run(ctx, func(s *stock.Session) error {
		order, err := lockOrder(ctx, s, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case domain.OrderReceived:
			return domain.Errorf(domain.ErrAlreadyReceived, "purchase order %d has already been received", orderID)
		case domain.OrderCancelled:
			return domain.Errorf(domain.ErrTerminalOrder, "purchase order %d is cancelled", orderID)
		}

		lines, err := resolveLines(order, req.Items)
		if err != nil {
			return err
		}

		receivedDate := s.Now()
		if req.ReceivedDate != nil {
			receivedDate = req.ReceivedDate.UTC()
		}
		receipts := aggregate(lines, receivedDate, r.policy)

		ids := make([]int64, 0, len(receipts))
		for _, rc := range receipts {
			ids = append(ids, rc.MedicineID)
		}
		if err := s.LockMedicines(ctx, ids...); err != nil {
			return err
		}
		for _, rc := range receipts {
			if _, err := s.ApplyDelta(ctx, rc.MedicineID, rc.TotalQuantity); err != nil {
				return err
			}
			expiry, manufactured := rc.ExpiryDate, rc.ManufacturingDate
			if _, err := s.RestockDetails(ctx, rc.MedicineID, rc.SellingPrice, &expiry, &manufactured); err != nil {
				return err
			}
		}

		return setStatus(ctx, s, orderID, domain.OrderReceived, &receivedDate)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("purchase order received", zap.Int64("order_id", orderID), zap.Int("lines", len(req.Items)))
	return r.Get(ctx, orderID)
}

// UpdateStatus moves an order to newStatus. RECEIVED is terminal. Moving into
// RECEIVED here adds the ordered quantities per medicine and leaves prices
// and dates alone.
func (r *Receiver) UpdateStatus(ctx context.Context, orderID int64, newStatus domain.OrderStatus) (*domain.PurchaseOrder, error) {
	if !newStatus.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "unknown purchase order status %q", newStatus)
	}

	err := r.stock.Run(ctx, func(s *stock.Session) error {
		order, err := lockOrder(ctx, s, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			if newStatus == order.Status {
				return nil
			}
			return domain.Errorf(domain.ErrTerminalOrder, "purchase order %d is %s and cannot move to %s", orderID, order.Status, newStatus)
		}
		if newStatus != domain.OrderReceived {
			return setStatus(ctx, s, orderID, newStatus, order.ReceivedDate)
		}
		if order.Status == domain.OrderCancelled {
			return domain.Errorf(domain.ErrTerminalOrder, "purchase order %d is cancelled; reopen it before receiving", orderID)
		}

		var ids []int64
		ordered := make(map[int64]int64)
		for _, item := range order.Items {
			if _, ok := ordered[item.MedicineID]; !ok {
				ids = append(ids, item.MedicineID)
			}
			sum, ok := domain.AddQuantity(ordered[item.MedicineID], item.Quantity)
			if !ok {
				return domain.Errorf(domain.ErrValidation, "purchase order %d: ordered quantity for medicine %d overflows", orderID, item.MedicineID)
			}
			ordered[item.MedicineID] = sum
		}
		if err := s.LockMedicines(ctx, ids...); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := s.ApplyDelta(ctx, id, ordered[id]); err != nil {
				return err
			}
		}
		now := s.Now()
		return setStatus(ctx, s, orderID, domain.OrderReceived, &now)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("purchase order status changed", zap.Int64("order_id", orderID), zap.String("status", string(newStatus)))
	return r.Get(ctx, orderID)
}

func lockOrder(ctx context.Context, s *stock.Session, id int64) (domain.PurchaseOrder, error) {
	var order domain.PurchaseOrder
	err := s.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`+s.ForUpdate(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PurchaseOrder{}, domain.NotFound("purchase order", id)
	}
	if err != nil {
		return domain.PurchaseOrder{}, fmt.Errorf("lock purchase order %d: %w", id, err)
	}
	if err := s.SelectContext(ctx, &order.Items, `SELECT id, purchase_order_id, medicine_id, quantity FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id`, id); err != nil {
		return domain.PurchaseOrder{}, fmt.Errorf("load purchase order %d items: %w", id, err)
	}
	return order, nil
}

// resolveLines checks every receipt line against the order before any stock moves.
func resolveLines(order domain.PurchaseOrder, items []domain.ReceiveItem) ([]receiptLine, error) {
	byID := make(map[int64]domain.PurchaseOrderItem, len(order.Items))
	for _, item := range order.Items {
		byID[item.ID] = item
	}

	lines := make([]receiptLine, 0, len(items))
	for _, in := range items {
		item, ok := byID[in.PurchaseOrderItemID]
		if !ok {
			return nil, domain.Errorf(domain.ErrInvalidItem, "purchase order item %d does not belong to order %d", in.PurchaseOrderItemID, order.ID)
		}
		if in.QuantityReceived < 1 || in.QuantityReceived > item.Quantity {
			return nil, domain.Errorf(domain.ErrInvalidItem, "purchase order item %d: quantity received %d must be between 1 and %d",
				item.ID, in.QuantityReceived, item.Quantity)
		}
		if in.SellingPrice.IsNegative() {
			return nil, domain.Errorf(domain.ErrInvalidItem, "purchase order item %d: selling price must not be negative", item.ID)
		}
		if in.ExpiryDate == nil {
			return nil, domain.Errorf(domain.ErrInvalidItem, "purchase order item %d: expiry date is required", item.ID)
		}
		lines = append(lines, receiptLine{
			MedicineID: item.MedicineID,
			Quantity:   in.QuantityReceived,
			Price:      in.SellingPrice,
			ExpiryDate: in.ExpiryDate.UTC(),
		})
	}
	return lines, nil
}

func setStatus(ctx context.Context, s *stock.Session, id int64, status domain.OrderStatus, received *time.Time) error {
	if _, err := s.ExecContext(ctx, `UPDATE purchase_orders SET status = $1, received_date = $2 WHERE id = $3`, status, received, id); err != nil {
		return fmt.Errorf("update purchase order %d status: %w", id, err)
	}
	return nil
}

func newOrderNumber(at time.Time) string {
	return fmt.Sprintf("PO-%s-%s", at.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderDraft     OrderStatus = "DRAFT"
	OrderOrdered   OrderStatus = "ORDERED"
	OrderReceived  OrderStatus = "RECEIVED"
	OrderCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderDraft, OrderOrdered, OrderReceived, OrderCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further status transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderReceived
}

type PurchaseOrder struct {
	ID                   int64               `db:"id" json:"id"`
	OrderNumber          string              `db:"order_number" json:"order_number"`
	SupplierID           int64               `db:"supplier_id" json:"supplier_id"`
	Status               OrderStatus         `db:"status" json:"status"`
	OrderDate            time.Time           `db:"order_date" json:"order_date"`
	ExpectedDeliveryDate *time.Time          `db:"expected_delivery_date" json:"expected_delivery_date,omitempty"`
	ReceivedDate         *time.Time          `db:"received_date" json:"received_date,omitempty"`
	Items                []PurchaseOrderItem `db:"-" json:"items"`
}

type PurchaseOrderItem struct {
	ID              int64 `db:"id" json:"id"`
	PurchaseOrderID int64 `db:"purchase_order_id" json:"purchase_order_id"`
	MedicineID      int64 `db:"medicine_id" json:"medicine_id"`
	Quantity        int64 `db:"quantity" json:"quantity"`
}

// ReceiveItem is one receipt line against an order line.
type ReceiveItem struct {
	PurchaseOrderItemID int64           `json:"purchase_order_item_id"`
	QuantityReceived    int64           `json:"quantity_received"`
	SellingPrice        decimal.Decimal `json:"selling_price"`
	ExpiryDate          *time.Time      `json:"expiry_date"`
}

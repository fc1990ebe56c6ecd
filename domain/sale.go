package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Sale struct {
	ID            int64           `db:"id" json:"id"`
	SaleNumber    string          `db:"sale_number" json:"sale_number"`
	SaleDate      time.Time       `db:"sale_date" json:"sale_date"`
	CustomerName  *string         `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone *string         `db:"customer_phone" json:"customer_phone,omitempty"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Tax           decimal.Decimal `db:"tax" json:"tax"`
	Items         []SaleItem      `db:"-" json:"items"`
}

type SaleItem struct {
	ID         int64           `db:"id" json:"id"`
	SaleID     int64           `db:"sale_id" json:"sale_id"`
	MedicineID int64           `db:"medicine_id" json:"medicine_id"`
	Quantity   int64           `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount   decimal.Decimal `db:"discount" json:"discount"`
	TotalPrice decimal.Decimal `db:"total_price" json:"total_price"`
}

// LineItem is one cart entry. Discount is per unit.
type LineItem struct {
	MedicineID int64           `json:"medicine_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Discount   decimal.Decimal `json:"discount"`
}

// LineTotal returns quantity*unitPrice - quantity*discount.
func LineTotal(quantity int64, unitPrice, discount decimal.Decimal) decimal.Decimal {
	q := decimal.NewFromInt(quantity)
	return q.Mul(unitPrice).Sub(q.Mul(discount))
}

// SaleTotal returns the sum of item totals plus tax. The sale-level discount
// is recorded on the sale but not subtracted here.
func SaleTotal(items []SaleItem, tax decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total.Add(tax)
}

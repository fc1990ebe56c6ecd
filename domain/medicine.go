package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MedicineStatus is derived from quantity and never stored.
type MedicineStatus string

const (
	MedicineActive  MedicineStatus = "ACTIVE"
	MedicineSoldOut MedicineStatus = "SOLD_OUT"
)

// Medicine is one catalog row. The stock core only writes Quantity,
// SellingPrice, ExpiryDate and ManufacturingDate.
type Medicine struct {
	ID                int64           `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	Quantity          int64           `db:"quantity" json:"quantity"`
	CostPrice         decimal.Decimal `db:"cost_price" json:"cost_price"`
	SellingPrice      decimal.Decimal `db:"selling_price" json:"selling_price"`
	ExpiryDate        *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	ManufacturingDate *time.Time      `db:"manufacturing_date" json:"manufacturing_date,omitempty"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

func (m Medicine) Status() MedicineStatus {
	if m.Quantity == 0 {
		return MedicineSoldOut
	}
	return MedicineActive
}

// Level is the view of the medicine the alert rules evaluate.
func (m Medicine) Level() StockLevel {
	return StockLevel{
		MedicineID:   m.ID,
		MedicineName: m.Name,
		Quantity:     m.Quantity,
		ExpiryDate:   m.ExpiryDate,
	}
}

// StockLevel is a post-mutation snapshot handed to stock observers.
type StockLevel struct {
	MedicineID   int64
	MedicineName string
	LotID        *int64
	Quantity     int64
	ExpiryDate   *time.Time
}

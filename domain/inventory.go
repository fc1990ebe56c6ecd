package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LotStatus string

const (
	LotActive   LotStatus = "ACTIVE"
	LotExpired  LotStatus = "EXPIRED"
	LotDamaged  LotStatus = "DAMAGED"
	LotReturned LotStatus = "RETURNED"
	LotSoldOut  LotStatus = "SOLD_OUT"
)

func (s LotStatus) Valid() bool {
	switch s {
	case LotActive, LotExpired, LotDamaged, LotReturned, LotSoldOut:
		return true
	}
	return false
}

// NextLotStatus is the single status rule for lots after a quantity change:
// an empty lot is SOLD_OUT, a refilled SOLD_OUT lot is ACTIVE again and any
// other status is kept.
func NextLotStatus(current LotStatus, newQuantity int64) LotStatus {
	if newQuantity == 0 {
		return LotSoldOut
	}
	if current == LotSoldOut {
		return LotActive
	}
	return current
}

// InventoryLot is batch-level stock. It is a separate ledger from
// Medicine.Quantity and the two are not reconciled.
type InventoryLot struct {
	ID           int64           `db:"id" json:"id"`
	MedicineID   int64           `db:"medicine_id" json:"medicine_id"`
	MedicineName string          `db:"medicine_name" json:"medicine_name"`
	BatchNumber  string          `db:"batch_number" json:"batch_number"`
	Quantity     int64           `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	SellingPrice decimal.Decimal `db:"selling_price" json:"selling_price"`
	ExpiryDate   *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	PurchaseDate time.Time       `db:"purchase_date" json:"purchase_date"`
	Status       LotStatus       `db:"status" json:"status"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (l InventoryLot) Level() StockLevel {
	id := l.ID
	return StockLevel{
		MedicineID:   l.MedicineID,
		MedicineName: l.MedicineName,
		LotID:        &id,
		Quantity:     l.Quantity,
		ExpiryDate:   l.ExpiryDate,
	}
}

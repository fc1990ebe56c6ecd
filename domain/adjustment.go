package domain

import "time"

type AdjustmentType string

const (
	AdjustmentDamage     AdjustmentType = "DAMAGE"
	AdjustmentTheft      AdjustmentType = "THEFT"
	AdjustmentExpired    AdjustmentType = "EXPIRED"
	AdjustmentCorrection AdjustmentType = "CORRECTION"
	AdjustmentReturn     AdjustmentType = "RETURN"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentDamage, AdjustmentTheft, AdjustmentExpired, AdjustmentCorrection, AdjustmentReturn:
		return true
	}
	return false
}

// StockAdjustment is an append-only audit row. It is never updated or deleted.
type StockAdjustment struct {
	ID             int64          `db:"id" json:"id"`
	InventoryID    int64          `db:"inventory_id" json:"inventory_id"`
	AdjustmentType AdjustmentType `db:"adjustment_type" json:"adjustment_type"`
	QuantityChange int64          `db:"quantity_change" json:"quantity_change"`
	Reason         string         `db:"reason" json:"reason"`
	AdjustedBy     *int64         `db:"adjusted_by" json:"adjusted_by,omitempty"`
	AdjustmentDate time.Time      `db:"adjustment_date" json:"adjustment_date"`
	Notes          *string        `db:"notes" json:"notes,omitempty"`
}

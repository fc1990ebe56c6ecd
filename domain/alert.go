package domain

import "time"

type AlertType string

const (
	AlertOutOfStock   AlertType = "OUT_OF_STOCK"
	AlertLowStock     AlertType = "LOW_STOCK"
	AlertExpired      AlertType = "EXPIRED"
	AlertExpiringSoon AlertType = "EXPIRING_SOON"
)

type AlertPriority string

const (
	PriorityHigh   AlertPriority = "high"
	PriorityMedium AlertPriority = "medium"
)

type Alert struct {
	ID           string        `json:"id"`
	Type         AlertType     `json:"type"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	MedicineID   int64         `json:"medicine_id"`
	MedicineName string        `json:"medicine_name"`
	LotID        *int64        `json:"lot_id,omitempty"`
	Quantity     *int64        `json:"quantity,omitempty"`
	ExpiryDate   *time.Time    `json:"expiry_date,omitempty"`
	Priority     AlertPriority `json:"priority"`
	Timestamp    time.Time     `json:"timestamp"`
}

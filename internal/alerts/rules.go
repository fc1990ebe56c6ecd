package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"agrivet/m/domain"
)

const (
	highStockPriorityAt  = 5
	highExpiryPriorityAt = 7
)

// Rules are the stock and expiry thresholds.
type Rules struct {
	LowStock     int64
	ExpiryWindow time.Duration
}

func DefaultRules() Rules {
	return Rules{LowStock: 10, ExpiryWindow: 30 * 24 * time.Hour}
}

// Evaluate returns one alert per satisfied rule. The rules are independent:
// a level can be low on stock and expiring at the same time.
func Evaluate(level domain.StockLevel, now time.Time, rules Rules) []domain.Alert {
	var out []domain.Alert
	name := level.MedicineName
	if level.LotID != nil {
		name = fmt.Sprintf("%s (lot %d)", level.MedicineName, *level.LotID)
	}

	newAlert := func(t domain.AlertType, title, message string, p domain.AlertPriority) domain.Alert {
		return domain.Alert{
			ID:           uuid.NewString(),
			Type:         t,
			Title:        title,
			Message:      message,
			MedicineID:   level.MedicineID,
			MedicineName: level.MedicineName,
			LotID:        level.LotID,
			Priority:     p,
			Timestamp:    now,
		}
	}

	qty := level.Quantity
	switch {
	case qty == 0:
		a := newAlert(domain.AlertOutOfStock, "Out of stock", fmt.Sprintf("%s is out of stock", name), domain.PriorityHigh)
		a.Quantity = &qty
		out = append(out, a)
	case qty > 0 && qty <= rules.LowStock:
		p := domain.PriorityMedium
		if qty <= highStockPriorityAt {
			p = domain.PriorityHigh
		}
		a := newAlert(domain.AlertLowStock, "Low stock", fmt.Sprintf("%s is running low: %d left", name, qty), p)
		a.Quantity = &qty
		out = append(out, a)
	}

	if level.ExpiryDate != nil {
		expiry := *level.ExpiryDate
		switch {
		case expiry.Before(now):
			a := newAlert(domain.AlertExpired, "Expired", fmt.Sprintf("%s expired on %s", name, expiry.Format("2006-01-02")), domain.PriorityHigh)
			a.ExpiryDate = &expiry
			out = append(out, a)
		case !expiry.After(now.Add(rules.ExpiryWindow)):
			days := daysUntil(now, expiry)
			p := domain.PriorityMedium
			if days <= highExpiryPriorityAt {
				p = domain.PriorityHigh
			}
			a := newAlert(domain.AlertExpiringSoon, "Expiring soon", fmt.Sprintf("%s expires in %d day(s) on %s", name, days, expiry.Format("2006-01-02")), p)
			a.ExpiryDate = &expiry
			out = append(out, a)
		}
	}
	return out
}

func daysUntil(now, expiry time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

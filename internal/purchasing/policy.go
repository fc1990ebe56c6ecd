package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricedQuantity is one receipt line's contribution to a medicine's price.
type PricedQuantity struct {
	Quantity int64
	Price    decimal.Decimal
}

// PricePolicy folds the receipt lines of one medicine into its new selling price.
type PricePolicy func(lines []PricedQuantity) decimal.Decimal

// MeanPrice is the unweighted arithmetic mean: every line counts once,
// whatever its quantity. This is the default. The result is rounded to 2
// decimal places, the precision of the NUMERIC(12,2) price columns, so a
// stored price never differs from the returned one.
func MeanPrice(lines []PricedQuantity) decimal.Decimal {
	if len(lines) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(lines)))).Round(2)
}

// WeightedMeanPrice weights each line's price by its received quantity,
// rounded to 2 decimal places like MeanPrice.
func WeightedMeanPrice(lines []PricedQuantity) decimal.Decimal {
	var units int64
	sum := decimal.Zero
	for _, l := range lines {
		units += l.Quantity
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(l.Quantity)))
	}
	if units == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(units)).Round(2)
}

// MedicineReceipt is the aggregated effect of a receipt on one medicine.
type MedicineReceipt struct {
	MedicineID        int64
	TotalQuantity     int64
	SellingPrice      decimal.Decimal
	ExpiryDate        time.Time
	ManufacturingDate time.Time
}

// receiptLine is a validated receipt line resolved to its medicine.
type receiptLine struct {
	MedicineID int64
	Quantity   int64
	Price      decimal.Decimal
	ExpiryDate time.Time
}

// aggregate groups lines by medicine, summing quantities, folding prices
// through policy and keeping the earliest expiry. Output order follows the
// first appearance of each medicine.
func aggregate(lines []receiptLine, receivedDate time.Time, policy PricePolicy) []MedicineReceipt {
	var order []int64
	groups := make(map[int64][]receiptLine)
	for _, l := range lines {
		if _, ok := groups[l.MedicineID]; !ok {
			order = append(order, l.MedicineID)
		}
		groups[l.MedicineID] = append(groups[l.MedicineID], l)
	}

	out := make([]MedicineReceipt, 0, len(order))
	for _, id := range order {
		group := groups[id]
		r := MedicineReceipt{
			MedicineID:        id,
			ExpiryDate:        group[0].ExpiryDate,
			ManufacturingDate: receivedDate,
		}
		priced := make([]PricedQuantity, 0, len(group))
		for _, l := range group {
			r.TotalQuantity += l.Quantity
			if l.ExpiryDate.Before(r.ExpiryDate) {
				r.ExpiryDate = l.ExpiryDate
			}
			priced = append(priced, PricedQuantity{Quantity: l.Quantity, Price: l.Price})
		}
		r.SellingPrice = policy(priced)
		out = append(out, r)
	}
	return out
}

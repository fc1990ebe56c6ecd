package purchasing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivet/m/internal/testutil"
)

func TestAggregateSameMedicine(t *testing.T) {
	received := testutil.Date(2025, 3, 1)
	lines := []receiptLine{
		{MedicineID: 7, Quantity: 5, Price: decimal.NewFromInt(10), ExpiryDate: testutil.Date(2026, 1, 1)},
		{MedicineID: 7, Quantity: 8, Price: decimal.NewFromInt(12), ExpiryDate: testutil.Date(2025, 6, 1)},
		{MedicineID: 3, Quantity: 2, Price: decimal.NewFromInt(4), ExpiryDate: testutil.Date(2027, 1, 1)},
	}

	got := aggregate(lines, received, MeanPrice)
	require.Len(t, got, 2)

	assert.Equal(t, int64(7), got[0].MedicineID)
	assert.Equal(t, int64(13), got[0].TotalQuantity)
	assert.True(t, got[0].SellingPrice.Equal(decimal.NewFromInt(11)), got[0].SellingPrice.String())
	assert.Equal(t, testutil.Date(2025, 6, 1), got[0].ExpiryDate)
	assert.Equal(t, received, got[0].ManufacturingDate)

	assert.Equal(t, int64(3), got[1].MedicineID)
	assert.Equal(t, int64(2), got[1].TotalQuantity)
}

func TestPricePolicies(t *testing.T) {
	lines := []PricedQuantity{
		{Quantity: 1, Price: decimal.NewFromInt(100)},
		{Quantity: 999, Price: decimal.NewFromInt(10)},
	}
	assert.True(t, MeanPrice(lines).Equal(decimal.NewFromInt(55)))
	assert.True(t, WeightedMeanPrice(lines).Equal(decimal.RequireFromString("10.09")), WeightedMeanPrice(lines).String())

	assert.True(t, MeanPrice(nil).IsZero())
	assert.True(t, WeightedMeanPrice(nil).IsZero())
}

func TestMeanPriceRoundsToStoredPrecision(t *testing.T) {
	lines := []PricedQuantity{
		{Quantity: 1, Price: decimal.NewFromInt(1)},
		{Quantity: 1, Price: decimal.Zero},
		{Quantity: 1, Price: decimal.Zero},
	}
	got := MeanPrice(lines)
	assert.True(t, got.Equal(decimal.RequireFromString("0.33")), got.String())
	assert.Equal(t, int32(-2), got.Exponent())
}

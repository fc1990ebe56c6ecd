package domain

import "math"

// AddQuantity returns a+b, and false when the sum overflows int64.
func AddQuantity(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

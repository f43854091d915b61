package appointment

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in minor currency units (paise, cents). On the wire it
// is a decimal number of major units with two fraction digits.
type Money int64

// MaxMajor bounds a single decoded amount so that a prescription's three
// charges can always be summed in int64 minor units.
const MaxMajor = math.MaxInt64 / 100 / 3

func MoneyFromMajor(v float64) Money {
	return Money(math.Round(v * 100))
}

func (m Money) Major() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid amount %q", s)
	}
	if math.Abs(v) > MaxMajor {
		return fmt.Errorf("amount %q out of range", s)
	}
	*m = MoneyFromMajor(v)
	return nil
}

// addMoney sums amounts and reports false when the result would overflow.
func addMoney(amounts ...Money) (Money, bool) {
	var sum Money
	for _, a := range amounts {
		if (a > 0 && sum > math.MaxInt64-a) || (a < 0 && sum < math.MinInt64-a) {
			return 0, false
		}
		sum += a
	}
	return sum, true
}

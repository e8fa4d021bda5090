// Package money handles fixed-point currency amounts with two decimal
// places, stored as integer cents. The purchase core never touches
// floating point: subtotals are exact integer products.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrMalformedAmount = errors.New("money: malformed amount")

// Parse converts a decimal string such as "10.00" or "5.5" into cents.
// At most two fractional digits are accepted; negative amounts are allowed
// (callers decide whether they are valid in context).
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformedAmount
	}

	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}

	for i := 0; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && s[i] != '.' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
		}
	}

	whole, frac := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrMalformedAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: more than two decimal places in %q", ErrMalformedAmount, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	var cents int64
	if frac != "00" {
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
		}
	}

	// units came from ParseInt so it is non-negative here; reject values
	// whose cent representation would not fit in int64.
	if units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("%w: amount out of range %q", ErrMalformedAmount, s)
	}

	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

// Format renders cents as a decimal string with exactly two fractional digits.
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

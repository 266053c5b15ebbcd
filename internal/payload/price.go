package payload

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrPriceFormat      = errors.New("price must be a number with at most two decimals")
	ErrPriceNotPositive = errors.New("price must be greater than 0")
)

var priceRe = regexp.MustCompile(`^(\d+)(?:\.(\d{1,2}))?$`)

// ParsePriceCents parses a user supplied price such as "25", "25.5",
// "$25.00" or "$1,250.00" into cents.
func ParsePriceCents(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	m := priceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrPriceFormat
	}
	whole, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || whole > 1_000_000_000 {
		return 0, ErrPriceFormat
	}
	frac := m[2]
	if len(frac) == 1 {
		frac += "0"
	}
	var cents int64
	if frac != "" {
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}
	total := whole*100 + cents
	if total <= 0 {
		return 0, ErrPriceNotPositive
	}
	return total, nil
}

// FormatCents renders cents with a dollar prefix, e.g. 2500 → "$25.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

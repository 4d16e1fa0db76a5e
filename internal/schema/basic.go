package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yanun0323/errors"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Price is a scaled integer in cents.
type Price int64

// Quantity is a number of shares.
type Quantity int64

// Notional is a scaled integer in cents.
type Notional int64

// LotSize is the exchange board lot. Buy orders must be whole lots;
// sells may carry an odd remainder left over from corporate actions.
const LotSize Quantity = 100

// String renders the price in whole currency units.
func (p Price) String() string { return formatCents(int64(p)) }

// String renders the notional in whole currency units.
func (n Notional) String() string { return formatCents(int64(n)) }

func formatCents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParsePrice converts a decimal price string to scaled cents,
// truncating digits beyond the scale.
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty price")
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse price")
	}
	cents := w * 100
	if len(frac) > 0 {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse price fraction")
		}
		cents += f
	}
	if neg {
		cents = -cents
	}
	return Price(cents), nil
}

// Value multiplies price by quantity with overflow detection.
func Value(price Price, qty Quantity) (Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p > maxInt64/q {
		return 0, true
	}
	return Notional(int64(price) * int64(qty)), false
}

// LotsFor returns the largest whole-lot quantity purchasable with the
// given notional at the given price.
func LotsFor(value Notional, price Price) Quantity {
	if value <= 0 || price <= 0 {
		return 0
	}
	shares := Quantity(int64(value) / int64(price))
	return shares - shares%LotSize
}

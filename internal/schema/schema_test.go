package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue(t *testing.T) {
	v, overflow := Value(1057, 1000)
	assert.False(t, overflow)
	assert.Equal(t, Notional(1_057_000), v)

	v, overflow = Value(0, 1000)
	assert.False(t, overflow)
	assert.Equal(t, Notional(0), v)
}

func TestValueOverflow(t *testing.T) {
	_, overflow := Value(Price(maxInt64/2), 3)
	assert.True(t, overflow)
}

func TestLotsFor(t *testing.T) {
	cases := []struct {
		value Notional
		price Price
		want  Quantity
	}{
		{1_000_000, 1000, 1000}, // 10000.00 at 10.00
		{1_000_000, 1057, 900},  // 946 shares rounds down to 9 lots
		{99_999, 1000, 0},       // under one lot
		{0, 1000, 0},
		{1_000_000, 0, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, LotsFor(c.value, c.price), "value=%d price=%d", c.value, c.price)
	}
}

func TestPriceString(t *testing.T) {
	assert.Equal(t, "10.57", Price(1057).String())
	assert.Equal(t, "10.05", Price(1005).String())
	assert.Equal(t, "0.09", Price(9).String())
	assert.Equal(t, "-3.25", Price(-325).String())
}

func TestOrderStateTerminal(t *testing.T) {
	terminal := []OrderState{OrderStateFilled, OrderStateRejected, OrderStateCancelled, OrderStateAbandoned}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s.String())
	}
	open := []OrderState{OrderStateProposed, OrderStateSubmitted, OrderStateAccepted, OrderStatePartFilled}
	for _, s := range open {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestPoolDedupesPreservingOrder(t *testing.T) {
	p := NewPool([]Symbol{"600519", "600000", "600519", "000001"})
	assert.Equal(t, []Symbol{"600519", "600000", "000001"}, p.Symbols())
	assert.Equal(t, 3, p.Len())
	assert.True(t, p.Contains("600000"))
	assert.False(t, p.Contains("600001"))
}

func TestNilPoolIsEmpty(t *testing.T) {
	var p *Pool
	assert.False(t, p.Contains("600000"))
	assert.Equal(t, 0, p.Len())
	assert.Nil(t, p.Symbols())
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want Price
	}{
		{"10.57", 1057},
		{"10.5", 1050},
		{"10", 1000},
		{"0.01", 1},
		{"10.579", 1057}, // truncated, not rounded
		{"-3.25", -325},
		{" 7.00 ", 700},
	}
	for _, c := range cases {
		got, err := ParsePrice(c.in)
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParsePriceRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.x"} {
		_, err := ParsePrice(in)
		assert.Error(t, err, in)
	}
}

func TestQuoteNewer(t *testing.T) {
	a := Quote{Symbol: "600000", Ts: 10}
	b := Quote{Symbol: "600000", Ts: 20}
	assert.True(t, b.Newer(a))
	assert.False(t, a.Newer(b))
	// equal timestamps supersede so replays refresh the board
	assert.True(t, a.Newer(a))
}

package state

import (
	"sync"

	"main/internal/schema"
)

// Position is the per-symbol holding view.
type Position struct {
	Symbol      schema.Symbol
	Held        schema.Quantity // settled shares
	PendingBuy  schema.Quantity // shares of in-flight buy orders
	PendingSell schema.Quantity // shares of in-flight sell orders
	AvgCost     schema.Price

	// reserved value of in-flight buys, at each order's requested price
	pendingBuyValue schema.Notional
}

// EventKind classifies a ledger mutation.
type EventKind uint16

const (
	EventUnknown EventKind = iota
	// EventAccepted reserves capital/shares when the engine accepts an
	// order for submission, before any broker acknowledgement.
	EventAccepted
	EventFilled
	EventRejected
	EventCancelled
)

// Event is one ledger mutation. Qty and Price describe the accepted,
// filled or released portion; ReservePrice is the order's requested
// price, used to unwind the reservation made at acceptance.
type Event struct {
	Kind         EventKind
	Symbol       schema.Symbol
	Side         schema.Side
	Qty          schema.Quantity
	Price        schema.Price
	ReservePrice schema.Price
}

// Snapshot is an immutable read of one symbol's position plus the
// session counters, sufficient for a risk evaluation. It reflects every
// event applied before the call.
type Snapshot struct {
	Position       Position
	SpentToday     schema.Notional
	SpentOnSymbol  schema.Notional
	PortfolioValue schema.Notional
}

// Ledger is the authoritative record of holdings, in-flight exposure
// and daily buy counters. Mutations arrive serialized through the
// engine loop; the lock only guards concurrent reads from the status
// server.
type Ledger struct {
	mu        sync.RWMutex
	positions map[schema.Symbol]*Position

	spentToday    schema.Notional
	spentPerStock map[schema.Symbol]schema.Notional

	// held shares at cost + reserved in-flight buy value, aggregate
	portfolioValue schema.Notional
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions:     make(map[schema.Symbol]*Position),
		spentPerStock: make(map[schema.Symbol]schema.Notional),
	}
}

// Apply mutates the ledger with a single event. Events are applied
// atomically and in arrival order; an event for an unknown symbol
// creates the position record.
func (l *Ledger) Apply(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.positions[ev.Symbol]
	if pos == nil {
		pos = &Position{Symbol: ev.Symbol}
		l.positions[ev.Symbol] = pos
	}

	switch ev.Kind {
	case EventAccepted:
		l.applyAccepted(pos, ev)
	case EventFilled:
		l.applyFilled(pos, ev)
	case EventRejected, EventCancelled:
		l.applyReleased(pos, ev)
	}
}

func (l *Ledger) applyAccepted(pos *Position, ev Event) {
	v, overflow := schema.Value(ev.Price, ev.Qty)
	if overflow {
		return
	}
	switch ev.Side {
	case schema.SideBuy:
		pos.PendingBuy += ev.Qty
		pos.pendingBuyValue += v
		l.portfolioValue += v
		// counters rise at acceptance, never fall within a session
		l.spentToday += v
		l.spentPerStock[ev.Symbol] += v
	case schema.SideSell:
		pos.PendingSell += ev.Qty
	}
}

func (l *Ledger) applyFilled(pos *Position, ev Event) {
	switch ev.Side {
	case schema.SideBuy:
		reserved, _ := schema.Value(ev.ReservePrice, ev.Qty)
		cost, _ := schema.Value(ev.Price, ev.Qty)

		pos.PendingBuy -= ev.Qty
		if pos.PendingBuy < 0 {
			pos.PendingBuy = 0
		}
		pos.pendingBuyValue -= reserved
		if pos.pendingBuyValue < 0 {
			pos.pendingBuyValue = 0
		}

		heldCost, _ := schema.Value(pos.AvgCost, pos.Held)
		pos.Held += ev.Qty
		if pos.Held > 0 {
			pos.AvgCost = schema.Price((int64(heldCost) + int64(cost)) / int64(pos.Held))
		}
		// swap the reservation for the realized cost basis
		l.portfolioValue += cost - reserved

	case schema.SideSell:
		pos.PendingSell -= ev.Qty
		if pos.PendingSell < 0 {
			pos.PendingSell = 0
		}
		released, _ := schema.Value(pos.AvgCost, ev.Qty)
		pos.Held -= ev.Qty
		if pos.Held < 0 {
			pos.Held = 0
		}
		if pos.Held == 0 {
			pos.AvgCost = 0
		}
		l.portfolioValue -= released
		if l.portfolioValue < 0 {
			l.portfolioValue = 0
		}
	}
}

// applyReleased unwinds the pending exposure of the unfilled remainder
// of a rejected or cancelled order. Daily counters stay where they are.
func (l *Ledger) applyReleased(pos *Position, ev Event) {
	switch ev.Side {
	case schema.SideBuy:
		reserved, _ := schema.Value(ev.ReservePrice, ev.Qty)
		pos.PendingBuy -= ev.Qty
		if pos.PendingBuy < 0 {
			pos.PendingBuy = 0
		}
		pos.pendingBuyValue -= reserved
		if pos.pendingBuyValue < 0 {
			pos.pendingBuyValue = 0
		}
		l.portfolioValue -= reserved
		if l.portfolioValue < 0 {
			l.portfolioValue = 0
		}
	case schema.SideSell:
		pos.PendingSell -= ev.Qty
		if pos.PendingSell < 0 {
			pos.PendingSell = 0
		}
	}
}

// Snapshot returns an immutable read for one symbol.
func (l *Ledger) Snapshot(symbol schema.Symbol) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		SpentToday:     l.spentToday,
		SpentOnSymbol:  l.spentPerStock[symbol],
		PortfolioValue: l.portfolioValue,
	}
	if pos := l.positions[symbol]; pos != nil {
		snap.Position = *pos
	} else {
		snap.Position = Position{Symbol: symbol}
	}
	return snap
}

// Positions returns a copy of every non-empty position.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Held == 0 && pos.PendingBuy == 0 && pos.PendingSell == 0 {
			continue
		}
		out = append(out, *pos)
	}
	return out
}

// HeldSymbols returns symbols with settled shares, for sell-pool selection.
func (l *Ledger) HeldSymbols() []schema.Symbol {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]schema.Symbol, 0, len(l.positions))
	for sym, pos := range l.positions {
		if pos.Held > 0 {
			out = append(out, sym)
		}
	}
	return out
}

// SpentToday returns the aggregate buy value accepted this session.
func (l *Ledger) SpentToday() schema.Notional {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.spentToday
}

// PortfolioValue returns the aggregate committed value.
func (l *Ledger) PortfolioValue() schema.Notional {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.portfolioValue
}

// ResetDay clears the daily buy counters at a session boundary.
// Positions and in-flight exposure carry over.
func (l *Ledger) ResetDay() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spentToday = 0
	l.spentPerStock = make(map[schema.Symbol]schema.Notional)
}

package risk

import (
	"main/internal/schema"
	"main/internal/state"
)

// Gate evaluates order intents against the session's hard limits.
// Evaluate is a pure function of its inputs: identical intent, pool
// eligibility and snapshot always produce the identical verdict, so
// decisions can be replayed and unit-tested without any engine state.
type Gate struct {
	limits schema.RiskLimits
}

// NewGate creates a gate with static limits for the session.
func NewGate(limits schema.RiskLimits) *Gate {
	return &Gate{limits: limits}
}

// Limits returns the configured limits.
func (g *Gate) Limits() schema.RiskLimits {
	return g.limits
}

// Evaluate applies the limit rules in order, each clamping the
// requested quantity downward. A buy that cannot fit a single board lot
// under the caps is rejected with the reason of the rule that emptied
// it; partial participation is preferred over none.
func (g *Gate) Evaluate(intent schema.OrderIntent, eligible bool, snap state.Snapshot) schema.Verdict {
	if !eligible {
		return reject(schema.ReasonPoolIneligible)
	}

	switch intent.Side {
	case schema.SideSell:
		return g.evaluateSell(intent, snap)
	case schema.SideBuy:
		return g.evaluateBuy(intent, snap)
	default:
		return reject(schema.ReasonNone)
	}
}

func (g *Gate) evaluateSell(intent schema.OrderIntent, snap state.Snapshot) schema.Verdict {
	held := snap.Position.Held
	if held <= 0 {
		return reject(schema.ReasonNoHolding)
	}
	// sells never exceed what is held and not already on its way out
	available := held - snap.Position.PendingSell
	if available <= 0 {
		return reject(schema.ReasonNoHolding)
	}
	if intent.Qty <= available {
		return schema.Verdict{Action: schema.VerdictAllow, Qty: intent.Qty}
	}
	return schema.Verdict{Action: schema.VerdictShrink, Qty: available}
}

func (g *Gate) evaluateBuy(intent schema.OrderIntent, snap state.Snapshot) schema.Verdict {
	if intent.Qty <= 0 || intent.Price <= 0 {
		return reject(schema.ReasonNone)
	}
	requested, overflow := schema.Value(intent.Price, intent.Qty)
	if overflow {
		return reject(schema.ReasonPortfolioCap)
	}

	value := requested
	reason := schema.ReasonNone

	if g.limits.MaxBuyValuePerStock > 0 {
		remaining := g.limits.MaxBuyValuePerStock - snap.SpentOnSymbol
		if remaining <= 0 {
			return reject(schema.ReasonStockCap)
		}
		if value > remaining {
			value = remaining
			reason = schema.ReasonStockCap
		}
	}

	if g.limits.MaxBuyValuePerDay > 0 {
		remaining := g.limits.MaxBuyValuePerDay - snap.SpentToday
		if remaining <= 0 {
			return reject(schema.ReasonDailyCap)
		}
		if value > remaining {
			value = remaining
			reason = schema.ReasonDailyCap
		}
	}

	if g.limits.MaxPortfolioValue > 0 {
		remaining := g.limits.MaxPortfolioValue - snap.PortfolioValue
		if remaining <= 0 {
			return reject(schema.ReasonPortfolioCap)
		}
		if value > remaining {
			value = remaining
			reason = schema.ReasonPortfolioCap
		}
	}

	qty := schema.LotsFor(value, intent.Price)
	if qty <= 0 {
		// either a cap emptied the request or it was under one lot
		return reject(reason)
	}
	if qty >= intent.Qty {
		return schema.Verdict{Action: schema.VerdictAllow, Qty: intent.Qty}
	}
	return schema.Verdict{Action: schema.VerdictShrink, Qty: qty, Reason: reason}
}

func reject(reason schema.RejectReason) schema.Verdict {
	return schema.Verdict{Action: schema.VerdictReject, Reason: reason}
}

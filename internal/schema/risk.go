package schema

// RiskLimits are the hard capital limits for one trading session.
// Immutable once the session starts.
type RiskLimits struct {
	// MaxPortfolioValue caps the aggregate committed value: held shares
	// at cost plus reserved value of in-flight buys.
	MaxPortfolioValue Notional
	// MaxBuyValuePerDay caps the aggregate buy value accepted today.
	MaxBuyValuePerDay Notional
	// MaxBuyValuePerStock caps the buy value accepted today per symbol.
	MaxBuyValuePerStock Notional
}

// VerdictAction is the outcome class of a risk evaluation.
type VerdictAction uint16

const (
	VerdictUnknown VerdictAction = iota
	VerdictAllow
	VerdictShrink
	VerdictReject
)

func (a VerdictAction) String() string {
	switch a {
	case VerdictAllow:
		return "ALLOW"
	case VerdictShrink:
		return "SHRINK"
	case VerdictReject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// RejectReason is a coarse reason code for risk verdicts.
type RejectReason uint16

const (
	ReasonNone RejectReason = iota
	ReasonPoolIneligible
	ReasonNoHolding
	ReasonStockCap
	ReasonDailyCap
	ReasonPortfolioCap
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonPoolIneligible:
		return "POOL_INELIGIBLE"
	case ReasonNoHolding:
		return "NO_HOLDING"
	case ReasonStockCap:
		return "STOCK_CAP_EXCEEDED"
	case ReasonDailyCap:
		return "DAILY_CAP_EXCEEDED"
	case ReasonPortfolioCap:
		return "PORTFOLIO_CAP_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// Verdict is the result of a risk evaluation. Qty is the quantity the
// gate will let through; on Shrink it is smaller than requested.
type Verdict struct {
	Action VerdictAction
	Qty    Quantity
	Reason RejectReason
}

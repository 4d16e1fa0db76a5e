package schema

// Side describes order direction.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderState tracks the lifecycle of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateProposed
	OrderStateSubmitted
	OrderStateAccepted
	OrderStatePartFilled
	OrderStateFilled
	OrderStateRejected
	OrderStateCancelled
	// OrderStateAbandoned marks an order whose submission retries were
	// exhausted without a broker acknowledgement.
	OrderStateAbandoned
)

func (s OrderState) String() string {
	switch s {
	case OrderStateProposed:
		return "PROPOSED"
	case OrderStateSubmitted:
		return "SUBMITTED"
	case OrderStateAccepted:
		return "ACCEPTED"
	case OrderStatePartFilled:
		return "PART_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateRejected:
		return "REJECTED"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition can occur.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCancelled, OrderStateAbandoned:
		return true
	default:
		return false
	}
}

// OrderIntent is a strategy-produced request to trade, before any risk
// evaluation has been applied.
type OrderIntent struct {
	Symbol Symbol
	Side   Side
	Qty    Quantity
	Price  Price
	Signal string // signal name, carried for the journal and logs
}

// Order is the executor's view of one order. Owned exclusively by the
// order executor; the ledger only records its committed effects.
type Order struct {
	ID        string // client order id (ULID)
	BrokerID  string // broker-assigned id, empty until acknowledged
	Symbol    Symbol
	Side      Side
	Qty       Quantity
	Price     Price
	LeavesQty Quantity
	FilledQty Quantity
	AvgFill   Price
	State     OrderState
	Signal    string
	CreatedAt int64 // unix nanoseconds
}

package schema

// Symbol is an exchange-qualified instrument code, e.g. "600519.SH".
type Symbol string

// Quote is a normalized market tick. Latest wins per symbol; a quote
// superseded before processing is discarded, never queued.
type Quote struct {
	Symbol Symbol
	Last   Price
	Volume int64
	Ts     int64 // event time, unix nanoseconds
}

// Newer reports whether q supersedes other.
func (q Quote) Newer(other Quote) bool {
	return q.Ts >= other.Ts
}

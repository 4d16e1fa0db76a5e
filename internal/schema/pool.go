package schema

// Pool is an ordered set of symbols eligible for signal evaluation.
// Built once per session by the strategy, read-only afterwards.
type Pool struct {
	symbols []Symbol
	index   map[Symbol]struct{}
}

// NewPool builds a pool preserving first-seen order, dropping duplicates.
func NewPool(symbols []Symbol) *Pool {
	p := &Pool{index: make(map[Symbol]struct{}, len(symbols))}
	for _, s := range symbols {
		if _, ok := p.index[s]; ok {
			continue
		}
		p.index[s] = struct{}{}
		p.symbols = append(p.symbols, s)
	}
	return p
}

// Contains reports pool membership.
func (p *Pool) Contains(s Symbol) bool {
	if p == nil {
		return false
	}
	_, ok := p.index[s]
	return ok
}

// Symbols returns the members in insertion order. The caller must not
// mutate the returned slice.
func (p *Pool) Symbols() []Symbol {
	if p == nil {
		return nil
	}
	return p.symbols
}

// Len returns the member count.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.symbols)
}

package strategy

import (
	"context"
	"strings"

	"github.com/yanun0323/errors"

	"main/internal/history"
	"main/internal/schema"
	"main/internal/state"
)

// Strategy is the capability set a pluggable strategy implements. The
// engine calls the signal methods once per relevant quote per eligible
// symbol; implementations may keep internal indicator state but must
// not touch engine state.
type Strategy interface {
	// SelectBuyPool picks today's buy-eligible symbols.
	SelectBuyPool(ctx context.Context) ([]schema.Symbol, error)
	// SelectSellPool picks the symbols to watch for exits, given the
	// currently held ones.
	SelectSellPool(ctx context.Context, held []schema.Symbol) []schema.Symbol
	// BuySignal inspects the recent ticks for the symbol and optionally
	// emits a buy intent.
	BuySignal(symbol schema.Symbol, ticks []schema.Quote) (schema.OrderIntent, bool)
	// SellSignal inspects the recent ticks and the position and
	// optionally emits a sell intent.
	SellSignal(symbol schema.Symbol, ticks []schema.Quote, pos state.Position) (schema.OrderIntent, bool)
	// ResetDay clears per-session state ahead of a new trading day.
	ResetDay()
}

// Deps are the collaborators a strategy may draw on.
type Deps struct {
	History  *history.Store
	Universe []schema.Symbol
	Params   map[string]string
}

// Factory builds a strategy from its dependencies.
type Factory func(deps Deps) (Strategy, error)

var registry = make(map[string]Factory)

// Register adds a strategy factory under a name. Called from init.
func Register(name string, f Factory) {
	registry[strings.ToLower(name)] = f
}

// New builds the named strategy.
func New(name string, deps Deps) (Strategy, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.Errorf("unknown strategy %q", name)
	}
	return f(deps)
}

package strategy

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/history"
	"main/internal/schema"
	"main/internal/state"
)

func init() {
	Register("board-hitting", NewBoardHitting)
}

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// BoardHitting buys stocks hitting their daily limit-up after a recent
// "coiled board" pattern and exits on open weakness, board explosion or
// a MACD histogram top.
type BoardHitting struct {
	hist     *history.Store
	universe []schema.Symbol

	fixedValue  schema.Notional // buy value per signal, cents
	nearlyDays  int             // lookback for the pool pattern
	limitupDays int             // max limit-up days inside the lookback
	downPct     int64           // open-down trigger, basis points
	delay       time.Duration   // open-down watch offset after first tick

	mu        sync.Mutex
	open      map[schema.Symbol]*openInfo
	macdSells map[schema.Symbol]int
}

// openInfo is the per-symbol open-data cache built from daily history
// and the first tick of the session.
type openInfo struct {
	prevClose schema.Price
	limitUp   schema.Price
	dayOpen   schema.Price
	dayOpenTs int64
	wasBought bool
}

// NewBoardHitting builds the strategy from its dependencies.
func NewBoardHitting(deps Deps) (Strategy, error) {
	if deps.History == nil {
		return nil, errors.New("board-hitting requires a history store")
	}
	s := &BoardHitting{
		hist:        deps.History,
		universe:    deps.Universe,
		fixedValue:  1_000_000, // 10000.00 per buy
		nearlyDays:  5,
		limitupDays: 2,
		downPct:     100, // 1%
		delay:       30 * time.Second,
		open:        make(map[schema.Symbol]*openInfo),
		macdSells:   make(map[schema.Symbol]int),
	}
	if v, ok := paramInt(deps.Params, "fixed_value"); ok {
		s.fixedValue = schema.Notional(v) * 100
	}
	if v, ok := paramInt(deps.Params, "nearly_days"); ok {
		s.nearlyDays = int(v)
	}
	if v, ok := paramInt(deps.Params, "limitup_days"); ok {
		s.limitupDays = int(v)
	}
	if v, ok := paramInt(deps.Params, "down_bps"); ok {
		s.downPct = v
	}
	if v, ok := paramInt(deps.Params, "delay_seconds"); ok {
		s.delay = time.Duration(v) * time.Second
	}
	return s, nil
}

func paramInt(params map[string]string, key string) (int64, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logs.Warnf("ignoring bad strategy param %s=%q: %v", key, raw, err)
		return 0, false
	}
	return v, true
}

// SelectBuyPool scans the universe for the coiled-board pattern: a
// recent non-one-word limit-up, at most limitupDays of them inside the
// lookback, no limit-up yesterday, and the pullback since holding above
// the limit-up day's open.
func (s *BoardHitting) SelectBuyPool(ctx context.Context) ([]schema.Symbol, error) {
	var pool []schema.Symbol
	for _, sym := range s.universe {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := s.hist.RecentBars(ctx, string(sym), s.nearlyDays+1)
		if err != nil {
			return nil, err
		}
		if len(bars) < 2 {
			continue
		}
		if s.matchesPattern(bars) {
			pool = append(pool, sym)
		}
		// cache open data for signal evaluation
		last := bars[len(bars)-1]
		prevClose := schema.Price(last.Close)
		s.mu.Lock()
		s.open[sym] = &openInfo{
			prevClose: prevClose,
			limitUp:   LimitUpPrice(prevClose),
		}
		s.mu.Unlock()
	}
	logs.Infof("buy pool selected: %d of %d candidates", len(pool), len(s.universe))
	return pool, nil
}

func (s *BoardHitting) matchesPattern(bars []history.Bar) bool {
	limitUps := 0
	lastLimitUp := -1
	for i := 1; i < len(bars); i++ {
		if isLimitUpBar(bars[i-1], bars[i]) {
			limitUps++
			lastLimitUp = i
		}
	}
	if limitUps == 0 || limitUps > s.limitupDays {
		return false
	}
	// yesterday must not be limit-up and the limit-up bar must not be a
	// one-word board
	if lastLimitUp == len(bars)-1 {
		return false
	}
	board := bars[lastLimitUp]
	if board.Open == board.Close {
		return false
	}
	// the pullback since the board day must hold above its open
	for i := lastLimitUp + 1; i < len(bars); i++ {
		if bars[i].Low <= board.Open {
			return false
		}
	}
	return true
}

// SelectSellPool watches every held symbol.
func (s *BoardHitting) SelectSellPool(ctx context.Context, held []schema.Symbol) []schema.Symbol {
	for _, sym := range held {
		s.mu.Lock()
		if _, ok := s.open[sym]; !ok {
			s.open[sym] = &openInfo{}
			if bars, err := s.hist.RecentBars(ctx, string(sym), 1); err == nil && len(bars) == 1 {
				prevClose := schema.Price(bars[0].Close)
				s.open[sym].prevClose = prevClose
				s.open[sym].limitUp = LimitUpPrice(prevClose)
			}
		}
		s.mu.Unlock()
	}
	return held
}

// BuySignal fires when the price crosses onto the limit-up board from
// below. One-word boards (opened at the limit) are excluded, and each
// symbol is bought at most once per session.
func (s *BoardHitting) BuySignal(symbol schema.Symbol, ticks []schema.Quote) (schema.OrderIntent, bool) {
	if len(ticks) < 2 {
		s.observeOpen(symbol, ticks)
		return schema.OrderIntent{}, false
	}
	info := s.observeOpen(symbol, ticks)
	if info == nil || info.limitUp <= 0 || info.wasBought {
		return schema.OrderIntent{}, false
	}
	if info.dayOpen >= info.limitUp {
		return schema.OrderIntent{}, false // one-word or T-shaped board
	}

	cur := ticks[len(ticks)-1].Last
	prev := ticks[len(ticks)-2].Last
	onBoard := int64(cur)*1000 >= int64(info.limitUp)*998
	if !onBoard || prev >= info.limitUp {
		return schema.OrderIntent{}, false
	}

	qty := schema.LotsFor(s.fixedValue, info.limitUp)
	if qty <= 0 {
		return schema.OrderIntent{}, false
	}
	s.mu.Lock()
	info.wasBought = true
	s.mu.Unlock()
	return schema.OrderIntent{
		Symbol: symbol,
		Side:   schema.SideBuy,
		Qty:    qty,
		Price:  info.limitUp,
		Signal: "board_hitting",
	}, true
}

// SellSignal checks, in order: open weakness shortly after the first
// tick, a board explosion, then a MACD histogram top for staged exits.
func (s *BoardHitting) SellSignal(symbol schema.Symbol, ticks []schema.Quote, pos state.Position) (schema.OrderIntent, bool) {
	if len(ticks) == 0 || pos.Held <= 0 {
		return schema.OrderIntent{}, false
	}
	info := s.observeOpen(symbol, ticks)
	if info == nil {
		return schema.OrderIntent{}, false
	}
	available := pos.Held - pos.PendingSell
	if available <= 0 {
		return schema.OrderIntent{}, false
	}
	cur := ticks[len(ticks)-1]

	if intent, ok := s.openDownSignal(symbol, cur, info, available); ok {
		return intent, true
	}
	if intent, ok := s.explosionSignal(symbol, ticks, info, available); ok {
		return intent, true
	}
	return s.macdSellSignal(symbol, ticks, info, available)
}

// openDownSignal clears the position when the price drops below both
// the open and the previous close inside the watch window after the
// session's first tick.
func (s *BoardHitting) openDownSignal(symbol schema.Symbol, cur schema.Quote, info *openInfo, available schema.Quantity) (schema.OrderIntent, bool) {
	if info.dayOpen <= 0 || info.prevClose <= 0 {
		return schema.OrderIntent{}, false
	}
	elapsed := time.Duration(cur.Ts - info.dayOpenTs)
	if elapsed < s.delay || elapsed > s.delay+30*time.Second {
		return schema.OrderIntent{}, false
	}
	if cur.Last >= info.prevClose {
		return schema.OrderIntent{}, false
	}
	downPrice := schema.Price(int64(info.dayOpen) * (10000 - s.downPct) / 10000)
	if cur.Last >= downPrice {
		return schema.OrderIntent{}, false
	}
	return schema.OrderIntent{
		Symbol: symbol,
		Side:   schema.SideSell,
		Qty:    available,
		Price:  discount(cur.Last, 98),
		Signal: "open_down",
	}, true
}

// explosionSignal clears the position when the price falls back off the
// limit-up board.
func (s *BoardHitting) explosionSignal(symbol schema.Symbol, ticks []schema.Quote, info *openInfo, available schema.Quantity) (schema.OrderIntent, bool) {
	if info.limitUp <= 0 || len(ticks) < 2 {
		return schema.OrderIntent{}, false
	}
	board := discount(info.limitUp, 98)
	cur := ticks[len(ticks)-1].Last
	prev := ticks[len(ticks)-2].Last
	if cur >= board || prev < board {
		return schema.OrderIntent{}, false
	}
	return schema.OrderIntent{
		Symbol: symbol,
		Side:   schema.SideSell,
		Qty:    available,
		Price:  discount(cur, 98),
		Signal: "board_explosion",
	}, true
}

// macdSellSignal sells half the position on the first MACD histogram
// top of the session and everything on the next, skipping while the
// price still sits at the limit or above the previous close.
func (s *BoardHitting) macdSellSignal(symbol schema.Symbol, ticks []schema.Quote, info *openInfo, available schema.Quantity) (schema.OrderIntent, bool) {
	cur := ticks[len(ticks)-1].Last
	if info.prevClose > 0 && cur >= info.prevClose {
		return schema.OrderIntent{}, false
	}
	if info.limitUp > 0 && cur >= info.limitUp {
		return schema.OrderIntent{}, false
	}
	if len(ticks) < macdSlow+macdSignal+4 {
		return schema.OrderIntent{}, false
	}
	closes := make([]float64, len(ticks))
	for i, t := range ticks {
		closes[i] = float64(t.Last) / 100
	}
	_, _, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	if !isHistTop(hist) {
		return schema.OrderIntent{}, false
	}

	s.mu.Lock()
	sells := s.macdSells[symbol]
	s.macdSells[symbol]++
	s.mu.Unlock()

	qty := available
	if sells == 0 {
		half := available / 2
		half -= half % schema.LotSize
		if half > 0 {
			qty = half
		}
	}
	return schema.OrderIntent{
		Symbol: symbol,
		Side:   schema.SideSell,
		Qty:    qty,
		Price:  discount(cur, 99),
		Signal: "macd_top",
	}, true
}

// isHistTop reports a histogram top: three rising bars followed by a
// falling one, all of them positive.
func isHistTop(hist []float64) bool {
	n := len(hist)
	if n < 4 {
		return false
	}
	m1, m2, m3, m4 := hist[n-4], hist[n-3], hist[n-2], hist[n-1]
	return m1 < m2 && m2 < m3 && m3 > m4 &&
		m1 > 0 && m2 > 0 && m3 > 0 && m4 > 0
}

// ResetDay drops the session caches so the next SelectBuyPool rebuilds
// them from fresh history.
func (s *BoardHitting) ResetDay() {
	s.mu.Lock()
	s.open = make(map[schema.Symbol]*openInfo)
	s.macdSells = make(map[schema.Symbol]int)
	s.mu.Unlock()
}

// observeOpen records the first tick of the session as the day open.
func (s *BoardHitting) observeOpen(symbol schema.Symbol, ticks []schema.Quote) *openInfo {
	if len(ticks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.open[symbol]
	if !ok {
		info = &openInfo{}
		s.open[symbol] = info
	}
	if info.dayOpen == 0 {
		info.dayOpen = ticks[0].Last
		info.dayOpenTs = ticks[0].Ts
	}
	return info
}

// discount scales a price down to pct percent, used to price sell
// orders below the market for immediate execution.
func discount(p schema.Price, pct int64) schema.Price {
	return schema.Price(int64(p) * pct / 100)
}

// LimitUpPrice is the main-board 10% daily limit, rounded to the cent.
func LimitUpPrice(prevClose schema.Price) schema.Price {
	return schema.Price((int64(prevClose)*110 + 50) / 100)
}

// isLimitUpBar reports whether cur closed at the limit derived from
// prev's close.
func isLimitUpBar(prev, cur history.Bar) bool {
	return cur.Close >= int64(LimitUpPrice(schema.Price(prev.Close)))
}

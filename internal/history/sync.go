package history

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Downloader pulls daily bars from the remote data service. The
// concrete terminal-backed implementation lives outside this module.
type Downloader interface {
	DailyBars(ctx context.Context, symbol string, fromDay int) ([]Bar, error)
}

// Sync tops up history for every symbol incrementally: only days after
// the latest stored bar (and not before fromDay) are downloaded. A
// failing symbol is logged and skipped so one bad instrument does not
// starve the rest of the pool.
func (s *Store) Sync(ctx context.Context, dl Downloader, symbols []string, fromDay int) error {
	var failed int
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		last, err := s.LastDay(ctx, symbol)
		if err != nil {
			return err
		}
		start := fromDay
		if last >= start {
			start = nextDay(last)
		}
		bars, err := dl.DailyBars(ctx, symbol, start)
		if err != nil {
			failed++
			logs.Warnf("history sync failed for %s: %v", symbol, err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		if err := s.UpsertBars(ctx, bars); err != nil {
			return err
		}
	}
	if failed > 0 {
		logs.Warnf("history sync finished with %d failed symbols", failed)
	}
	if failed == len(symbols) && len(symbols) > 0 {
		return errors.New("history sync failed for every symbol")
	}
	return nil
}

// nextDay advances a yyyymmdd day number by one calendar day, loosely:
// the downloader tolerates non-trading start days.
func nextDay(day int) int {
	y, m, d := day/10000, (day/100)%100, day%100
	d++
	if d > 31 {
		d = 1
		m++
	}
	if m > 12 {
		m = 1
		y++
	}
	return y*10000 + m*100 + d
}

package history

import (
	"context"
	stderrors "errors"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Bar is one daily candle. Prices are stored in cents.
type Bar struct {
	ID     uint   `gorm:"primaryKey"`
	Symbol string `gorm:"size:16;uniqueIndex:idx_bar_symbol_day"`
	Day    int    `gorm:"uniqueIndex:idx_bar_symbol_day"` // yyyymmdd
	Open   int64
	High   int64
	Low    int64
	Close  int64
	Volume int64
}

// Store reads and writes the historical bar table. It is an external
// collaborator from the engine's perspective: the strategy reads it,
// the pre-open sync writes it, nothing inside the event loop touches
// it.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the bar table and returns a store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Bar{}); err != nil {
		return nil, errors.Wrap(err, "migrate bars")
	}
	return &Store{db: db}, nil
}

// UpsertBars writes bars, replacing rows for the same symbol and day.
func (s *Store) UpsertBars(ctx context.Context, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&bars).Error
	if err != nil {
		return errors.Wrap(err, "upsert bars")
	}
	return nil
}

// RecentBars returns up to n bars for the symbol, oldest first.
func (s *Store) RecentBars(ctx context.Context, symbol string, n int) ([]Bar, error) {
	var bars []Bar
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("day DESC").
		Limit(n).
		Find(&bars).Error
	if err != nil {
		return nil, errors.Wrap(err, "query recent bars").With("symbol", symbol)
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// LastDay returns the most recent stored day for the symbol, zero when
// the symbol has no history yet.
func (s *Store) LastDay(ctx context.Context, symbol string) (int, error) {
	var bar Bar
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("day DESC").
		First(&bar).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "query last day").With("symbol", symbol)
	}
	return bar.Day, nil
}

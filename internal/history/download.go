package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// HTTPDownloader pulls daily bars from the quote service's bar
// endpoint: GET {base}/bars?symbol=...&from=yyyymmdd returning a JSON
// array of bars with decimal price strings.
type HTTPDownloader struct {
	base   string
	client *http.Client
}

// NewHTTPDownloader creates a downloader against the given base URL.
func NewHTTPDownloader(base string) *HTTPDownloader {
	return &HTTPDownloader{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type barPayload struct {
	Symbol string `json:"symbol"`
	Day    int    `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume int64  `json:"volume"`
}

// DailyBars implements Downloader.
func (d *HTTPDownloader) DailyBars(ctx context.Context, symbol string, fromDay int) ([]Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", fmt.Sprintf("%d", fromDay))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/bars?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build bars request")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch bars").With("symbol", symbol)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch bars for %s: status %d", symbol, resp.StatusCode)
	}

	var payload []barPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode bars").With("symbol", symbol)
	}
	bars := make([]Bar, 0, len(payload))
	for _, p := range payload {
		bar, err := p.toBar(symbol)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (p barPayload) toBar(symbol string) (Bar, error) {
	if p.Symbol != "" {
		symbol = p.Symbol
	}
	open, err := schema.ParsePrice(p.Open)
	if err != nil {
		return Bar{}, errors.Wrap(err, "bar open").With("symbol", symbol).With("day", p.Day)
	}
	high, err := schema.ParsePrice(p.High)
	if err != nil {
		return Bar{}, errors.Wrap(err, "bar high").With("symbol", symbol).With("day", p.Day)
	}
	low, err := schema.ParsePrice(p.Low)
	if err != nil {
		return Bar{}, errors.Wrap(err, "bar low").With("symbol", symbol).With("day", p.Day)
	}
	cls, err := schema.ParsePrice(p.Close)
	if err != nil {
		return Bar{}, errors.Wrap(err, "bar close").With("symbol", symbol).With("day", p.Day)
	}
	return Bar{
		Symbol: symbol,
		Day:    p.Day,
		Open:   int64(open),
		High:   int64(high),
		Low:    int64(low),
		Close:  int64(cls),
		Volume: p.Volume,
	}, nil
}

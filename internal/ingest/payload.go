package ingest

import (
	"encoding/json"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// tickPayload mirrors the feed's JSON tick message. Prices arrive as
// decimal strings.
type tickPayload struct {
	Code   string          `json:"code"`
	Last   decimal.Decimal `json:"last"`
	Volume int64           `json:"volume"`
	Time   int64           `json:"time"` // unix milliseconds
}

// subscribeRequest is the feed's subscription control message.
type subscribeRequest struct {
	Action  string   `json:"action"` // "subscribe" | "unsubscribe"
	Symbols []string `json:"symbols"`
	ID      int64    `json:"id"`
}

// subscribeResponse acknowledges a control message.
type subscribeResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// decodeTick parses a raw feed frame into a normalized quote.
func decodeTick(raw []byte) (schema.Quote, error) {
	var p tickPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return schema.Quote{}, errors.Wrap(err, "unmarshal tick")
	}
	if p.Code == "" {
		return schema.Quote{}, errors.New("tick without symbol code")
	}
	last, err := schema.ParsePrice(p.Last.String())
	if err != nil {
		return schema.Quote{}, errors.Wrap(err, "parse last price").With("code", p.Code)
	}
	return schema.Quote{
		Symbol: schema.Symbol(p.Code),
		Last:   last,
		Volume: p.Volume,
		Ts:     p.Time * int64(1_000_000), // ms -> ns
	}, nil
}

package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func quote(sym string, last schema.Price, ts int64) schema.Quote {
	return schema.Quote{Symbol: schema.Symbol(sym), Last: last, Ts: ts}
}

func TestBoardFirstPutSignalsPending(t *testing.T) {
	b := NewBoard()
	assert.True(t, b.Put(quote("600000", 1000, 1)))
	// a second tick before Take coalesces silently
	assert.False(t, b.Put(quote("600000", 1010, 2)))

	q, ok := b.Take("600000")
	require.True(t, ok)
	assert.Equal(t, schema.Price(1010), q.Last)
}

func TestBoardLatestWins(t *testing.T) {
	b := NewBoard()
	b.Put(quote("600000", 1000, 1))
	b.Put(quote("600000", 1020, 3))
	b.Put(quote("600000", 1010, 2)) // stale, dropped

	q, _ := b.Take("600000")
	assert.Equal(t, schema.Price(1020), q.Last)
	assert.Equal(t, int64(3), q.Ts)
}

func TestBoardPendingClearsOnTake(t *testing.T) {
	b := NewBoard()
	b.Put(quote("600000", 1000, 1))
	b.Take("600000")
	// after Take the next tick must signal again
	assert.True(t, b.Put(quote("600000", 1010, 2)))
}

func TestBoardTakeUnknownSymbol(t *testing.T) {
	b := NewBoard()
	_, ok := b.Take("600000")
	assert.False(t, ok)
}

func TestBoardSymbolsIndependent(t *testing.T) {
	b := NewBoard()
	assert.True(t, b.Put(quote("600000", 1000, 1)))
	assert.True(t, b.Put(quote("600519", 2000, 1)))

	q, _ := b.Last("600519")
	assert.Equal(t, schema.Price(2000), q.Last)
}

func TestDecodeTick(t *testing.T) {
	raw := []byte(`{"code":"600000","last":"10.57","volume":4200,"time":1756180800123}`)
	q, err := decodeTick(raw)
	require.NoError(t, err)
	assert.Equal(t, schema.Symbol("600000"), q.Symbol)
	assert.Equal(t, schema.Price(1057), q.Last)
	assert.Equal(t, int64(4200), q.Volume)
	assert.Equal(t, int64(1756180800123)*1_000_000, q.Ts)
}

func TestDecodeTickMissingCode(t *testing.T) {
	_, err := decodeTick([]byte(`{"last":"10.57","time":1}`))
	assert.Error(t, err)
}

func TestDecodeTickMalformed(t *testing.T) {
	_, err := decodeTick([]byte(`{bad json`))
	assert.Error(t, err)
}


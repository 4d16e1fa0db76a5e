package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordOrderUpserts(t *testing.T) {
	j := openTemp(t)

	ord := schema.Order{
		ID:        "01J0000000000000000000TEST",
		Symbol:    "600000",
		Side:      schema.SideBuy,
		Qty:       1000,
		Price:     1057,
		State:     schema.OrderStateSubmitted,
		Signal:    "board_hitting",
		CreatedAt: 1756180800000000000,
	}
	require.NoError(t, j.RecordOrder(ord))

	// same order id again must update, not duplicate
	ord.State = schema.OrderStateFilled
	ord.FilledQty = 1000
	ord.AvgFill = 1057
	require.NoError(t, j.RecordOrder(ord))

	n, err := j.OrderCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordFillAppends(t *testing.T) {
	j := openTemp(t)
	require.NoError(t, j.RecordFill("o-1", "600000", schema.SideBuy, 400, 1057, 1))
	require.NoError(t, j.RecordFill("o-1", "600000", schema.SideBuy, 600, 1060, 2))

	var n int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM fills WHERE order_id = ?`, "o-1").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestOrderCountEmpty(t *testing.T) {
	j := openTemp(t)
	n, err := j.OrderCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

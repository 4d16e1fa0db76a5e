package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/yanun0323/errors"

	"main/internal/schema"
)

const ddl = `
CREATE TABLE IF NOT EXISTS orders (
	order_id    TEXT PRIMARY KEY,
	broker_id   TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	qty         INTEGER NOT NULL,
	price       INTEGER NOT NULL,
	filled_qty  INTEGER NOT NULL,
	avg_fill    INTEGER NOT NULL,
	state       TEXT NOT NULL,
	signal      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	order_id  TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	side      TEXT NOT NULL,
	qty       INTEGER NOT NULL,
	price     INTEGER NOT NULL,
	fill_time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
`

// Journal persists terminal orders and individual fills to a local
// sqlite file, the session's audit trail.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create journal schema")
	}
	return &Journal{db: db}, nil
}

// RecordOrder upserts the order's final (or latest) state.
func (j *Journal) RecordOrder(ord schema.Order) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(order_id, broker_id, symbol, side, qty, price, filled_qty, avg_fill, state, signal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			broker_id = excluded.broker_id,
			filled_qty = excluded.filled_qty,
			avg_fill = excluded.avg_fill,
			state = excluded.state`,
		ord.ID, ord.BrokerID, string(ord.Symbol), ord.Side.String(),
		int64(ord.Qty), int64(ord.Price), int64(ord.FilledQty),
		int64(ord.AvgFill), ord.State.String(), ord.Signal, ord.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "record order")
	}
	return nil
}

// RecordFill appends one fill row.
func (j *Journal) RecordFill(orderID string, symbol schema.Symbol, side schema.Side, qty schema.Quantity, price schema.Price, ts int64) error {
	_, err := j.db.Exec(`
		INSERT INTO fills (order_id, symbol, side, qty, price, fill_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		orderID, string(symbol), side.String(), int64(qty), int64(price), ts,
	)
	if err != nil {
		return errors.Wrap(err, "record fill")
	}
	return nil
}

// OrderCount returns the number of journaled orders.
func (j *Journal) OrderCount() (int, error) {
	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return n, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

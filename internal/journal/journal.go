// Package journal persists orders and closed trades to an embedded DuckDB
// database so a run's full execution history survives restarts and can be
// inspected with plain SQL.
package journal

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// Store is an append-only journal. Orders are inserted when submitted and
// their status updated as fills resolve; trades are inserted exactly once
// per closed round-trip.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open creates or opens the journal database at path. Use ":memory:" (the
// empty string for DuckDB) for an ephemeral store in tests.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to open journal database", err)
	}

	store := &Store{
		db:  db,
		log: log.Named("journal"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR PRIMARY KEY,
			symbol VARCHAR,
			side VARCHAR,
			kind VARCHAR,
			status VARCHAR,
			amount DOUBLE,
			price DOUBLE,
			filled_amount DOUBLE,
			avg_fill_price DOUBLE,
			stop_price DOUBLE,
			reason VARCHAR,
			created_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR PRIMARY KEY,
			symbol VARCHAR,
			entry_price DOUBLE,
			exit_price DOUBLE,
			expected_entry_price DOUBLE,
			expected_exit_price DOUBLE,
			entry_slippage DOUBLE,
			exit_slippage DOUBLE,
			amount DOUBLE,
			gross_pnl DOUBLE,
			fees DOUBLE,
			net_pnl DOUBLE,
			win BOOLEAN,
			reason VARCHAR,
			opened_at TIMESTAMP,
			closed_at TIMESTAMP
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeJournalInitFailed, "failed to create journal schema", err)
		}
	}

	return nil
}

// AppendOrder records a submitted order.
func (s *Store) AppendOrder(order types.Order) error {
	_, err := sq.Insert("orders").
		Columns("id", "symbol", "side", "kind", "status", "amount", "price",
			"filled_amount", "avg_fill_price", "stop_price", "reason", "created_at").
		Values(order.ID, order.Symbol, string(order.Side), string(order.Kind),
			string(order.Status), order.Amount, order.Price, order.FilledAmount,
			order.AvgFillPrice, order.StopPrice, order.Reason, order.Timestamp).
		RunWith(s.db).
		Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to insert order", err)
	}

	return nil
}

// UpdateOrder overwrites the mutable fields of an order after a fill poll or
// cancellation resolved its final state.
func (s *Store) UpdateOrder(order types.Order) error {
	_, err := sq.Update("orders").
		Set("status", string(order.Status)).
		Set("filled_amount", order.FilledAmount).
		Set("avg_fill_price", order.AvgFillPrice).
		Where(sq.Eq{"id": order.ID}).
		RunWith(s.db).
		Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to update order", err)
	}

	return nil
}

// AppendTrade records one closed round-trip.
func (s *Store) AppendTrade(t types.TradeRecord) error {
	_, err := sq.Insert("trades").
		Columns("id", "symbol", "entry_price", "exit_price", "expected_entry_price",
			"expected_exit_price", "entry_slippage", "exit_slippage", "amount",
			"gross_pnl", "fees", "net_pnl", "win", "reason", "opened_at", "closed_at").
		Values(uuid.NewString(), t.Symbol, t.EntryPrice, t.ExitPrice, t.ExpectedEntryPrice,
			t.ExpectedExitPrice, t.EntrySlippage, t.ExitSlippage, t.Amount,
			t.GrossPnL, t.Fees, t.NetPnL, t.Win, string(t.Reason), t.OpenedAt, t.ClosedAt).
		RunWith(s.db).
		Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to insert trade", err)
	}

	return nil
}

// Trades returns all journaled trades in close order.
func (s *Store) Trades() ([]types.TradeRecord, error) {
	rows, err := sq.Select("symbol", "entry_price", "exit_price", "expected_entry_price",
		"expected_exit_price", "entry_slippage", "exit_slippage", "amount",
		"gross_pnl", "fees", "net_pnl", "win", "reason", "opened_at", "closed_at").
		From("trades").
		OrderBy("closed_at ASC").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.TradeRecord

	for rows.Next() {
		var (
			t      types.TradeRecord
			reason string
		)

		if err := rows.Scan(&t.Symbol, &t.EntryPrice, &t.ExitPrice,
			&t.ExpectedEntryPrice, &t.ExpectedExitPrice, &t.EntrySlippage,
			&t.ExitSlippage, &t.Amount, &t.GrossPnL, &t.Fees, &t.NetPnL,
			&t.Win, &reason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "failed to scan trade row", err)
		}

		t.Reason = types.CloseReason(reason)
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalQueryFailed, "trade row iteration failed", err)
	}

	return trades, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

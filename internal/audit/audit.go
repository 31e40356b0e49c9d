// Package audit is a best-effort local record of published opportunities
// and simulation results, persisted to a local sqlite file for offline
// review. It is never on the hot path of the pipeline: every write here
// is fire-and-forget.
package audit

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/thoerner/mev-bot/internal/mevtypes"
)

// Sink persists opportunities and simulation results to a local sqlite
// file.
type Sink struct {
	db *sql.DB
}

// Open creates the schema if needed and returns a Sink. path == "" opens
// no-op (audit disabled).
func Open(path string) (*Sink, error) {
	if path == "" {
		return &Sink{}, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open audit db")
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS opportunities(
			discovered_at INTEGER, token_a TEXT, token_b TEXT,
			buy_venue TEXT, sell_venue TEXT, profit_percent REAL,
			min_trade REAL, max_trade REAL)`,
		`CREATE TABLE IF NOT EXISTS simulations(
			recorded_at INTEGER, success INTEGER, gas_used INTEGER,
			profit TEXT, error TEXT, elapsed_ms INTEGER)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "audit schema")
		}
	}

	return &Sink{db: db}, nil
}

// RecordOpportunity is best-effort: a write failure is not surfaced as a
// pipeline error.
func (s *Sink) RecordOpportunity(o mevtypes.Opportunity) {
	if s.db == nil {
		return
	}
	_, _ = s.db.Exec(
		`INSERT INTO opportunities(discovered_at, token_a, token_b, buy_venue, sell_venue, profit_percent, min_trade, max_trade) VALUES (?,?,?,?,?,?,?,?)`,
		o.DiscoveredAt.Unix(), o.TokenA.Hex(), o.TokenB.Hex(), o.BuyVenue, o.SellVenue, o.ProfitPercent, o.MinTrade, o.MaxTrade,
	)
}

// RecordSimulation is best-effort, mirroring RecordOpportunity.
func (s *Sink) RecordSimulation(r mevtypes.SimulationResult) {
	if s.db == nil {
		return
	}
	profit := ""
	if r.Profit != nil {
		profit = r.Profit.String()
	}
	_, _ = s.db.Exec(
		`INSERT INTO simulations(recorded_at, success, gas_used, profit, error, elapsed_ms) VALUES (?,?,?,?,?,?)`,
		time.Now().Unix(), boolToInt(r.Success), r.GasUsed, profit, r.Err, r.ElapsedMS,
	)
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package sqlite is the durable store of §6.5: one table per Alert record
// (the store the Alert Index cold-start-rebuilds from) and one append-only
// table per TriggeredAlert event, with a unique index on
// (alert_id, candle_open_time_ms, seq_in_candle) for every trigger.
//
// Grounded on the teacher's internal/store/sqlite/writer.go: WAL mode,
// single-connection pool (single-writer discipline), schema created in
// code.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cryptoalertd/internal/model"
)

// Config configures the SQLite durable store.
type Config struct {
	DBPath string
}

// Store is a single-connection SQLite durable store backing both
// model.AlertStore and model.TriggerStore.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens (creating if needed) the SQLite database in WAL mode with a
// single-connection pool, matching the teacher's single-writer discipline.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	if log != nil {
		log.Info("sqlite: opened durable store", "path", cfg.DBPath)
	}
	return &Store{db: db, log: log}, nil
}

// Raw exposes the underlying *sql.DB for components (the liveness
// checker) that need the concrete handle rather than the AlertStore/
// TriggerStore ports.
func (s *Store) Raw() *sql.DB {
	return s.db
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			alert_id               TEXT PRIMARY KEY,
			owner_id               TEXT NOT NULL,
			symbol                 TEXT NOT NULL,
			active                 INTEGER NOT NULL,
			user_created            INTEGER NOT NULL,
			direction               TEXT NOT NULL,
			target_type             TEXT NOT NULL,
			target_value            REAL NOT NULL,
			base_price              REAL NOT NULL,
			change_pct_threshold     REAL NOT NULL,
			change_pct_timeframe_ms  INTEGER NOT NULL,
			min_daily_volume_quote   REAL NOT NULL,
			count_enabled            INTEGER NOT NULL,
			count_timeframe_ms       INTEGER NOT NULL,
			max_triggers_per_candle  INTEGER NOT NULL,
			email                   TEXT,
			chat_target             TEXT,
			comment                 TEXT,
			last_triggered_at_ms     INTEGER,
			counters_json           TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol);

		CREATE TABLE IF NOT EXISTS triggered_alerts (
			trigger_id         TEXT PRIMARY KEY,
			alert_id           TEXT NOT NULL,
			symbol             TEXT NOT NULL,
			triggered_at_ms    INTEGER NOT NULL,
			price              REAL NOT NULL,
			base_price_used    REAL NOT NULL,
			base_price_source  TEXT NOT NULL,
			pct_change         REAL NOT NULL,
			volume24h          REAL NOT NULL,
			candle_open_time_ms INTEGER NOT NULL,
			seq_in_candle      INTEGER NOT NULL,
			conditions_json    TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_triggered_alert_candle_seq
			ON triggered_alerts(alert_id, candle_open_time_ms, seq_in_candle);
	`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── model.AlertStore ──

// ListActiveUserCreated satisfies model.AlertStore for cold-start rebuild
// (§4.4).
func (s *Store) ListActiveUserCreated(ctx context.Context) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, owner_id, symbol, active, user_created, direction, target_type,
		       target_value, base_price, change_pct_threshold, change_pct_timeframe_ms,
		       min_daily_volume_quote, count_enabled, count_timeframe_ms, max_triggers_per_candle,
		       email, chat_target, comment, last_triggered_at_ms, counters_json
		FROM alerts
		WHERE active = 1 AND user_created = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list alerts: %w", err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			if s.log != nil {
				s.log.Warn("sqlite: skipping unreadable alert row", "err", err)
			}
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(rows *sql.Rows) (*model.Alert, error) {
	var a model.Alert
	var active, userCreated, countEnabled int
	var changeTFMs, countTFMs int64
	var lastTriggeredMs sql.NullInt64
	var countersJSON sql.NullString

	err := rows.Scan(
		&a.AlertID, &a.OwnerID, &a.Symbol, &active, &userCreated, &a.Direction, &a.TargetType,
		&a.TargetValue, &a.BasePrice, &a.ChangePctThreshold, &changeTFMs,
		&a.MinDailyVolumeQuote, &countEnabled, &countTFMs, &a.MaxTriggersPerCandle,
		&a.Email, &a.ChatTarget, &a.Comment, &lastTriggeredMs, &countersJSON,
	)
	if err != nil {
		return nil, err
	}

	a.Active = active != 0
	a.UserCreated = userCreated != 0
	a.CountEnabled = countEnabled != 0
	a.ChangePctTimeframe = model.Timeframe(changeTFMs)
	a.CountTimeframe = model.Timeframe(countTFMs)
	if lastTriggeredMs.Valid {
		t := time.UnixMilli(lastTriggeredMs.Int64).UTC()
		a.LastTriggeredAt = &t
	}
	if countersJSON.Valid && countersJSON.String != "" {
		var counters map[string]*model.CandleCounter
		if err := json.Unmarshal([]byte(countersJSON.String), &counters); err == nil {
			a.PerTimeframeCounter = make(map[model.Timeframe]*model.CandleCounter, len(counters))
			for k, v := range counters {
				var tfMs int64
				fmt.Sscanf(k, "%d", &tfMs)
				a.PerTimeframeCounter[model.Timeframe(tfMs)] = v
			}
		}
	}
	return &a, nil
}

// SaveCounter persists the updated per-timeframe counter for an alert
// (§4.6's "counter update... committed together" requirement — performed
// after the idempotent TriggeredAlert insert per the synthetic-key order
// named there).
func (s *Store) SaveCounter(ctx context.Context, alertID string, tf model.Timeframe, c model.CandleCounter) error {
	counters, err := s.loadCounters(ctx, alertID)
	if err != nil {
		return err
	}
	if counters == nil {
		counters = make(map[string]*model.CandleCounter)
	}
	cc := c
	counters[fmt.Sprintf("%d", int64(tf))] = &cc

	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("sqlite: marshal counters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE alerts SET counters_json = ?, last_triggered_at_ms = ? WHERE alert_id = ?`,
		string(data), c.LastResetAt.UnixMilli(), alertID)
	if err != nil {
		return fmt.Errorf("sqlite: save counter: %w", err)
	}
	return nil
}

func (s *Store) loadCounters(ctx context.Context, alertID string) (map[string]*model.CandleCounter, error) {
	var countersJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT counters_json FROM alerts WHERE alert_id = ?`, alertID).Scan(&countersJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load counters: %w", err)
	}
	if !countersJSON.Valid || countersJSON.String == "" {
		return nil, nil
	}
	var counters map[string]*model.CandleCounter
	if err := json.Unmarshal([]byte(countersJSON.String), &counters); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal counters: %w", err)
	}
	return counters, nil
}

// MaxCountForCandle returns the highest recorded seq_in_candle for
// (alertID, candleOpenTimeMs); Insert uses it to number the next trigger.
func (s *Store) MaxCountForCandle(ctx context.Context, alertID string, candleOpenTimeMs int64) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq_in_candle) FROM triggered_alerts WHERE alert_id = ? AND candle_open_time_ms = ?
	`, alertID, candleOpenTimeMs).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("sqlite: max count for candle: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// ── model.TriggerStore ──

// Insert persists one TriggeredAlert, numbering it MAX(seq_in_candle)+1
// within its (alert, candle). A retry of the same event carries the same
// trigger_id, so INSERT OR IGNORE skips it on the trigger_id primary key
// and it is treated as already-recorded.
func (s *Store) Insert(ctx context.Context, t *model.TriggeredAlert) error {
	conditions, err := json.Marshal(t.Conditions)
	if err != nil {
		return fmt.Errorf("sqlite: marshal conditions: %w", err)
	}

	seq, err := s.MaxCountForCandle(ctx, t.AlertID, t.CandleOpenTimeMs)
	if err != nil {
		return err
	}
	seq++

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO triggered_alerts
			(trigger_id, alert_id, symbol, triggered_at_ms, price, base_price_used,
			 base_price_source, pct_change, volume24h, candle_open_time_ms, seq_in_candle, conditions_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TriggerID, t.AlertID, t.Symbol, t.TriggeredAtMs, t.Price, t.BasePriceUsed,
		string(t.BasePriceSource), t.PctChange, t.Volume24h, t.CandleOpenTimeMs, seq, string(conditions))
	if err != nil {
		return fmt.Errorf("sqlite: insert triggered_alert: %w", err)
	}
	return nil
}

// Close is required by model.TriggerStore; the Store's Close() above
// already covers it, this keeps both interfaces satisfied without a
// second connection.

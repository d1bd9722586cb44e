package validation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/database"
)

// Store persists shadow records so accumulated evidence survives restarts.
// Writes are idempotent upserts keyed by (decision timestamp, strategy,
// symbol): tracking the same decision twice, or finalizing a record after
// its initial insert, lands on the same row.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore opens the store and ensures its table exists.
func NewStore(db *database.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("component", "shadow_store").Logger(),
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS shadow_records (
		decision_ts TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		payload     TEXT NOT NULL,
		PRIMARY KEY (decision_ts, strategy_id, symbol)
	)`); err != nil {
		return nil, fmt.Errorf("failed to create shadow_records table: %w", err)
	}
	return s, nil
}

// Save upserts one record.
func (s *Store) Save(rec ShadowRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize shadow record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO shadow_records (decision_ts, strategy_id, symbol, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(decision_ts, strategy_id, symbol) DO UPDATE SET
			payload = excluded.payload`,
		rec.DecisionTS.UTC().Format(time.RFC3339Nano), rec.StrategyID, rec.Symbol, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save shadow record: %w", err)
	}
	return nil
}

// All returns every stored record in decision order.
func (s *Store) All() ([]ShadowRecord, error) {
	rows, err := s.db.Query(`SELECT payload FROM shadow_records ORDER BY decision_ts, strategy_id, symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to load shadow records: %w", err)
	}
	defer rows.Close()

	var records []ShadowRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec ShadowRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode shadow record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM shadow_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count shadow records: %w", err)
	}
	return n, nil
}

package snapshot

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/database"
	"github.com/wardenlabs/warden/internal/domain"
)

// ErrNotFound marks a date with no sealed snapshot.
var ErrNotFound = errors.New("snapshot not found")

// Store persists sealed snapshots in the ledger database. Records are
// write-once: re-saving a day is accepted only with identical bytes.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore opens the store and ensures its table exists.
func NewStore(db *database.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("component", "snapshot_store").Logger(),
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		date     TEXT PRIMARY KEY,
		payload  TEXT NOT NULL,
		checksum TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return s, nil
}

// Save writes a sealed record. Saving a day that is already sealed succeeds
// only when the payload is byte-identical; a divergent payload means the
// event log changed after sealing, which is an integrity violation. The
// check and the insert run in one transaction so concurrent sealers cannot
// race past the write-once rule.
func (s *Store) Save(sealed Sealed) error {
	if err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRow(`SELECT checksum FROM snapshots WHERE date = ?`, sealed.Snapshot.Date).Scan(&existing)
		switch {
		case err == nil:
			if existing == sealed.Checksum {
				return nil
			}
			return domain.NewIntegrityError(
				fmt.Sprintf("snapshot for %s already sealed with checksum %s, refusing %s",
					sealed.Snapshot.Date, existing[:12], sealed.Checksum[:12]))
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}

		_, err = tx.Exec(
			`INSERT INTO snapshots (date, payload, checksum) VALUES (?, ?, ?)`,
			sealed.Snapshot.Date, string(sealed.Payload), sealed.Checksum,
		)
		return err
	}); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", sealed.Snapshot.Date, err)
	}

	s.log.Debug().
		Str("date", sealed.Snapshot.Date).
		Str("checksum", sealed.Checksum[:12]).
		Msg("Snapshot persisted")
	return nil
}

// ByDate loads one day's sealed snapshot.
func (s *Store) ByDate(date string) (Sealed, error) {
	row := s.db.QueryRow(`SELECT payload, checksum FROM snapshots WHERE date = ?`, date)
	return scanSealed(row)
}

// Range loads every sealed snapshot in [start, end] inclusive, ordered by
// date.
func (s *Store) Range(start, end string) ([]Sealed, error) {
	rows, err := s.db.Query(
		`SELECT payload, checksum FROM snapshots WHERE date >= ? AND date <= ? ORDER BY date`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot range: %w", err)
	}
	defer rows.Close()

	var out []Sealed
	for rows.Next() {
		var payload, checksum string
		if err := rows.Scan(&payload, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		sealed, err := unseal(payload, checksum)
		if err != nil {
			return nil, err
		}
		out = append(out, sealed)
	}
	return out, rows.Err()
}

// Latest loads the most recent sealed snapshot.
func (s *Store) Latest() (Sealed, error) {
	row := s.db.QueryRow(`SELECT payload, checksum FROM snapshots ORDER BY date DESC LIMIT 1`)
	return scanSealed(row)
}

func scanSealed(row *sql.Row) (Sealed, error) {
	var payload, checksum string
	err := row.Scan(&payload, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return Sealed{}, ErrNotFound
	}
	if err != nil {
		return Sealed{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return unseal(payload, checksum)
}

// unseal verifies the checksum before trusting the payload.
func unseal(payload, checksum string) (Sealed, error) {
	sum := sha256.Sum256([]byte(payload))
	if hex.EncodeToString(sum[:]) != checksum {
		return Sealed{}, domain.NewIntegrityError("snapshot payload does not match its checksum")
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Sealed{}, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	return Sealed{Snapshot: snap, Payload: []byte(payload), Checksum: checksum}, nil
}

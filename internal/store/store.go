// Package store persists the three cache stores (raw primary, raw
// secondary, computed validation) in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kidscreen/internal/model"

	_ "modernc.org/sqlite"
)

// Logical store names recorded in the metadata table.
const (
	RawPrimary         = "raw_primary"
	RawSecondary       = "raw_secondary"
	ComputedValidation = "computed_validation"
)

// Meta describes one logical store's provenance.
type Meta struct {
	Exists        bool
	BuiltAt       time.Time
	SchemaVersion string
	BuildID       string
}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS raw_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		student_id TEXT NOT NULL,
		session_key TEXT NOT NULL DEFAULT '',
		submitted_at DATETIME NOT NULL,
		fetch_seq INTEGER NOT NULL,
		fields TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_raw_records_source ON raw_records(source);

	CREATE TABLE IF NOT EXISTS validation_entries (
		entry_key TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		entry TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_meta (
		store TEXT PRIMARY KEY,
		built_at DATETIME NOT NULL,
		schema_version TEXT NOT NULL DEFAULT '',
		build_id TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func rawStoreName(source model.SourceKind) string {
	if source == model.SourceSecondary {
		return RawSecondary
	}
	return RawPrimary
}

// ReplaceRawRecords atomically swaps one source's raw store contents and
// stamps its fetch time.
func (s *Store) ReplaceRawRecords(source model.SourceKind, builtAt time.Time, records []model.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM raw_records WHERE source = ?`, string(source)); err != nil {
		return err
	}
	for _, r := range records {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields for %s: %w", r.StudentID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO raw_records (source, student_id, session_key, submitted_at, fetch_seq, fields)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(source), r.StudentID, r.SessionKey, r.SubmittedAt, r.FetchSeq, string(fields),
		)
		if err != nil {
			return err
		}
	}
	if err := upsertMeta(tx, rawStoreName(source), builtAt, "", ""); err != nil {
		return err
	}
	return tx.Commit()
}

// RawRecords returns one source's raw store in fetch order.
func (s *Store) RawRecords(source model.SourceKind) ([]model.Record, error) {
	rows, err := s.db.Query(
		`SELECT student_id, session_key, submitted_at, fetch_seq, fields
		 FROM raw_records WHERE source = ? ORDER BY fetch_seq`, string(source),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r := model.Record{Source: source}
		var fields string
		if err := rows.Scan(&r.StudentID, &r.SessionKey, &r.SubmittedAt, &r.FetchSeq, &fields); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields for %s: %w", r.StudentID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReplaceValidation atomically swaps the computed-validation store. Entries
// are written whole; a reader sees either the previous complete state or the
// new one, never a partial mix.
func (s *Store) ReplaceValidation(entries map[string]model.ValidationCacheEntry, builtAt time.Time, schemaVersion, buildID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM validation_entries`); err != nil {
		return err
	}
	for key, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", key, err)
		}
		_, err = tx.Exec(
			`INSERT INTO validation_entries (entry_key, student_id, entry) VALUES (?, ?, ?)`,
			key, e.StudentID, string(data),
		)
		if err != nil {
			return err
		}
	}
	if err := upsertMeta(tx, ComputedValidation, builtAt, schemaVersion, buildID); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidationEntries returns all computed entries keyed as written.
func (s *Store) ValidationEntries() (map[string]model.ValidationCacheEntry, error) {
	rows, err := s.db.Query(`SELECT entry_key, entry FROM validation_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]model.ValidationCacheEntry)
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, err
		}
		var e model.ValidationCacheEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry %s: %w", key, err)
		}
		entries[key] = e
	}
	return entries, rows.Err()
}

// Meta returns one logical store's provenance stamp.
func (s *Store) Meta(store string) (Meta, error) {
	var m Meta
	err := s.db.QueryRow(
		`SELECT built_at, schema_version, build_id FROM store_meta WHERE store = ?`, store,
	).Scan(&m.BuiltAt, &m.SchemaVersion, &m.BuildID)
	if err == sql.ErrNoRows {
		return Meta{}, nil
	}
	if err != nil {
		return Meta{}, err
	}
	m.Exists = true
	return m, nil
}

// PurgeAll deletes all three stores in one transaction. A partial purge is
// never observable.
func (s *Store) PurgeAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM raw_records`,
		`DELETE FROM validation_entries`,
		`DELETE FROM store_meta`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertMeta(tx *sql.Tx, store string, builtAt time.Time, schemaVersion, buildID string) error {
	_, err := tx.Exec(
		`INSERT INTO store_meta (store, built_at, schema_version, build_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(store) DO UPDATE SET built_at = ?, schema_version = ?, build_id = ?`,
		store, builtAt, schemaVersion, buildID, builtAt, schemaVersion, buildID,
	)
	return err
}

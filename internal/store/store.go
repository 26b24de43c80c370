package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eggpi/similarity/internal/whitelist"
	_ "modernc.org/sqlite"
)

const whitelistKey = "urls-whitelist"

// Store persists user settings in a small SQLite key/value table.
type Store struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating settings dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	s := &Store{writeDB: writeDB}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}

	// The read handle is opened after the schema exists; mode=ro cannot create it.
	readDB, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}
	s.readDB = readDB
	return s, nil
}

func (s *Store) init() error {
	_, err := s.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	return errors.Join(errs...)
}

// LoadWhitelist returns the saved rules, or the default rules if none were saved.
func (s *Store) LoadWhitelist() ([]string, error) {
	value, err := s.getMeta(whitelistKey)
	if errors.Is(err, sql.ErrNoRows) {
		return whitelist.DefaultRules(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading whitelist: %w", err)
	}

	var rules []string
	if err := json.Unmarshal([]byte(value), &rules); err != nil {
		return nil, fmt.Errorf("decoding whitelist: %w", err)
	}
	if rules == nil {
		rules = []string{}
	}
	return rules, nil
}

func (s *Store) SaveWhitelist(rules []string) error {
	if rules == nil {
		rules = []string{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding whitelist: %w", err)
	}
	if err := s.setMeta(whitelistKey, string(data)); err != nil {
		return fmt.Errorf("saving whitelist: %w", err)
	}
	return nil
}

// ResetWhitelist stores the default rules and returns them.
func (s *Store) ResetWhitelist() ([]string, error) {
	rules := whitelist.DefaultRules()
	if err := s.SaveWhitelist(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// UpdatedAt returns when the whitelist was last saved. ok is false if it never was.
func (s *Store) UpdatedAt() (t time.Time, ok bool, err error) {
	err = s.readDB.QueryRow("SELECT updated_at FROM meta WHERE key = ?", whitelistKey).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *Store) getMeta(key string) (string, error) {
	var value string
	err := s.readDB.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	return value, err
}

func (s *Store) setMeta(key, value string) error {
	_, err := s.writeDB.Exec(`
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

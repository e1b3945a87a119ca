package gateway

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Contact kinds persisted in the store.
const (
	contactKindUsername = "username"
	contactKindPhone    = "phone"
)

// ContactStore persists resolved contacts next to the Telegram database
// so the cache survives restarts. All access happens on the dispatcher
// goroutine.
type ContactStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenContactStore creates or opens the contact database under dir with
// WAL mode enabled.
func OpenContactStore(dir string, logger *slog.Logger) (*ContactStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating contact store directory: %w", err)
	}

	dbPath := filepath.Join(dir, "contacts.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening contact store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging contact store: %w", err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS contacts (
		kind        TEXT    NOT NULL,
		key         TEXT    NOT NULL,
		user_id     INTEGER NOT NULL,
		resolved_at TEXT    NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (kind, key)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating contacts table: %w", err)
	}

	logger.Info("contact store opened", "path", dbPath)
	return &ContactStore{db: db, logger: logger.With("subsystem", "contact-store")}, nil
}

// Load returns every persisted contact, keyed by kind.
func (s *ContactStore) Load() (usernames, phones map[string]int64, err error) {
	rows, err := s.db.Query(`SELECT kind, key, user_id FROM contacts`)
	if err != nil {
		return nil, nil, fmt.Errorf("loading contacts: %w", err)
	}
	defer rows.Close()

	usernames = make(map[string]int64)
	phones = make(map[string]int64)
	for rows.Next() {
		var kind, key string
		var userID int64
		if err := rows.Scan(&kind, &key, &userID); err != nil {
			return nil, nil, fmt.Errorf("scanning contact: %w", err)
		}
		switch kind {
		case contactKindUsername:
			usernames[key] = userID
		case contactKindPhone:
			phones[key] = userID
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("loading contacts: %w", err)
	}
	return usernames, phones, nil
}

// Put inserts or refreshes one resolved contact.
func (s *ContactStore) Put(kind, key string, userID int64) error {
	_, err := s.db.Exec(`INSERT INTO contacts (kind, key, user_id) VALUES (?, ?, ?)
		ON CONFLICT (kind, key) DO UPDATE SET user_id = excluded.user_id, resolved_at = datetime('now')`,
		kind, key, userID)
	if err != nil {
		return fmt.Errorf("storing %s contact: %w", kind, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *ContactStore) Close() error {
	return s.db.Close()
}

package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/seealln/seealln/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const auditDBName = "audit.db"

// AuditStore implements domain.AuditSink with a SQLCipher-encrypted
// SQLite database. The trail records what was on the operator's
// screen, so it gets the same at-rest protection as any capture.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens (or creates) the encrypted audit database. The
// key is applied as the SQLCipher passphrase.
func NewAuditStore(dataDir string, key []byte) (*AuditStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, auditDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to audit database: %w", err)
	}

	store := &AuditStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *AuditStore) createTables() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS actions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		at          INTEGER NOT NULL,
		intent      TEXT NOT NULL,
		kind        TEXT NOT NULL,
		description TEXT NOT NULL,
		sensitivity TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS gates (
		id          TEXT PRIMARY KEY,
		at          INTEGER NOT NULL,
		state       TEXT NOT NULL,
		description TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create audit tables: %w", err)
	}
	return nil
}

// RecordAction persists one approved, injected action.
func (s *AuditStore) RecordAction(action domain.ActionStep) error {
	_, err := s.db.Exec(
		`INSERT INTO actions (at, intent, kind, description, sensitivity) VALUES (?, ?, ?, ?, ?)`,
		time.Now().Unix(), action.Intent, string(action.Kind), action.Describe(), string(action.Sensitivity),
	)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// RecordGate persists a gate's terminal resolution. Replays of the
// same gate ID (resolve then expiry race) keep the first record.
func (s *AuditStore) RecordGate(gate domain.ConfirmationGate) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO gates (id, at, state, description) VALUES (?, ?, ?, ?)`,
		gate.ID, time.Now().Unix(), string(gate.State), gate.Action.Describe(),
	)
	if err != nil {
		return fmt.Errorf("record gate: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

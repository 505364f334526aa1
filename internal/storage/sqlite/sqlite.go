package sqlite

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// RoomRecord is the persisted form of a groupchat room: identity plus
// the last-known session status so rooms can be rejoined after a
// restart.
type RoomRecord struct {
	JID       string `db:"jid"`
	Nick      string `db:"nick"`
	Password  string `db:"password"`
	Status    string `db:"status"`
	UpdatedAt int64  `db:"updated_at"`
}

// DB wraps the sqlite database
type DB struct {
	db *sqlx.DB
}

// New opens (and migrates) the database under dataDir
func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "caucus.db")

	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			jid TEXT PRIMARY KEY,
			nick TEXT NOT NULL,
			password TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'disconnected',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status)`,

		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRoom inserts or replaces a room record
func (d *DB) SaveRoom(rec RoomRecord) error {
	rec.UpdatedAt = time.Now().Unix()
	_, err := d.db.NamedExec(`INSERT INTO rooms (jid, nick, password, status, updated_at)
		VALUES (:jid, :nick, :password, :status, :updated_at)
		ON CONFLICT(jid) DO UPDATE SET
			nick = excluded.nick,
			password = excluded.password,
			status = excluded.status,
			updated_at = excluded.updated_at`, rec)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", rec.JID, err)
	}
	return nil
}

// DeleteRoom removes a room record
func (d *DB) DeleteRoom(roomJID string) error {
	if _, err := d.db.Exec(`DELETE FROM rooms WHERE jid = ?`, roomJID); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomJID, err)
	}
	return nil
}

// LoadRooms returns every persisted room record
func (d *DB) LoadRooms() ([]RoomRecord, error) {
	var recs []RoomRecord
	if err := d.db.Select(&recs, `SELECT jid, nick, password, status, updated_at FROM rooms ORDER BY jid`); err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	return recs, nil
}

// UpdateStatus records the last-known session status for a room
func (d *DB) UpdateStatus(roomJID, status string) error {
	_, err := d.db.Exec(`UPDATE rooms SET status = ?, updated_at = ? WHERE jid = ?`,
		status, time.Now().Unix(), roomJID)
	if err != nil {
		return fmt.Errorf("failed to update room status %s: %w", roomJID, err)
	}
	return nil
}

// SetAppState stores a key/value pair
func (d *DB) SetAppState(key, value string) error {
	_, err := d.db.Exec(`INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetAppState reads a key/value pair
func (d *DB) GetAppState(key string) (string, error) {
	var value string
	err := d.db.Get(&value, `SELECT value FROM app_state WHERE key = ?`, key)
	if err != nil {
		return "", err
	}
	return value, nil
}

// Vacuum compacts the database
func (d *DB) Vacuum() error {
	_, err := d.db.Exec(`VACUUM`)
	return err
}

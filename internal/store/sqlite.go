package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/akazantsev/relaychat/internal/domain"
	"github.com/akazantsev/relaychat/internal/shared"
	_ "modernc.org/sqlite"
)

// Slot names for the two identity fields.
const (
	slotUserID    = "user_id"
	slotSecretKey = "secret_key"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS identity (
		slot TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadCredential retrieves the stored credential.
// Both slots must be present and non-empty; anything less is treated as
// "no existing identity" so a torn write can never produce a half-valid
// credential.
func (s *SQLiteStore) LoadCredential(ctx context.Context) (*domain.Credential, error) {
	query := `SELECT slot, value FROM identity WHERE slot IN (?, ?)`

	rows, err := s.db.QueryContext(ctx, query, slotUserID, slotSecretKey)
	if err != nil {
		return nil, fmt.Errorf("query identity slots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cred domain.Credential
	for rows.Next() {
		var slot, value string
		if err := rows.Scan(&slot, &value); err != nil {
			return nil, fmt.Errorf("scan identity slot: %w", err)
		}
		switch slot {
		case slotUserID:
			cred.UserID = value
		case slotSecretKey:
			cred.SecretKey = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity slots: %w", err)
	}

	if !cred.Valid() {
		return nil, nil
	}
	return &cred, nil
}

// SaveCredential writes both credential slots inside one transaction.
func (s *SQLiteStore) SaveCredential(ctx context.Context, cred domain.Credential) error {
	if !cred.Valid() {
		return fmt.Errorf("refusing to persist incomplete credential")
	}

	return shared.RetryOnConflict(3, 100*time.Millisecond, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin identity transaction: %w", err)
		}

		now := time.Now().Unix()
		upsert := `
			INSERT INTO identity (slot, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

		for slot, value := range map[string]string{
			slotUserID:    cred.UserID,
			slotSecretKey: cred.SecretKey,
		} {
			if _, err := tx.ExecContext(ctx, upsert, slot, value, now); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("write identity slot %s: %w", slot, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit identity transaction: %w", err)
		}
		return nil
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

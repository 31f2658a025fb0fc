package db

import (
	"database/sql"
	"fmt"
	"time"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// SaveAttributes replaces the stored attributes of one thermostat.
func SaveAttributes(db *sql.DB, name string, attrs map[string]any) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := SaveAttributesWithTx(tx, name, attrs); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func SaveAttributesWithTx(tx *sql.Tx, name string, attrs map[string]any) error {
	body, err := marshalJSON(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO thermostat_state (name, attributes, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET attributes = excluded.attributes, updated_at = excluded.updated_at`,
		name, body, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save attributes: %w", err)
	}
	return nil
}

func ClearAttributes(db *sql.DB, name string) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM thermostat_state WHERE name = ?`, name); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("clear attributes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM events WHERE thermostat = ?`, name); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("clear events: %w", err)
	}
	return CommitTransaction(tx)
}

func RecordEvent(db *sql.DB, thermostat, title, message string, at time.Time) error {
	_, err := db.Exec(`INSERT INTO events (thermostat, title, message, created_at) VALUES (?, ?, ?, ?)`,
		thermostat, title, message, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

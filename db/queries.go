package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type StoredState struct {
	Name       string
	Attributes map[string]any
	UpdatedAt  time.Time
}

type Event struct {
	ID         int64
	Thermostat string
	Title      string
	Message    string
	CreatedAt  time.Time
}

// LoadAttributes returns the saved attributes of a thermostat, or nil when
// nothing has been saved yet.
func LoadAttributes(db *sql.DB, name string) (map[string]any, error) {
	var body string
	err := db.QueryRow(`SELECT attributes FROM thermostat_state WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attributes: %w", err)
	}

	var attrs map[string]any
	if err := json.Unmarshal([]byte(body), &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes for %s: %w", name, err)
	}
	return attrs, nil
}

func ListStates(db *sql.DB) ([]StoredState, error) {
	rows, err := db.Query(`SELECT name, attributes, updated_at FROM thermostat_state ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var states []StoredState
	for rows.Next() {
		var s StoredState
		var body, updated string
		if err := rows.Scan(&s.Name, &body, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &s.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for %s: %w", s.Name, err)
		}
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		states = append(states, s)
	}
	return states, rows.Err()
}

// ListEvents returns the most recent events of a thermostat, newest first.
func ListEvents(db *sql.DB, thermostat string, limit int) ([]Event, error) {
	rows, err := db.Query(`SELECT id, thermostat, title, message, created_at FROM events
		WHERE thermostat = ? ORDER BY id DESC LIMIT ?`, thermostat, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.Thermostat, &e.Title, &e.Message, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		events = append(events, e)
	}
	return events, rows.Err()
}

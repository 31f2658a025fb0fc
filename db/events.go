package db

import (
	"database/sql"
	"time"
)

// EventLog records thermostat notifications in the events table. It
// satisfies the notifier interface so it can sit next to ntfy and Kafka.
type EventLog struct {
	db         *sql.DB
	thermostat string
	now        func() time.Time
}

func NewEventLog(db *sql.DB, thermostat string) *EventLog {
	return &EventLog{db: db, thermostat: thermostat, now: time.Now}
}

func (l *EventLog) Send(title, message string) error {
	return RecordEvent(l.db, l.thermostat, title, message, l.now())
}

// Recent returns up to limit events, newest first.
func (l *EventLog) Recent(limit int) ([]Event, error) {
	return ListEvents(l.db, l.thermostat, limit)
}

package startup

import (
	"database/sql"

	"github.com/thatsimonsguy/universal-thermostat/db"
	"github.com/thatsimonsguy/universal-thermostat/internal/store"
)

// AttributeStore persists the thermostat's restart attributes.
type AttributeStore interface {
	Load() (map[string]any, error)
	Save(attrs map[string]any) error
}

// DBStore keeps one thermostat's attributes in the SQLite database.
type DBStore struct {
	DB   *sql.DB
	Name string
}

func (s DBStore) Load() (map[string]any, error) {
	return db.LoadAttributes(s.DB, s.Name)
}

func (s DBStore) Save(attrs map[string]any) error {
	return db.SaveAttributes(s.DB, s.Name, attrs)
}

// FileStore keeps the attributes in a JSON file.
func FileStore(path string) AttributeStore {
	return store.New(path)
}

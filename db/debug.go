package db

import (
	"encoding/json"
	"fmt"
	"io"
)

func DumpCLI(dbPath string, w io.Writer, events int) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	states, err := ListStates(dbConn)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(w, "no saved thermostat state")
		return nil
	}
	for _, s := range states {
		body, err := json.MarshalIndent(s.Attributes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (saved %s)\n%s\n", s.Name, s.UpdatedAt.Format("2006-01-02 15:04:05"), body)

		evs, err := ListEvents(dbConn, s.Name, events)
		if err != nil {
			return err
		}
		for _, e := range evs {
			fmt.Fprintf(w, "  %s  %s: %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Title, e.Message)
		}
	}
	return nil
}

func ClearCLI(dbPath, name string) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return ClearAttributes(dbConn, name)
}

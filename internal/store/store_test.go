package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data", "state.json"))

	attrs, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, attrs)

	require.NoError(t, s.Save(map[string]any{
		"state":            "auto",
		"temperature":      20.5,
		"last_active_hvac": "auto",
	}))
	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	attrs, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, "auto", attrs["state"])
	assert.Equal(t, 20.5, attrs["temperature"])
}

func TestStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := New(path).Load()
	assert.Error(t, err)
}

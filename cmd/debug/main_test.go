package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/universal-thermostat/db"
)

const testConfig = `
sensor:
  entity_id: sensor.office
controllers:
  - name: radiator
    kind: switch
    side: heat
    entity_id: switch.radiator
gpio:
  pins:
    - entity_id: switch.radiator
      pin: 17
      active_high: true
`

func TestDebugCLI_Help(t *testing.T) {
	assert.Equal(t, 0, DebugCLI(nil))
	assert.Equal(t, 2, DebugCLI([]string{"-bogus"}))
	assert.Equal(t, 1, DebugCLI([]string{"-cmd", "reboot"}))
}

func TestDebugCLI_DumpAndClear(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "thermostat.db")
	conn, err := db.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.SaveAttributes(conn, "office", map[string]any{"hvac_mode": "heat"}))
	require.NoError(t, conn.Close())

	assert.Equal(t, 0, DebugCLI([]string{"-db", dbPath, "-cmd", "dump"}))
	assert.Equal(t, 1, DebugCLI([]string{"-db", dbPath, "-cmd", "clear"}))
	assert.Equal(t, 0, DebugCLI([]string{"-db", dbPath, "-cmd", "clear", "-name", "office"}))

	conn, err = db.Open(dbPath)
	require.NoError(t, err)
	defer conn.Close()
	attrs, err := db.LoadAttributes(conn, "office")
	require.NoError(t, err)
	assert.Nil(t, attrs)
}

func TestDebugCLI_Config(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "init.sh")
	path := filepath.Join(dir, "config.yaml")
	body := testConfig + "  boot_script_path: " + script + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	assert.Equal(t, 0, DebugCLI([]string{"-config-file", path, "-cmd", "check-config"}))
	assert.Equal(t, 0, DebugCLI([]string{"-config-file", path, "-cmd", "write-boot-script"}))

	written, err := os.ReadFile(script)
	require.NoError(t, err)
	assert.Contains(t, string(written), "pinctrl set 17 op pn dl")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("controllers: []\n"), 0o644))
	assert.Equal(t, 1, DebugCLI([]string{"-config-file", bad, "-cmd", "check-config"}))
}

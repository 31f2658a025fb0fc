package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/universal-thermostat/internal/config"
	"github.com/thatsimonsguy/universal-thermostat/internal/pinctrl"
)

// BootScript renders a shell script that drives every relay pin to its
// inactive level.
func BootScript(cfg config.GPIO) string {
	lines := []string{"#!/bin/bash", "", "# Thermostat relay configuration at boot", ""}
	for _, p := range cfg.Pins {
		lines = append(lines,
			fmt.Sprintf("# %s", p.EntityID),
			fmt.Sprintf("pinctrl set %d %s", p.Pin, strings.Join(pinctrl.DriveArgs(p.ActiveHigh, false), " ")),
			"",
		)
	}
	return strings.Join(lines, "\n") + "\n"
}

func WriteStartupScript(cfg config.GPIO) error {
	if err := os.MkdirAll(filepath.Dir(cfg.BootScriptPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(cfg.BootScriptPath, []byte(BootScript(cfg)), 0o755)
}

func InstallStartupService(cfg config.GPIO) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure thermostat relay pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, cfg.BootScriptPath)

	return os.WriteFile(cfg.OSServicePath, []byte(unitContents), 0o644)
}

func RunStartupScript(cfg config.GPIO) error {
	cmd := exec.Command("/bin/bash", cfg.BootScriptPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// MainServiceUnit renders the systemd unit of the thermostat itself. It
// starts after the relay init unit.
func MainServiceUnit(cfg config.GPIO, configFile string) string {
	gpioUnitName := filepath.Base(cfg.OSServicePath)

	var service []string
	if cfg.ServiceUser != "" {
		service = append(service, "User="+cfg.ServiceUser)
	}
	if cfg.ServiceWorkdir != "" {
		service = append(service, "WorkingDirectory="+cfg.ServiceWorkdir)
	}
	execStart := cfg.ServiceExecStart
	if configFile != "" {
		execStart += " -config-file " + configFile
	}

	return fmt.Sprintf(`[Unit]
Description=Universal thermostat
After=%s
Requires=%s

[Service]
Type=simple
%s
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, strings.Join(service, "\n"), execStart)
}

func InstallHVACService(cfg config.GPIO, configFile string) error {
	return os.WriteFile(cfg.MainServicePath, []byte(MainServiceUnit(cfg, configFile)), 0o644)
}

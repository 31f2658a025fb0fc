package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/universal-thermostat/db"
	"github.com/thatsimonsguy/universal-thermostat/internal/config"
	"github.com/thatsimonsguy/universal-thermostat/system/startup"
)

func main() {
	os.Exit(DebugCLI(os.Args[1:]))
}

func DebugCLI(args []string) int {
	fs := flag.NewFlagSet("thermostat-debug", flag.ContinueOnError)
	var dbPath, configFile, command, name string
	var events int
	fs.StringVar(&dbPath, "db", "data/thermostat.db", "Path to the SQLite database file")
	fs.StringVar(&configFile, "config-file", "config.yaml", "Path to the thermostat config file")
	fs.StringVar(&command, "cmd", "", "Command to run: dump, clear, check-config, write-boot-script, install-units")
	fs.StringVar(&name, "name", "", "Thermostat name for clear")
	fs.IntVar(&events, "events", 10, "Number of events to show per thermostat in dump")
	help := fs.Bool("help", false, "Show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *help || command == "" {
		fmt.Println("\nUsage of thermostat-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/thermostat.db')")
		fmt.Println("  -config-file string\tPath to the thermostat config file (default 'config.yaml')")
		fmt.Println("  -cmd string\tCommand to run: dump, clear, check-config, write-boot-script, install-units")
		fmt.Println("  -name string\tThermostat name for clear")
		fmt.Println("  -events int\tNumber of events to show per thermostat in dump")
		fmt.Println("  -help\tShow this help message")
		return 0
	}

	var err error
	switch command {
	case "dump":
		err = db.DumpCLI(dbPath, os.Stdout, events)
	case "clear":
		if name == "" {
			fmt.Println("Error: thermostat name is required")
			return 1
		}
		err = db.ClearCLI(dbPath, name)
	case "check-config":
		_, err = config.LoadFile(configFile, os.Environ)
	case "write-boot-script":
		var cfg config.Config
		if cfg, err = config.LoadFile(configFile, os.Environ); err == nil {
			err = startup.WriteStartupScript(cfg.GPIO)
		}
	case "install-units":
		var cfg config.Config
		if cfg, err = config.LoadFile(configFile, os.Environ); err == nil {
			err = installUnits(cfg, configFile)
		}
	default:
		fmt.Println("Invalid command")
		return 1
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		return 1
	}
	fmt.Printf("Command %s completed successfully\n", command)
	return 0
}

func installUnits(cfg config.Config, configFile string) error {
	if err := startup.WriteStartupScript(cfg.GPIO); err != nil {
		return err
	}
	if err := startup.InstallStartupService(cfg.GPIO); err != nil {
		return err
	}
	return startup.InstallHVACService(cfg.GPIO, configFile)
}

package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/preset"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

// EnvPrefix marks environment overrides: UT_MQTT_BROKER_URL sets
// mqtt.broker_url.
const EnvPrefix = "UT_"

const (
	KindSwitch        = "switch"
	KindClimateSwitch = "climate_switch"
	KindClimatePID    = "climate_pid"
	KindNumberPID     = "number_pid"
	KindPWM           = "pwm"
)

type Thermostat struct {
	Name             string   `koanf:"name"`
	MinTemp          *float64 `koanf:"min_temp"`
	MaxTemp          *float64 `koanf:"max_temp"`
	Precision        *float64 `koanf:"precision"`
	TargetTempStep   *float64 `koanf:"target_temp_step"`
	HeatCoolDisabled bool     `koanf:"heat_cool_disabled"`
	AutoHeatDelta    string   `koanf:"auto_heat_delta"`
	AutoCoolDelta    string   `koanf:"auto_cool_delta"`
}

// Sensor is the room temperature entity and its spike filter.
type Sensor struct {
	EntityID     string  `koanf:"entity_id"`
	MaxDelta     float64 `koanf:"max_delta"`
	MaxAnomalies int     `koanf:"max_anomalies"`
}

// Controller describes one heat or cool controller. Which fields apply
// depends on Kind; templated parameters accept a number or an expression.
type Controller struct {
	Name          string        `koanf:"name"`
	Kind          string        `koanf:"kind"`
	Side          string        `koanf:"side"`
	EntityID      string        `koanf:"entity_id"`
	Inverted      bool          `koanf:"inverted"`
	KeepAlive     time.Duration `koanf:"keep_alive"`
	IgnoreWindows bool          `koanf:"ignore_windows"`

	ColdTolerance    string        `koanf:"cold_tolerance"`
	HotTolerance     string        `koanf:"hot_tolerance"`
	MinCycleDuration time.Duration `koanf:"min_cycle_duration"`
	TargetTempDelta  string        `koanf:"target_temp_delta"`

	Kp           string        `koanf:"kp"`
	Ki           string        `koanf:"ki"`
	Kd           string        `koanf:"kd"`
	SamplePeriod time.Duration `koanf:"pid_sample_period"`
	OutputMin    string        `koanf:"output_min"`
	OutputMax    string        `koanf:"output_max"`
	PWMPeriod    time.Duration `koanf:"pwm_period"`

	SwitchEntityID string `koanf:"switch_entity_id"`
	SwitchInverted bool   `koanf:"switch_inverted"`
}

type Window struct {
	EntityID string `koanf:"entity_id"`
	Timeout  string `koanf:"timeout"`
	Inverted bool   `koanf:"inverted"`
}

type MQTT struct {
	Enabled   bool   `koanf:"enabled"`
	BrokerURL string `koanf:"broker_url"`
	ClientID  string `koanf:"client_id"`
	BaseTopic string `koanf:"base_topic"`
	QoS       byte   `koanf:"qos"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// ModbusPoint maps an entity onto a coil (switches) or a holding register
// (numbers). Scale converts between the register and the entity value.
type ModbusPoint struct {
	EntityID string  `koanf:"entity_id"`
	Type     string  `koanf:"type"`
	Address  uint16  `koanf:"address"`
	Scale    float64 `koanf:"scale"`
}

type Modbus struct {
	Enabled      bool          `koanf:"enabled"`
	Addr         string        `koanf:"addr"`
	UnitID       byte          `koanf:"unit_id"`
	Timeout      time.Duration `koanf:"timeout"`
	PollInterval time.Duration `koanf:"poll_interval"`
	Points       []ModbusPoint `koanf:"points"`
}

type GPIOPin struct {
	EntityID   string `koanf:"entity_id"`
	Pin        int    `koanf:"pin"`
	ActiveHigh bool   `koanf:"active_high"`
}

type GPIO struct {
	Enabled           bool      `koanf:"enabled"`
	SafeMode          bool      `koanf:"safe_mode"`
	Pins              []GPIOPin `koanf:"pins"`
	BootScriptPath    string    `koanf:"boot_script_path"`
	OSServicePath     string    `koanf:"os_service_path"`
	MainServicePath   string    `koanf:"main_service_path"`
	ServiceUser       string    `koanf:"service_user"`
	ServiceWorkdir    string    `koanf:"service_workdir"`
	ServiceExecStart  string    `koanf:"service_exec_start"`
	ValidateOnStartup bool      `koanf:"validate_on_startup"`
}

type API struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type Datadog struct {
	Enabled   bool     `koanf:"enabled"`
	AgentAddr string   `koanf:"agent_addr"`
	Namespace string   `koanf:"namespace"`
	Tags      []string `koanf:"tags"`
}

type Ntfy struct {
	Topic  string `koanf:"topic"`
	Server string `koanf:"server"`
}

type Kafka struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type Config struct {
	ConfigFile string        `koanf:"-"`
	DBPath     string        `koanf:"-"`
	LogLevel   zerolog.Level `koanf:"-"`

	LogFile   string `koanf:"log_file"`
	StateFile string `koanf:"state_file"`

	Thermostat  Thermostat               `koanf:"thermostat"`
	Sensor      Sensor                   `koanf:"sensor"`
	Controllers []Controller             `koanf:"controllers"`
	Windows     []Window                 `koanf:"windows"`
	Presets     map[string]preset.Preset `koanf:"presets"`

	MQTT    MQTT    `koanf:"mqtt"`
	Modbus  Modbus  `koanf:"modbus"`
	GPIO    GPIO    `koanf:"gpio"`
	API     API     `koanf:"api"`
	Datadog Datadog `koanf:"datadog"`
	Ntfy    Ntfy    `koanf:"ntfy"`
	Kafka   Kafka   `koanf:"kafka"`
}

// Default returns the settings used for anything the config file omits.
func Default() Config {
	return Config{
		StateFile:  "data/state.json",
		Thermostat: Thermostat{Name: "thermostat"},
		MQTT: MQTT{
			ClientID:  "universal-thermostat",
			BaseTopic: "thermostat",
			QoS:       1,
		},
		Modbus: Modbus{
			UnitID:       1,
			Timeout:      2 * time.Second,
			PollInterval: 5 * time.Second,
		},
		GPIO: GPIO{
			BootScriptPath:   "/usr/local/bin/thermostat-gpio-init.sh",
			OSServicePath:    "/etc/systemd/system/thermostat-gpio-init.service",
			MainServicePath:  "/etc/systemd/system/universal-thermostat.service",
			ServiceExecStart: "/usr/local/bin/universal-thermostat",
		},
		API:     API{Enabled: true, Addr: ":8080"},
		Datadog: Datadog{AgentAddr: "127.0.0.1:8125", Namespace: "thermostat."},
		Ntfy:    Ntfy{Server: "https://ntfy.sh"},
	}
}

// Load parses the command line, then layers defaults, the config file and
// UT_ environment variables, in that order.
func Load(args []string, environ func() []string) (Config, error) {
	fs := flag.NewFlagSet("universal-thermostat", flag.ContinueOnError)
	var configFile, dbPath, logLevel string
	fs.StringVar(&configFile, "config-file", "config.yaml", "Path to the thermostat config file (yaml or json)")
	fs.StringVar(&dbPath, "db", "data/thermostat.db", "Path to the SQLite database file")
	fs.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := LoadFile(configFile, environ)
	if err != nil {
		return Config{}, err
	}
	cfg.ConfigFile = configFile
	cfg.DBPath = dbPath
	cfg.LogLevel = parseLogLevel(logLevel)
	return cfg, nil
}

// LoadFile reads one config file; a missing file leaves the defaults in
// place.
func LoadFile(path string, environ func() []string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	envOpt := env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			return envKey(k), v
		},
		EnvironFunc: environ,
	}
	if err := k.Load(env.Provider(".", envOpt), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// sections are the top level keys whose children can be set from the
// environment.
var sections = []string{"thermostat", "sensor", "mqtt", "modbus", "gpio", "api", "datadog", "ntfy", "kafka"}

func envKey(k string) string {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(k, s+"_"); ok {
			return s + "." + rest
		}
	}
	return k
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Validate reports every problem in the config at once.
func (cfg *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	checkTemplate := func(field, src string) {
		if src == "" {
			return
		}
		if _, err := template.Parse(src); err != nil {
			add("%s: %w", field, err)
		}
	}

	t := cfg.Thermostat
	if t.MinTemp != nil && t.MaxTemp != nil && *t.MinTemp >= *t.MaxTemp {
		add("thermostat: min_temp %.1f must be below max_temp %.1f", *t.MinTemp, *t.MaxTemp)
	}
	checkTemplate("thermostat.auto_heat_delta", t.AutoHeatDelta)
	checkTemplate("thermostat.auto_cool_delta", t.AutoCoolDelta)

	if cfg.Sensor.EntityID == "" {
		add("sensor.entity_id is required")
	}
	if len(cfg.Controllers) == 0 {
		add("at least one controller is required")
	}

	seen := map[string]bool{}
	for i, c := range cfg.Controllers {
		field := fmt.Sprintf("controllers[%d]", i)
		if c.Name != "" {
			field = fmt.Sprintf("controllers[%d] (%s)", i, c.Name)
		}
		if c.Name == "" {
			add("%s: name is required", field)
		}
		side, err := model.ParseSide(c.Side)
		if err != nil {
			add("%s: %w", field, err)
		} else if key := string(side) + "/" + c.Name; seen[key] {
			add("%s: duplicate %s controller", field, side)
		} else {
			seen[key] = true
		}
		if c.EntityID == "" {
			add("%s: entity_id is required", field)
		}
		switch c.Kind {
		case KindSwitch, KindClimateSwitch, KindClimatePID:
		case KindNumberPID:
			if c.OutputMin == "" || c.OutputMax == "" {
				add("%s: number_pid needs output_min and output_max", field)
			}
		case KindPWM:
			if c.PWMPeriod <= 0 {
				add("%s: pwm needs a positive pwm_period", field)
			}
		default:
			add("%s: unknown kind %q", field, c.Kind)
		}
		for name, src := range map[string]string{
			"cold_tolerance":    c.ColdTolerance,
			"hot_tolerance":     c.HotTolerance,
			"target_temp_delta": c.TargetTempDelta,
			"kp":                c.Kp,
			"ki":                c.Ki,
			"kd":                c.Kd,
			"output_min":        c.OutputMin,
			"output_max":        c.OutputMax,
		} {
			checkTemplate(field+"."+name, src)
		}
	}

	for i, w := range cfg.Windows {
		if w.EntityID == "" {
			add("windows[%d]: entity_id is required", i)
		}
		checkTemplate(fmt.Sprintf("windows[%d].timeout", i), w.Timeout)
	}

	for name := range cfg.Presets {
		if name == "" || name == model.PresetNone {
			add("presets: %q is a reserved name", name)
		}
	}

	if cfg.MQTT.Enabled && cfg.MQTT.BrokerURL == "" {
		add("mqtt: broker_url is required when enabled")
	}
	if cfg.Modbus.Enabled {
		if cfg.Modbus.Addr == "" {
			add("modbus: addr is required when enabled")
		}
		for i, p := range cfg.Modbus.Points {
			if p.EntityID == "" {
				add("modbus.points[%d]: entity_id is required", i)
			}
			if p.Type != "coil" && p.Type != "holding" {
				add("modbus.points[%d]: type must be coil or holding, got %q", i, p.Type)
			}
		}
	}

	usedPins := map[int]string{}
	for i, p := range cfg.GPIO.Pins {
		if p.EntityID == "" {
			add("gpio.pins[%d]: entity_id is required", i)
		}
		if other, ok := usedPins[p.Pin]; ok {
			add("gpio: %s and %s both use pin %d", p.EntityID, other, p.Pin)
			continue
		}
		usedPins[p.Pin] = p.EntityID
	}

	return errors.Join(errs...)
}

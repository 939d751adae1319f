package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SourceSimulator = "simulator"

	DefaultEnvPrefix       = "BMSMON"
	DefaultSource          = SourceSimulator
	DefaultInterval        = time.Second
	DefaultRefreshInterval = time.Second
	DefaultFetchTimeout    = 5 * time.Second
	DefaultCellInterval    = 1
	DefaultLogLevel        = "info"
	DefaultListen          = "127.0.0.1:9130"
	DefaultHistoryDBPath   = "/var/lib/bmsmon/history.db"
	DefaultBatchSize       = 10
	DefaultBatchTimeout    = 30
	DefaultSimulatorCells  = 16

	configName = "bmsmon"
	configType = "toml"
)

type Config struct {
	Source string
	Device DeviceConfig

	// Interval is the pause between polls.
	Interval time.Duration
	// RefreshInterval is the cadence at which subscribers are notified.
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	// CellInterval fetches cell voltages every n polls, 0 disables them.
	CellInterval int
	WaitForData  bool
	Autostart    bool

	LogLevel string
	LogFile  string
	// Listen is the HTTP control and metrics address. Empty disables it.
	Listen string

	History   HistoryConfig
	Simulator SimulatorConfig

	// ConfigFile is the file values were read from, if any.
	ConfigFile string
}

type DeviceConfig struct {
	Address string
	Name    string
}

type HistoryConfig struct {
	Enabled      bool
	DBPath       string
	BatchSize    int
	BatchTimeout int
}

type SimulatorConfig struct {
	FailureRate float64
	Cells       int
	Seed        uint64
}

// Load reads configuration from, in order of precedence, command line
// flags in args, environment variables, the TOML config file and defaults.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	if home, err := os.UserHomeDir(); err == nil {
		o.searchDirs = append(o.searchDirs, "/etc", filepath.Join(home, ".config", configName))
	} else {
		o.searchDirs = append(o.searchDirs, "/etc")
	}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if err := readConfigFile(v, path, o.searchDirs); err != nil {
		return nil, err
	}

	cfg := &Config{
		Source: v.GetString("source"),
		Device: DeviceConfig{
			Address: v.GetString("device.address"),
			Name:    v.GetString("device.name"),
		},
		Interval:        v.GetDuration("interval"),
		RefreshInterval: v.GetDuration("refresh_interval"),
		FetchTimeout:    v.GetDuration("fetch_timeout"),
		CellInterval:    v.GetInt("cell_interval"),
		WaitForData:     v.GetBool("wait_for_data"),
		Autostart:       v.GetBool("autostart"),
		LogLevel:        v.GetString("log_level"),
		LogFile:         v.GetString("log_file"),
		Listen:          v.GetString("listen"),
		History: HistoryConfig{
			Enabled:      v.GetBool("history.enabled"),
			DBPath:       v.GetString("history.db_path"),
			BatchSize:    v.GetInt("history.batch_size"),
			BatchTimeout: v.GetInt("history.batch_timeout"),
		},
		Simulator: SimulatorConfig{
			FailureRate: v.GetFloat64("simulator.failure_rate"),
			Cells:       v.GetInt("simulator.cells"),
			Seed:        v.GetUint64("simulator.seed"),
		},
		ConfigFile: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", DefaultSource)
	v.SetDefault("device.address", "")
	v.SetDefault("device.name", "")
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("refresh_interval", DefaultRefreshInterval)
	v.SetDefault("fetch_timeout", DefaultFetchTimeout)
	v.SetDefault("cell_interval", DefaultCellInterval)
	v.SetDefault("wait_for_data", true)
	v.SetDefault("autostart", true)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", DefaultHistoryDBPath)
	v.SetDefault("history.batch_size", DefaultBatchSize)
	v.SetDefault("history.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("simulator.failure_rate", 0.0)
	v.SetDefault("simulator.cells", DefaultSimulatorCells)
	v.SetDefault("simulator.seed", 0)
}

// flagKeys maps command line flags onto configuration keys
var flagKeys = map[string]string{
	"source":                 "source",
	"device-address":         "device.address",
	"device-name":            "device.name",
	"interval":               "interval",
	"refresh-interval":       "refresh_interval",
	"fetch-timeout":          "fetch_timeout",
	"cell-interval":          "cell_interval",
	"wait-for-data":          "wait_for_data",
	"autostart":              "autostart",
	"log-level":              "log_level",
	"log-file":               "log_file",
	"listen":                 "listen",
	"history":                "history.enabled",
	"history-db":             "history.db_path",
	"simulator-failure-rate": "simulator.failure_rate",
	"simulator-cells":        "simulator.cells",
	"simulator-seed":         "simulator.seed",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)

	fs.String("config", "", "Path to a TOML configuration file")
	fs.String("source", DefaultSource, "Telemetry source")
	fs.String("device-address", "", "Address of the battery management device (the simulator only logs it)")
	fs.String("device-name", "", "Name of the battery management device (the simulator only logs it)")
	fs.Duration("interval", DefaultInterval, "Pause between polls")
	fs.Duration("refresh-interval", DefaultRefreshInterval, "Cadence of change notifications")
	fs.Duration("fetch-timeout", DefaultFetchTimeout, "Timeout of a single fetch")
	fs.Int("cell-interval", DefaultCellInterval, "Fetch cell voltages every n polls, 0 to disable")
	fs.Bool("wait-for-data", true, "Wait for a fresh frame on every poll")
	fs.Bool("autostart", true, "Start monitoring on launch")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("log-file", "", "Also write logs to this file, rotated by size")
	fs.String("listen", DefaultListen, "HTTP listen address, empty to disable")
	fs.Bool("history", false, "Record snapshots to the history database")
	fs.String("history-db", DefaultHistoryDBPath, "Path to the history database")
	fs.Float64("simulator-failure-rate", 0, "Probability of a simulated fetch failure")
	fs.Int("simulator-cells", DefaultSimulatorCells, "Number of simulated cells")
	fs.Uint64("simulator-seed", 0, "Simulator random seed, 0 for random")

	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("binding %s: %w", flag, err)
		}
	}

	return nil
}

func readConfigFile(v *viper.Viper, path string, dirs []string) error {
	errFactory := errors.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks every setting and returns the first invalid one.
func (c *Config) Validate() error {
	switch {
	case c.Source != SourceSimulator:
		return invalid(errors.ErrInvalidSource, "source", c.Source, "only the simulator source is available")
	case c.Interval <= 0:
		return invalid(errors.ErrInvalidInterval, "interval", c.Interval, "must be positive")
	case c.RefreshInterval <= 0:
		return invalid(errors.ErrInvalidInterval, "refresh_interval", c.RefreshInterval, "must be positive")
	case c.FetchTimeout <= 0:
		return invalid(errors.ErrInvalidInterval, "fetch_timeout", c.FetchTimeout, "must be positive")
	case c.CellInterval < 0:
		return invalid(errors.ErrInvalidConfig, "cell_interval", c.CellInterval, "must not be negative")
	case c.History.Enabled && c.History.DBPath == "":
		return invalid(errors.ErrInvalidConfig, "history.db_path", c.History.DBPath, "required when history is enabled")
	case c.History.BatchSize < 0 || c.History.BatchTimeout < 0:
		return invalid(errors.ErrInvalidConfig, "history.batch_size", c.History.BatchSize, "batch settings must not be negative")
	case c.Simulator.FailureRate < 0 || c.Simulator.FailureRate > 1:
		return invalid(errors.ErrInvalidConfig, "simulator.failure_rate", c.Simulator.FailureRate, "must be between 0 and 1")
	case c.Simulator.Cells < 0:
		return invalid(errors.ErrInvalidConfig, "simulator.cells", c.Simulator.Cells, "must not be negative")
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return invalid(errors.ErrInvalidLogLevel, "log_level", c.LogLevel, "unknown level")
	}

	return nil
}

type fieldError struct {
	field  string
	value  any
	reason string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.field, e.value, e.reason)
}

func (e *fieldError) Field() string  { return e.field }
func (e *fieldError) Value() any     { return e.value }
func (e *fieldError) Reason() string { return e.reason }

func invalid(code errors.ErrorCode, field string, value any, reason string) error {
	return errors.New().Wrap(code, &fieldError{field: field, value: value, reason: reason})
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the cat feeder.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Feeder   FeederConfig   `yaml:"feeder"`
	Hardware HardwareConfig `yaml:"hardware"`
	Display  DisplayConfig  `yaml:"display"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies this feeder on the network.
type DeviceConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	ConfigURL string `yaml:"config_url"`
	Timezone  string `yaml:"timezone"`
}

// FeederConfig describes the dispensers, the daily schedule and the manual
// controls.
type FeederConfig struct {
	Timing            TimingConfig    `yaml:"timing"`
	MaxRemotePortions int             `yaml:"max_remote_portions"`
	Machines          []MachineConfig `yaml:"machines"`
	Schedule          []ScheduleEntry `yaml:"schedule"`

	// ManualButtonPin is the GPIO line of the manual feed button. Holding it
	// for ButtonHold feeds one portion.
	ManualButtonPin *int          `yaml:"manual_button_pin"`
	ButtonHold      time.Duration `yaml:"button_hold"`

	// StatusLEDPin is the GPIO line of the status LED, which is lit while a
	// job runs, blinks on failure, and flashes as a heartbeat otherwise.
	StatusLEDPin      *int          `yaml:"status_led_pin"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// TimingConfig holds the dispensing sequence thresholds.
type TimingConfig struct {
	MotorTimeout     time.Duration `yaml:"motor_timeout"`
	RearmDelay       time.Duration `yaml:"rearm_delay"`
	StopGrace        time.Duration `yaml:"stop_grace"`
	SimulatedCycle   time.Duration `yaml:"simulated_cycle"`
	MaxEmptyAttempts int           `yaml:"max_empty_attempts"`
}

// MachineConfig describes one dispenser.
type MachineConfig struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`

	MotorPin         int  `yaml:"motor_pin"`
	MotorSensorPin   *int `yaml:"motor_sensor_pin"`
	FoodSensorOutPin *int `yaml:"food_sensor_out_pin"`
	FoodSensorInPin  *int `yaml:"food_sensor_in_pin"`

	// VerifyFood lets the food sensor veto a round. Without it the sensor
	// pair is driven but every round is assumed to dispense.
	VerifyFood bool `yaml:"verify_food"`
}

// IsEnabled reports whether the machine should be built. Machines are
// enabled unless explicitly disabled.
func (m MachineConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ScheduleEntry is one daily feeding at a "HH:MM" time.
type ScheduleEntry struct {
	Time     string `yaml:"time"`
	Portions int    `yaml:"portions"`
}

// HardwareConfig selects the GPIO backend.
type HardwareConfig struct {
	// Driver is "gpio" for a Linux GPIO character device or "simulated".
	Driver string `yaml:"driver"`

	// Chip is the GPIO chip name, e.g. "gpiochip0".
	Chip string `yaml:"chip"`

	// Debounce is applied to input lines that support it.
	Debounce time.Duration `yaml:"debounce"`
}

// DisplayConfig contains the serial status panel settings.
type DisplayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`

	// ReplyDelay is how long the panel needs after an acknowledgement
	// before it accepts the next frame.
	ReplyDelay time.Duration `yaml:"reply_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CATFEEDER_SECTION_KEY
// For example: CATFEEDER_DATABASE_PATH, CATFEEDER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the stock dispenser settings.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:       "feeder-001",
			Name:     "Cat Feeder",
			Timezone: "Local",
		},
		Feeder: FeederConfig{
			Timing: TimingConfig{
				MotorTimeout:     5 * time.Second,
				RearmDelay:       500 * time.Millisecond,
				StopGrace:        300 * time.Millisecond,
				SimulatedCycle:   3 * time.Second,
				MaxEmptyAttempts: 5,
			},
			MaxRemotePortions: 5,
			ButtonHold:        time.Second,
			HeartbeatInterval: 10 * time.Second,
		},
		Hardware: HardwareConfig{
			Driver: "gpio",
			Chip:   "gpiochip0",
		},
		Display: DisplayConfig{
			Port:       "/dev/ttyS0",
			Baud:       2400,
			ReplyDelay: time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/catfeeder.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "catfeeder",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    10,
				MaxBackups: 4,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CATFEEDER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CATFEEDER_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	if v := os.Getenv("CATFEEDER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CATFEEDER_HARDWARE_DRIVER"); v != "" {
		cfg.Hardware.Driver = v
	}

	if v := os.Getenv("CATFEEDER_DISPLAY_PORT"); v != "" {
		cfg.Display.Port = v
	}

	// MQTT
	if v := os.Getenv("CATFEEDER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CATFEEDER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CATFEEDER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CATFEEDER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("CATFEEDER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("CATFEEDER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if c.Device.Timezone != "" {
		if _, err := time.LoadLocation(c.Device.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("device.timezone %q is unknown", c.Device.Timezone))
		}
	}

	errs = append(errs, c.Feeder.validate()...)

	switch c.Hardware.Driver {
	case "gpio":
		if c.Hardware.Chip == "" {
			errs = append(errs, "hardware.chip is required for the gpio driver")
		}
	case "simulated":
	default:
		errs = append(errs, "hardware.driver must be gpio or simulated")
	}

	if c.Display.Enabled {
		if c.Display.Port == "" {
			errs = append(errs, "display.port is required when the display is enabled")
		}
		if c.Display.Baud <= 0 {
			errs = append(errs, "display.baud must be positive")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required for file output")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (f *FeederConfig) validate() []string {
	var errs []string

	t := f.Timing
	if t.MotorTimeout <= 0 || t.RearmDelay <= 0 || t.StopGrace <= 0 || t.SimulatedCycle <= 0 {
		errs = append(errs, "feeder.timing durations must be positive")
	}
	if t.MotorTimeout <= t.RearmDelay {
		errs = append(errs, "feeder.timing.motor_timeout must be longer than rearm_delay")
	}
	if t.SimulatedCycle <= t.RearmDelay || t.SimulatedCycle >= t.MotorTimeout {
		errs = append(errs, "feeder.timing.simulated_cycle must lie between rearm_delay and motor_timeout")
	}
	if t.MaxEmptyAttempts < 1 {
		errs = append(errs, "feeder.timing.max_empty_attempts must be at least 1")
	}
	if f.MaxRemotePortions < 1 {
		errs = append(errs, "feeder.max_remote_portions must be at least 1")
	}

	seen := make(map[string]bool, len(f.Machines))
	for i, m := range f.Machines {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("feeder.machines[%d].name is required", i))
		} else if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("feeder.machines[%d].name %q is duplicated", i, m.Name))
		}
		seen[m.Name] = true
		if m.MotorPin < 0 {
			errs = append(errs, fmt.Sprintf("feeder.machines[%d].motor_pin must not be negative", i))
		}
		if (m.FoodSensorOutPin == nil) != (m.FoodSensorInPin == nil) {
			errs = append(errs, fmt.Sprintf("feeder.machines[%d] needs both food sensor pins or neither", i))
		}
		if m.VerifyFood && m.FoodSensorInPin == nil {
			errs = append(errs, fmt.Sprintf("feeder.machines[%d].verify_food requires food sensor pins", i))
		}
	}

	for i, s := range f.Schedule {
		if _, err := time.Parse("15:04", s.Time); err != nil {
			errs = append(errs, fmt.Sprintf("feeder.schedule[%d].time %q must be HH:MM", i, s.Time))
		}
		if s.Portions < 0 {
			errs = append(errs, fmt.Sprintf("feeder.schedule[%d].portions must not be negative", i))
		}
	}

	if f.ButtonHold <= 0 {
		errs = append(errs, "feeder.button_hold must be positive")
	}

	return errs
}

// Location returns the configured time zone for the schedule.
func (c *Config) Location() *time.Location {
	if c.Device.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Device.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

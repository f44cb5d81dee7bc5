package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration lets TOML carry values like "30s" or "8h".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type APConfig struct {
	SSID        string `toml:"ssid"`
	Passphrase  string `toml:"passphrase"`
	Channel     int    `toml:"channel"`
	MaxStations int    `toml:"max_stations"`
	// ControlSocket is the hostapd control interface path for the
	// radio, e.g. /var/run/hostapd/wlan0.
	ControlSocket string `toml:"control_socket"`
}

type PolicyConfig struct {
	// DisconnectPolicy is "always" or "first-of-day".
	DisconnectPolicy string   `toml:"disconnect_policy"`
	RelearnEnabled   *bool    `toml:"relearn_enabled"`
	DisconnectDelay  Duration `toml:"disconnect_delay"`
	TargetDuration   Duration `toml:"target_duration"`
}

type ClockConfig struct {
	I2CBus string `toml:"i2c_bus"`
	// TimezoneOffsetMinutes shifts the system clock into local wall
	// time; the RTC itself already keeps local time.
	TimezoneOffsetMinutes int `toml:"timezone_offset_minutes"`
	// SystemClock substitutes the OS clock for the RTC.
	SystemClock bool `toml:"system_clock"`
}

type DisplayConfig struct {
	ClkPin     string `toml:"clk_pin"`
	DioPin     string `toml:"dio_pin"`
	Brightness int    `toml:"brightness"`
	// Console renders to stdout instead of the TM1637.
	Console bool `toml:"console"`
}

type Config struct {
	AP      APConfig      `toml:"ap"`
	Policy  PolicyConfig  `toml:"policy"`
	Clock   ClockConfig   `toml:"clock"`
	Display DisplayConfig `toml:"display"`

	StatePath   string `toml:"state_path"`
	MetricsAddr string `toml:"metrics_addr"`
	LogLevel    string `toml:"log_level"`
}

// SetDefault fills in every field a minimal config file may omit.
func (c *Config) SetDefault() {
	if c.AP.Channel == 0 {
		c.AP.Channel = 6
	}
	if c.AP.MaxStations == 0 {
		c.AP.MaxStations = 2
	}
	if c.AP.ControlSocket == "" {
		c.AP.ControlSocket = "/var/run/hostapd/wlan0"
	}
	if c.Policy.DisconnectPolicy == "" {
		c.Policy.DisconnectPolicy = "first-of-day"
	}
	if c.Policy.RelearnEnabled == nil {
		defaultVal := true
		c.Policy.RelearnEnabled = &defaultVal
	}
	if c.Policy.DisconnectDelay == 0 {
		c.Policy.DisconnectDelay = Duration(30 * time.Second)
	}
	if c.Policy.TargetDuration == 0 {
		c.Policy.TargetDuration = Duration(8 * time.Hour)
	}
	if c.Clock.I2CBus == "" {
		c.Clock.I2CBus = "1"
	}
	if c.Display.ClkPin == "" {
		c.Display.ClkPin = "GPIO23"
	}
	if c.Display.DioPin == "" {
		c.Display.DioPin = "GPIO24"
	}
	if c.Display.Brightness == 0 {
		c.Display.Brightness = 4
	}
	if c.StatePath == "" {
		c.StatePath = "/var/lib/checkclock/state.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Policy.DisconnectPolicy {
	case "always", "first-of-day":
	default:
		return fmt.Errorf("policy.disconnect_policy must be \"always\" or \"first-of-day\", got %q", c.Policy.DisconnectPolicy)
	}
	if c.Policy.TargetDuration <= 0 {
		return fmt.Errorf("policy.target_duration must be positive")
	}
	if c.Policy.DisconnectDelay < 0 {
		return fmt.Errorf("policy.disconnect_delay must not be negative")
	}
	if c.Display.Brightness < 0 || c.Display.Brightness > 7 {
		return fmt.Errorf("display.brightness must be 0..7, got %d", c.Display.Brightness)
	}
	if c.AP.Channel < 1 || c.AP.Channel > 14 {
		return fmt.Errorf("ap.channel must be 1..14, got %d", c.AP.Channel)
	}
	return nil
}

func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	decoder := toml.NewDecoder(file)
	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, err
	}
	config.SetDefault()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func LoadFromBytes(data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	config.SetDefault()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

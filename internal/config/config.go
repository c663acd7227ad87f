// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dmm-service/internal/model"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Export    ExportConfig    `mapstructure:"export"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig represents the instrument serial line settings
type SerialConfig struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	FlowControl bool          `mapstructure:"flow_control"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	OpenSettle  time.Duration `mapstructure:"open_settle"`
	// Driver selects the instrument driver: "34401a" or "simulated"
	Driver          string  `mapstructure:"driver"`
	SimulationNoise float64 `mapstructure:"simulation_noise"`
}

// DiscoveryConfig controls which serial ports are treated as instruments
type DiscoveryConfig struct {
	DescriptionFilters []string `mapstructure:"description_filters"`
}

// SamplingConfig holds the defaults for a sampling run
type SamplingConfig struct {
	Mode            string        `mapstructure:"mode"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	Duration        time.Duration `mapstructure:"duration"`
	Range           string        `mapstructure:"range"`
	Resolution      string        `mapstructure:"resolution"`
	Trigger         string        `mapstructure:"trigger"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	ReadErrorPolicy string        `mapstructure:"read_error_policy"`
	// Retention is how long finished sessions stay in memory; 0 keeps them forever
	Retention time.Duration `mapstructure:"retention"`
}

// ExportConfig controls where and how finished matrices are written
type ExportConfig struct {
	Format    string `mapstructure:"format"`
	Directory string `mapstructure:"directory"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from an optional file and environment variables.
// An empty path searches for config.yaml in the working directory and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates configuration from a prepared viper instance.
// Defaults and environment bindings are applied to v.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("DMM_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	v.SetDefault("security.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial defaults match the 34401A remote interface settings
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 2)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.flow_control", true)
	v.SetDefault("serial.read_timeout", "5s")
	v.SetDefault("serial.open_settle", "500ms")
	v.SetDefault("serial.driver", "34401a")
	v.SetDefault("serial.simulation_noise", 0.001)

	v.SetDefault("discovery.description_filters", []string{})

	// Sampling defaults
	v.SetDefault("sampling.mode", "DCV")
	v.SetDefault("sampling.tick_interval", "500ms")
	v.SetDefault("sampling.duration", "10000s")
	v.SetDefault("sampling.range", model.KeywordAuto)
	v.SetDefault("sampling.resolution", "0.001")
	v.SetDefault("sampling.trigger", "")
	v.SetDefault("sampling.settle_delay", "2s")
	v.SetDefault("sampling.read_error_policy", "stop")
	v.SetDefault("sampling.retention", "24h")

	v.SetDefault("export.format", "csv")
	v.SetDefault("export.directory", "./data")

	// App defaults
	v.SetDefault("app.name", "dmm-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	if config.Serial.DataBits < 5 || config.Serial.DataBits > 8 {
		return fmt.Errorf("serial.data_bits must be between 5 and 8")
	}
	if config.Serial.StopBits != 1 && config.Serial.StopBits != 2 {
		return fmt.Errorf("serial.stop_bits must be 1 or 2")
	}
	if !contains([]string{"none", "odd", "even"}, config.Serial.Parity) {
		return fmt.Errorf("serial.parity must be one of: none, odd, even")
	}
	if !contains([]string{"34401a", "simulated"}, config.Serial.Driver) {
		return fmt.Errorf("serial.driver must be one of: 34401a, simulated")
	}
	if config.Serial.ReadTimeout < 0 || config.Serial.OpenSettle < 0 || config.Serial.SimulationNoise < 0 {
		return fmt.Errorf("serial timings and simulation_noise must not be negative")
	}

	if config.Sampling.TickInterval < 0 || config.Sampling.Duration < 0 || config.Sampling.SettleDelay < 0 || config.Sampling.Retention < 0 {
		return fmt.Errorf("sampling durations must not be negative")
	}
	if !contains([]string{"stop", "skip"}, config.Sampling.ReadErrorPolicy) {
		return fmt.Errorf("sampling.read_error_policy must be one of: stop, skip")
	}
	if _, err := config.Sampling.Params(); err != nil {
		return err
	}

	if !contains([]string{"csv", "npy"}, config.Export.Format) {
		return fmt.Errorf("export.format must be one of: csv, npy")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Params converts the sampling defaults into run parameters
func (s SamplingConfig) Params() (model.SessionParams, error) {
	mode, err := model.ParseMode(s.Mode)
	if err != nil {
		return model.SessionParams{}, err
	}

	rng, err := model.ParseRangeSpec(s.Range)
	if err != nil {
		return model.SessionParams{}, err
	}

	resolution, err := model.ParseScalar(s.Resolution)
	if err != nil {
		return model.SessionParams{}, err
	}

	params := model.SessionParams{
		Mode:         mode,
		TickInterval: s.TickInterval,
		Duration:     s.Duration,
		Range:        rng,
		Resolution:   resolution,
	}

	if s.Trigger != "" {
		trigger, err := model.ParseTriggerSource(s.Trigger)
		if err != nil {
			return model.SessionParams{}, err
		}
		params.Trigger = trigger
	}

	return params, nil
}

// LineSettings converts the serial section into model settings
func (s SerialConfig) LineSettings() model.SerialConfig {
	return model.SerialConfig{
		BaudRate:    s.BaudRate,
		DataBits:    s.DataBits,
		StopBits:    s.StopBits,
		Parity:      model.Parity(s.Parity),
		FlowControl: s.FlowControl,
	}
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}

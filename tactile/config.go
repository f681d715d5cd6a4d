package tactile

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the sensor and tracking configuration.
type Config struct {
	PPMM      float64        `yaml:"ppmm" json:"ppmm"` // millimeters per pixel
	ImgH      int            `yaml:"imgh" json:"imgh"`
	ImgW      int            `yaml:"imgw" json:"imgw"`
	ErodeSize int            `yaml:"erodeSize" json:"erodeSize"`
	Tracking  TrackingConfig `yaml:"tracking" json:"tracking"`
	MQTT      MQTTConfig     `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Store     string         `yaml:"store,omitempty" json:"store,omitempty"` // sqlite database path
}

// TrackingConfig selects the backend and the long-horizon behavior.
type TrackingConfig struct {
	Method          Kind   `yaml:"method" json:"method"`
	Samples         int    `yaml:"samples,omitempty" json:"samples,omitempty"` // 0 uses every contact point
	Seed            *int64 `yaml:"seed,omitempty" json:"seed,omitempty"`       // unset seeds from the clock
	LongHorizon     bool   `yaml:"longHorizon" json:"longHorizon"`
	ResetThresholds `yaml:",inline" json:"resetThresholds"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// DefaultConfig describes a GelSight Mini.
func DefaultConfig() *Config {
	return &Config{
		PPMM:      0.0634,
		ImgH:      240,
		ImgW:      320,
		ErodeSize: 5,
		Tracking: TrackingConfig{
			Method:          KindFPFH,
			ResetThresholds: DefaultResetThresholds(),
		},
	}
}

// Params returns the per-call registration parameters.
func (c *Config) Params() Params {
	return Params{PixelPitch: c.PPMM, SampleCap: c.Tracking.Samples}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.PPMM <= 0 {
		err = multierr.Append(err, fmt.Errorf("ppmm must be positive, got %g", c.PPMM))
	}
	if c.ImgH <= 0 || c.ImgW <= 0 {
		err = multierr.Append(err, fmt.Errorf("imgh and imgw must be positive, got %dx%d", c.ImgW, c.ImgH))
	}
	if c.ErodeSize < 0 {
		err = multierr.Append(err, fmt.Errorf("erodeSize must not be negative, got %d", c.ErodeSize))
	}
	if _, perr := ParseKind(string(c.Tracking.Method)); perr != nil {
		err = multierr.Append(err, fmt.Errorf("tracking.method: %w", perr))
	}
	if c.Tracking.Samples < 0 {
		err = multierr.Append(err, fmt.Errorf("tracking.samples must not be negative, got %d", c.Tracking.Samples))
	}
	if c.Tracking.RotationDeg <= 0 || c.Tracking.TranslationMM <= 0 {
		err = multierr.Append(err, fmt.Errorf("reset thresholds must be positive, got %g deg / %g mm",
			c.Tracking.RotationDeg, c.Tracking.TranslationMM))
	}
	return err
}

// LoadConfig loads a YAML configuration over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if kind, err := ParseKind(string(config.Tracking.Method)); err == nil {
		config.Tracking.Method = kind
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Package config loads the YAML configuration of the smart-bin gateway.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/alienlienn/iot-smartbin/fusion"
	"github.com/alienlienn/iot-smartbin/logging"
	"github.com/alienlienn/iot-smartbin/transport"
)

// ErrInvalid is returned when the configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultMeshURL         = "serial:///dev/ttyUSB0"
	DefaultBeaconURL       = "serial:///dev/ttyUSB1"
	DefaultPublishURL      = "http://localhost:8000/websocket/dashboard"
	DefaultPublishInterval = 5 * time.Second
	DefaultPublishTimeout  = 5 * time.Second
	DefaultSweepInterval   = 500 * time.Millisecond
	DefaultOfflineAfter    = 120 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
)

// AppConfig is the root of the configuration file.
type AppConfig struct {
	Mesh     TransportConfig `yaml:"mesh"`
	Beacon   TransportConfig `yaml:"beacon"`
	Anchors  []AnchorConfig  `yaml:"anchors" validate:"len=3,unique=ID,dive"`
	PathLoss PathLossConfig  `yaml:"path_loss"`
	Routing  RoutingConfig   `yaml:"routing"`
	Ingest   IngestConfig    `yaml:"ingest"`
	Publish  PublishConfig   `yaml:"publish"`
	Hub      HubConfig       `yaml:"hub"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Log      logging.Config  `yaml:"log"`
}

type TransportConfig struct {
	URL         string        `yaml:"url" validate:"required"`
	Baud        int           `yaml:"baud" validate:"gt=0"`
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gt=0"`
}

// Options converts the section into transport options.
func (t TransportConfig) Options() transport.Options {
	return transport.Options{BaudRate: t.Baud, ReadTimeout: t.ReadTimeout}
}

type AnchorConfig struct {
	ID string  `yaml:"id" validate:"required"`
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
}

type PathLossConfig struct {
	RefDistance float64 `yaml:"ref_distance" validate:"gt=0"`
	RefStrength float64 `yaml:"ref_strength"`
	Exponent    float64 `yaml:"exponent" validate:"gt=0"`
}

type RoutingConfig struct {
	OfflineThreshold time.Duration `yaml:"offline_threshold" validate:"gt=0"`
	SweepInterval    time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	SeedNodes        []string      `yaml:"seed_nodes" validate:"dive,required"`
}

type IngestConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

type PublishConfig struct {
	URL      string        `yaml:"url" validate:"omitempty,url"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// HubConfig enables the embedded dashboard hub when Addr is set.
type HubConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// MetricsConfig enables the ops HTTP server when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when no file is given.
func Default() AppConfig {
	return AppConfig{
		Mesh:   TransportConfig{URL: DefaultMeshURL},
		Beacon: TransportConfig{URL: DefaultBeaconURL},
		Anchors: []AnchorConfig{
			{ID: "B1", X: 7, Y: -3.5},
			{ID: "B2", X: 2, Y: 5},
			{ID: "B3", X: -6, Y: -3},
		},
		Publish: PublishConfig{URL: DefaultPublishURL},
		Log:     logging.Config{Level: "info"},
	}
}

// Load reads path, fills unset fields with defaults and validates the
// result. An empty path yields the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, errors.Wrap(err, "reading config")
		}
		cfg.Anchors = nil
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, errors.Wrapf(err, "parsing %s", path)
		}
		if cfg.Anchors == nil {
			cfg.Anchors = Default().Anchors
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	for _, t := range []*TransportConfig{&c.Mesh, &c.Beacon} {
		if t.Baud == 0 {
			t.Baud = transport.DefaultBaudRate
		}
		if t.ReadTimeout == 0 {
			t.ReadTimeout = transport.DefaultReadTimeout
		}
	}
	if c.PathLoss.RefDistance == 0 {
		c.PathLoss.RefDistance = fusion.DefaultRefDistance
	}
	// 0 dBm at the reference distance is not a usable calibration.
	if c.PathLoss.RefStrength == 0 {
		c.PathLoss.RefStrength = fusion.DefaultRefStrength
	}
	if c.PathLoss.Exponent == 0 {
		c.PathLoss.Exponent = fusion.DefaultPathLossExp
	}
	if c.Routing.OfflineThreshold == 0 {
		c.Routing.OfflineThreshold = DefaultOfflineAfter
	}
	if c.Routing.SweepInterval == 0 {
		c.Routing.SweepInterval = DefaultSweepInterval
	}
	if c.Ingest.PollInterval == 0 {
		c.Ingest.PollInterval = DefaultPollInterval
	}
	if c.Publish.Interval == 0 {
		c.Publish.Interval = DefaultPublishInterval
	}
	if c.Publish.Timeout == 0 {
		c.Publish.Timeout = DefaultPublishTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks struct constraints. Errors wrap ErrInvalid and carry the
// validator's field errors.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrapf(ErrInvalid, "%v", err)
	}
	return nil
}

// AnchorSet returns the anchors in configuration order.
func (c *AppConfig) AnchorSet() [fusion.AnchorCount]fusion.Anchor {
	var out [fusion.AnchorCount]fusion.Anchor
	for i := range out {
		a := c.Anchors[i]
		out[i] = fusion.Anchor{ID: a.ID, Coord: fusion.Coord{X: a.X, Y: a.Y}}
	}
	return out
}

// PathLossModel returns the configured distance model.
func (c *AppConfig) PathLossModel() *fusion.PathLoss {
	return fusion.NewPathLoss(c.PathLoss.RefDistance, c.PathLoss.RefStrength, c.PathLoss.Exponent)
}

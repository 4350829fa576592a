package utils

import (
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/nav-core/internal/tiles"
	"github.com/benmeehan/nav-core/internal/tracking"
	"github.com/benmeehan/nav-core/pkg/file"
	"github.com/benmeehan/nav-core/pkg/location"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Environment variables that override secrets kept out of the config file.
const (
	EnvMapsAPIKey   = "NAVCORE_MAPS_API_KEY"
	EnvMQTTPassword = "NAVCORE_MQTT_PASSWORD"
)

// Config represents the structure of the configuration file.
type Config struct {
	LogLevel      string          `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	ClientVersion string          `yaml:"client_version" validate:"required,semver"` // Reported in telemetry and the tile User-Agent
	Version       *semver.Version `yaml:"-"`

	MQTT struct {
		// Broker address; empty disables MQTT
		Broker         string        `yaml:"broker"`
		ClientID       string        `yaml:"client_id" validate:"required_with=Broker"`
		CACertificate  string        `yaml:"ca_certificate"` // Path to the CA certificate
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	} `yaml:"mqtt"`

	Location struct {
		// nmea reads a serial GPS receiver, google polls the geolocation API
		Source            string        `yaml:"source" validate:"required,oneof=nmea google"`
		GPSDevicePort     string        `yaml:"gps_device_port" validate:"required_if=Source nmea"`
		GPSDeviceBaudRate int           `yaml:"gps_baud_rate" validate:"gte=0"`
		MapsAPIKey        string        `yaml:"maps_api_key" validate:"required_if=Source google"`
		ModemIndex        int           `yaml:"modem_index" validate:"gte=0"`
		PollInterval      time.Duration `yaml:"poll_interval" validate:"gte=0"`
		Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
		MaximumAge        time.Duration `yaml:"maximum_age" validate:"gte=0"`
		HighAccuracy      bool          `yaml:"high_accuracy"`
	} `yaml:"location"`

	Tracking struct {
		DistanceFilterMeters float64 `yaml:"distance_filter_meters" validate:"gte=0"`
		HistoryCap           int     `yaml:"history_cap" validate:"gte=0,lte=1000"`
	} `yaml:"tracking"`

	Tiles struct {
		Layer           string            `yaml:"layer" validate:"omitempty,oneof=standard satellite"`
		UserAgent       string            `yaml:"user_agent"`
		RequestTimeout  time.Duration     `yaml:"request_timeout" validate:"gte=0"`
		FailureCooldown time.Duration     `yaml:"failure_cooldown" validate:"gte=0"`
		BatchSize       int               `yaml:"batch_size" validate:"gte=0,lte=32"`
		BatchPacing     time.Duration     `yaml:"batch_pacing" validate:"gte=0"`
		URLTemplates    map[string]string `yaml:"url_templates"` // Per-layer overrides with {z} {x} {y} placeholders
	} `yaml:"tiles"`

	Viewport struct {
		CenterLat    float64 `yaml:"center_lat" validate:"gte=-90,lte=90"`
		CenterLng    float64 `yaml:"center_lng" validate:"gte=-180,lte=180"`
		Zoom         int     `yaml:"zoom" validate:"gte=0,lte=18"`
		ScreenWidth  int     `yaml:"screen_width" validate:"gte=0"`
		ScreenHeight int     `yaml:"screen_height" validate:"gte=0"`
	} `yaml:"viewport"`

	Services struct {
		Navigation struct {
			Enabled bool `yaml:"enabled"` // Follow mode and viewport prefetch
		} `yaml:"navigation"`

		TrackPublisher struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" validate:"required_if=Enabled true"`
			QOS            int           `yaml:"qos" validate:"gte=0,lte=2"`
			QueueSize      int           `yaml:"queue_size" validate:"gte=0"`
			PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gte=0"`
		} `yaml:"track_publisher"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file, applies environment
// overrides, validates it and fills in defaults.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if key := os.Getenv(EnvMapsAPIKey); key != "" {
		config.Location.MapsAPIKey = key
	}
	if pw := os.Getenv(EnvMQTTPassword); pw != "" {
		config.MQTT.Password = pw
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	return &config, nil
}

func (c *Config) validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Services.TrackPublisher.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("invalid config: track_publisher requires mqtt.broker")
	}

	version, err := semver.NewVersion(c.ClientVersion)
	if err != nil {
		return fmt.Errorf("invalid config: client_version: %w", err)
	}
	c.Version = version

	for layer, tmpl := range c.Tiles.URLTemplates {
		switch tiles.Layer(layer) {
		case tiles.LayerStandard, tiles.LayerSatellite:
		default:
			return fmt.Errorf("invalid config: url_templates: %w: %q", tiles.ErrUnknownLayer, layer)
		}
		for _, ph := range []string{"{z}", "{x}", "{y}"} {
			if !strings.Contains(tmpl, ph) {
				return fmt.Errorf("invalid config: url_templates[%s] is missing %s", layer, ph)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.Location.GPSDeviceBaudRate == 0 {
		c.Location.GPSDeviceBaudRate = 9600
	}
	if c.Location.PollInterval == 0 {
		c.Location.PollInterval = 10 * time.Second
	}
	if c.Location.Timeout == 0 {
		c.Location.Timeout = 10 * time.Second
	}
	if c.Tiles.Layer == "" {
		c.Tiles.Layer = string(tiles.LayerStandard)
	}
	if c.Tiles.UserAgent == "" {
		c.Tiles.UserAgent = "nav-core/" + c.Version.String()
	}
	if c.Viewport.Zoom == 0 {
		c.Viewport.Zoom = 15
	}
	if c.Viewport.ScreenWidth == 0 {
		c.Viewport.ScreenWidth = 1280
	}
	if c.Viewport.ScreenHeight == 0 {
		c.Viewport.ScreenHeight = 720
	}
	if c.Services.TrackPublisher.QueueSize == 0 {
		c.Services.TrackPublisher.QueueSize = 64
	}
	if c.Services.TrackPublisher.PublishTimeout == 0 {
		c.Services.TrackPublisher.PublishTimeout = 5 * time.Second
	}
}

// Level returns the configured zerolog level, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// WatchOptions returns the sampling options for the device source.
func (c *Config) WatchOptions() location.WatchOptions {
	return location.WatchOptions{
		HighAccuracy: c.Location.HighAccuracy,
		Timeout:      c.Location.Timeout,
		MaximumAge:   c.Location.MaximumAge,
	}
}

func (c *Config) TrackerConfig() tracking.Config {
	return tracking.Config{
		DistanceFilterMeters: c.Tracking.DistanceFilterMeters,
		HistoryCap:           c.Tracking.HistoryCap,
		Watch:                c.WatchOptions(),
	}
}

// CoordinatorConfig merges the configured URL overrides over the built-in layer templates.
func (c *Config) CoordinatorConfig() tiles.Config {
	templates := tiles.DefaultURLTemplates()
	for layer, tmpl := range c.Tiles.URLTemplates {
		templates[tiles.Layer(layer)] = tmpl
	}
	return tiles.Config{
		URLTemplates:    templates,
		RequestTimeout:  c.Tiles.RequestTimeout,
		FailureCooldown: c.Tiles.FailureCooldown,
		BatchSize:       c.Tiles.BatchSize,
		BatchPacing:     c.Tiles.BatchPacing,
	}
}

func (c *Config) ScreenSize() image.Point {
	return image.Pt(c.Viewport.ScreenWidth, c.Viewport.ScreenHeight)
}

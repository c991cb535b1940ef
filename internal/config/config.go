package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 64 * 1024

// EnvPrefix is prepended to every environment override, e.g. PIXKEEP_WEB_ADDR.
const EnvPrefix = "PIXKEEP_"

// DefaultFetchURL is the remote image fetched when no URL is given.
const DefaultFetchURL = "https://upload.wikimedia.org/wikipedia/commons/d/dc/HondaS2000-004.jpg"

// Camera types understood by the camera factory.
const (
	CameraMock         = "mock"
	CameraCommand      = "command"
	CameraNikonD90GPIO = "nikon_d90_gpio"
)

// PathPlaceholder is replaced by the output path in camera.command.
const PathPlaceholder = "{path}"

var extensionPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// CameraConfig describes how photos are taken.
// Type selects a concrete implementation (e.g., "mock", "command", "nikon_d90_gpio").
type CameraConfig struct {
	Type            string   `yaml:"type" env:"CAMERA_TYPE"`
	TempDir         string   `yaml:"temp_dir" env:"CAMERA_TEMP_DIR"`       // where captures land before they are persisted
	Command         []string `yaml:"command"`                              // argv for "command"; must contain {path}
	SpoolDir        string   `yaml:"spool_dir" env:"CAMERA_SPOOL_DIR"`     // tethering drop directory for "nikon_d90_gpio"
	FocusPin        int      `yaml:"focus_pin" env:"CAMERA_FOCUS_PIN"`     // GPIO pin for FOCUS line
	ShutterPin      int      `yaml:"shutter_pin" env:"CAMERA_SHUTTER_PIN"` // GPIO pin for SHUTTER line
	FocusDelayMs    int      `yaml:"focus_delay_ms"`                       // autofocus delay (ms)
	ShutterDelayMs  int      `yaml:"shutter_delay_ms"`                     // shutter hold time (ms)
	PickupTimeoutMs int      `yaml:"pickup_timeout_ms"`                    // how long to wait for the tethered file (ms)
	MockGPIO        bool     `yaml:"mock_gpio" env:"CAMERA_MOCK_GPIO"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	Width           int      `yaml:"width"`                                // mock frame width (px)
	Height          int      `yaml:"height"`                               // mock frame height (px)
}

// StorageConfig describes the application-private data directory.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir" env:"STORAGE_DATA_DIR"`
	Extension string `yaml:"extension" env:"STORAGE_EXTENSION"` // file extension of persisted images, without dot
}

// FetchConfig tunes the remote source.
type FetchConfig struct {
	DefaultURL string `yaml:"default_url" env:"FETCH_DEFAULT_URL"`
	TimeoutMs  int    `yaml:"timeout_ms" env:"FETCH_TIMEOUT_MS"`
	MaxBytes   int64  `yaml:"max_bytes" env:"FETCH_MAX_BYTES"`
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	ProbeAddr      string `yaml:"probe_addr" env:"NETWORK_PROBE_ADDR"`
	PollIntervalMs int    `yaml:"poll_interval_ms" env:"NETWORK_POLL_INTERVAL_MS"`
}

// WebConfig holds the HTTP surface settings.
type WebConfig struct {
	Addr       string  `yaml:"addr" env:"WEB_ADDR"`
	PublicBase string  `yaml:"public_base" env:"WEB_PUBLIC_BASE"` // origin used to build public URIs
	RatePerSec float64 `yaml:"rate_per_sec" env:"WEB_RATE_PER_SEC"`
	Burst      int     `yaml:"burst" env:"WEB_BURST"`
}

// NotifyConfig holds the user notification settings.
type NotifyConfig struct {
	DurationMs int `yaml:"duration_ms" env:"NOTIFY_DURATION_MS"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level" env:"DEBUG_LEVEL"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Storage  StorageConfig  `yaml:"storage"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Network  NetworkConfig  `yaml:"network"`
	Web      WebConfig      `yaml:"web"`
	Notify   NotifyConfig   `yaml:"notify"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only *.yaml files that live directly in a
// directory named "configs".
func ValidateConfigPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if slices.Contains(strings.Split(filepath.ToSlash(clean), "/"), "..") {
		return fmt.Errorf("config path %q escapes its directory", path)
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies PIXKEEP_* environment overrides and
// returns the validated configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Camera.TempDir == "" {
		c.Camera.TempDir = filepath.Join(os.TempDir(), "pixkeep")
	}
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if c.Camera.PickupTimeoutMs <= 0 {
		c.Camera.PickupTimeoutMs = 5000
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = 480
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "~/.local/share/pixkeep"
	}
	dataDir, err := expandHome(c.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("storage.data_dir: %w", err)
	}
	c.Storage.DataDir = dataDir
	if c.Storage.Extension == "" {
		c.Storage.Extension = "jpeg"
	}
	c.Storage.Extension = strings.ToLower(strings.TrimPrefix(c.Storage.Extension, "."))

	if c.Fetch.DefaultURL == "" {
		c.Fetch.DefaultURL = DefaultFetchURL
	}
	if c.Fetch.TimeoutMs <= 0 {
		c.Fetch.TimeoutMs = 30000
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 25 << 20
	}

	if c.Network.ProbeAddr == "" {
		c.Network.ProbeAddr = "1.1.1.1:53"
	}
	if c.Network.PollIntervalMs <= 0 {
		c.Network.PollIntervalMs = 5000
	}

	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
	if c.Web.PublicBase == "" {
		host := c.Web.Addr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		c.Web.PublicBase = "http://" + host
	}
	c.Web.PublicBase = strings.TrimRight(c.Web.PublicBase, "/")
	if c.Web.RatePerSec <= 0 {
		c.Web.RatePerSec = 1
	}
	if c.Web.Burst <= 0 {
		c.Web.Burst = 1
	}

	if c.Notify.DurationMs <= 0 {
		c.Notify.DurationMs = 2000 // same as the toast duration of the mobile app
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case CameraMock:
	case CameraCommand:
		if len(c.Camera.Command) == 0 {
			return fmt.Errorf("camera.command is required for camera type %q", CameraCommand)
		}
		if !slices.ContainsFunc(c.Camera.Command, func(arg string) bool {
			return strings.Contains(arg, PathPlaceholder)
		}) {
			return fmt.Errorf("camera.command must contain the %s placeholder", PathPlaceholder)
		}
	case CameraNikonD90GPIO:
		if c.Camera.SpoolDir == "" {
			return fmt.Errorf("camera.spool_dir is required for camera type %q", CameraNikonD90GPIO)
		}
		if c.Camera.FocusPin <= 0 || c.Camera.ShutterPin <= 0 {
			return fmt.Errorf("camera.focus_pin and camera.shutter_pin must be > 0")
		}
		if c.Camera.FocusPin == c.Camera.ShutterPin {
			return fmt.Errorf("camera.focus_pin and camera.shutter_pin must differ, both are %d", c.Camera.FocusPin)
		}
	default:
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}

	if !extensionPattern.MatchString(c.Storage.Extension) {
		return fmt.Errorf("storage.extension %q must be 1-8 lowercase letters or digits", c.Storage.Extension)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// PickupTimeout returns how long the GPIO camera waits for the tethered file.
func (c *Config) PickupTimeout() time.Duration {
	return time.Duration(c.Camera.PickupTimeoutMs) * time.Millisecond
}

// FetchTimeout returns the HTTP client timeout for remote fetches.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// PollInterval returns the network monitor polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Network.PollIntervalMs) * time.Millisecond
}

// NotifyDuration returns how long a user notification stays visible.
func (c *Config) NotifyDuration() time.Duration {
	return time.Duration(c.Notify.DurationMs) * time.Millisecond
}

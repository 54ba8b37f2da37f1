package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"reflect"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const configFileName = "happyphone.yaml"

// Built-in defaults.
const (
	defaultDataDirName = "happyphone"
	defaultLogFileName = "happyphone.log"

	defaultSpeedMbps     = 100
	defaultLatencyMs     = 20
	defaultJitterMs      = 0
	defaultPacketLossPct = 0
)

// flagConfig stores the parsed values from the cli flags.
type flagConfig struct {
	dataDir *string
	debug   *bool
}

// Config holds the configuration options for the application.
type Config struct {
	DataDir string         `yaml:"dataDir,omitempty"`
	LogFile string         `yaml:"logFile,omitempty"`
	Debug   bool           `yaml:"debug,omitempty"`
	Network *NetworkConfig `yaml:"network,omitempty"`
}

// NetworkConfig holds the profile defaults every new user starts with.
type NetworkConfig struct {
	SpeedMbps     float64 `yaml:"speedMbps,omitempty"`
	LatencyMs     float64 `yaml:"latencyMs,omitempty"`
	JitterMs      float64 `yaml:"jitterMs,omitempty"`
	PacketLossPct float64 `yaml:"packetLossPct,omitempty"`
	Disabled      bool    `yaml:"disabled,omitempty"`
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it uses default configuration
// but STILL applies CLI flags.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	var cfg Config

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if len(b) > 0 {
		err = yaml.Unmarshal(b, &cfg)
		if err != nil {
			return nil, err
		}
	}

	networkCfg := zeroOr(cfg.Network, defaults.Network)

	conf := Config{
		DataDir: zeroOr(cfg.DataDir, defaults.DataDir),
		LogFile: zeroOr(cfg.LogFile, defaults.LogFile),
		Debug:   cfg.Debug,
		Network: &NetworkConfig{
			SpeedMbps:     zeroOr(networkCfg.SpeedMbps, defaults.Network.SpeedMbps),
			LatencyMs:     zeroOr(networkCfg.LatencyMs, defaults.Network.LatencyMs),
			JitterMs:      networkCfg.JitterMs,
			PacketLossPct: networkCfg.PacketLossPct,
			Disabled:      networkCfg.Disabled,
		},
	}

	conf.applyFlagsToConfig()

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func DefaultConfig() Config {
	dataDir := filepath.Join(xdg.DataHome, defaultDataDirName)

	return Config{
		DataDir: dataDir,
		LogFile: filepath.Join(dataDir, defaultLogFileName),
		Network: &NetworkConfig{
			SpeedMbps:     defaultSpeedMbps,
			LatencyMs:     defaultLatencyMs,
			JitterMs:      defaultJitterMs,
			PacketLossPct: defaultPacketLossPct,
		},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

// applyFlagsToConfig takes the value of the cli flags applied at the start and plugs them into the config.
func (c *Config) applyFlagsToConfig() {
	fc := flagConfig{
		dataDir: flag.String("dd", c.DataDir, "path to the directory holding the database and logs"),
		debug:   flag.Bool("debug", c.Debug, "enable debug logging"),
	}

	flag.Parse()

	c.DataDir = *fc.dataDir
	c.Debug = *fc.debug
}

func (c *Config) validate() error {
	if c.DataDir == "" || c.LogFile == "" {
		return ErrInvalidConfig
	}

	return c.Network.validate()
}

func (n *NetworkConfig) validate() error {
	if n.SpeedMbps <= 0 || n.LatencyMs < 0 || n.JitterMs < 0 {
		return ErrInvalidConfig
	}
	if n.PacketLossPct < 0 || n.PacketLossPct > 100 {
		return ErrInvalidConfig
	}

	return nil
}

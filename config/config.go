// Package config holds the norflash tool configuration and build metadata.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/norflash/engine"
	"github.com/mklimuk/norflash/flash"
	"github.com/mklimuk/norflash/register"
)

// Build metadata, set at link time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var ErrInvalid = errors.New("invalid configuration")

// Transports.
const (
	TransportMMIO   = "mmio"
	TransportPeriph = "periph"
	TransportGobot  = "gobot"
	TransportSim    = "sim"
)

type Config struct {
	Transport  string     `yaml:"transport"`
	Controller Controller `yaml:"controller"`
	Flash      Flash      `yaml:"flash"`
	Periph     Periph     `yaml:"periph"`
}

// Controller configures the memory-mapped SPI controller.
type Controller struct {
	Base     uint64 `yaml:"base"`
	Divider  uint32 `yaml:"divider"`
	Mode     string `yaml:"mode"`
	MaxPolls int    `yaml:"max_polls"`
}

type Flash struct {
	Capacity     uint32        `yaml:"capacity"`
	MaxPolls     int           `yaml:"max_polls"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Periph configures the spidev transport.
type Periph struct {
	Device      string `yaml:"device"`
	FrequencyHz int64  `yaml:"frequency_hz"`
}

func Default() Config {
	return Config{
		Transport: TransportMMIO,
		Controller: Controller{
			Base:     register.DefaultBase,
			Mode:     register.ModeAuto.String(),
			MaxPolls: engine.DefaultMaxPolls,
		},
		Flash: Flash{
			Capacity: flash.DefaultCapacity,
			MaxPolls: 1 << 24,
		},
		Periph: Periph{
			Device:      "/dev/spidev0.0",
			FrequencyHz: 10_000_000,
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportMMIO, TransportPeriph, TransportGobot, TransportSim:
	default:
		return fmt.Errorf("unknown transport %q: %w", c.Transport, ErrInvalid)
	}
	if _, err := register.ParseMode(c.Controller.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Flash.Capacity == 0 || c.Flash.Capacity%flash.SectorSize != 0 {
		return fmt.Errorf("capacity %d is not a multiple of the sector size: %w", c.Flash.Capacity, ErrInvalid)
	}
	if c.Controller.MaxPolls < 0 || c.Flash.MaxPolls < 0 {
		return fmt.Errorf("poll limits must not be negative: %w", ErrInvalid)
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c Config) EngineOpts() []engine.Opt {
	return []engine.Opt{engine.WithMaxPolls(c.Controller.MaxPolls)}
}

func (c Config) FlashOpts() []flash.Opt {
	opts := []flash.Opt{
		flash.WithCapacity(c.Flash.Capacity),
		flash.WithMaxPolls(c.Flash.MaxPolls),
	}
	if c.Flash.PollInterval > 0 {
		opts = append(opts, flash.WithPollInterval(c.Flash.PollInterval))
	}
	return opts
}

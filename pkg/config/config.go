// Package config handles eagervm.toml process configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"
)

// Config represents an eagervm.toml file.
type Config struct {
	Devices   Devices   `toml:"devices"`
	Scheduler Scheduler `toml:"scheduler"`
	Server    Server    `toml:"server"`
	Store     Store     `toml:"store"`
}

// Devices declares the devices of the process.
type Devices struct {
	CPU int `toml:"cpu"`
	GPU int `toml:"gpu"`

	// MemoryBytes is the budget of each device; zero is unlimited.
	MemoryBytes int64 `toml:"memory-bytes"`
}

type Scheduler struct {
	PollInterval     string `toml:"poll-interval"`
	FuseRecordEvents bool   `toml:"fuse-record-events"`
}

type Server struct {
	Listen string `toml:"listen"`
}

// Store configures where recorded programs live.
type Store struct {
	CacheDir string `toml:"cache-dir"`
	Bucket   string `toml:"bucket"`
}

// Default is a single-CPU configuration.
func Default() *Config {
	return &Config{
		Devices:   Devices{CPU: 1},
		Scheduler: Scheduler{PollInterval: vm.DefaultPollInterval.String(), FuseRecordEvents: true},
		Server:    Server{Listen: ":9876"},
		Store:     Store{CacheDir: "~/.cache/eagervm/programs"},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Devices.CPU < 1 {
		return fmt.Errorf("at least one cpu device is required, got %d", c.Devices.CPU)
	}
	if c.Devices.GPU < 0 {
		return fmt.Errorf("negative gpu count %d", c.Devices.GPU)
	}
	if c.Devices.MemoryBytes < 0 {
		return fmt.Errorf("negative memory budget %d", c.Devices.MemoryBytes)
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	return nil
}

func (c *Config) PollInterval() (time.Duration, error) {
	if c.Scheduler.PollInterval == "" {
		return vm.DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(c.Scheduler.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("parsing poll-interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll-interval must be positive, got %v", d)
	}
	return d, nil
}

// DeviceSpecs lists the devices to create.
func (c *Config) DeviceSpecs() []device.Spec {
	specs := []device.Spec{{Type: device.CPU, Count: c.Devices.CPU, MemoryBytes: c.Devices.MemoryBytes}}
	if c.Devices.GPU > 0 {
		specs = append(specs, device.Spec{Type: device.GPU, Count: c.Devices.GPU, MemoryBytes: c.Devices.MemoryBytes})
	}
	return specs
}

// VMOptions builds VM options with the configured devices and scheduling.
func (c *Config) VMOptions(registry *vm.Registry) (vm.Options, error) {
	poll, err := c.PollInterval()
	if err != nil {
		return vm.Options{}, err
	}
	devices, err := device.NewManager(c.DeviceSpecs()...)
	if err != nil {
		return vm.Options{}, err
	}
	return vm.Options{
		Registry:         registry,
		Devices:          devices,
		FuseInstructions: c.Scheduler.FuseRecordEvents,
		PollInterval:     poll,
	}, nil
}

package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FILENAME is the name of the configuration file looked up by the cli.
const FILENAME = "exmat.toml"

type (
	// Config configures the limits of a vm and the logging of the cli.
	Config struct {
		VM  VMConfig  `toml:"vm"`
		Log LogConfig `toml:"log"`

		// Path is the file the config was read from (set at load time).
		Path string `toml:"-"`
	}
	// VMConfig holds the sizes and limits of a vm.
	VMConfig struct {
		InitialStackSize int `toml:"initial-stack-size"`
		MaxStackSize     int `toml:"max-stack-size"`
		InitialFrames    int `toml:"initial-frames"`
		MaxNativeCalls   int `toml:"max-native-calls"`
	}
	// LogConfig sets the commonlog verbosity and an optional log file.
	LogConfig struct {
		Verbosity int    `toml:"verbosity"`
		File      string `toml:"file"`
	}
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		VM: VMConfig{
			InitialStackSize: INITIALSTACKSIZE,
			MaxStackSize:     MAXSTACKSIZE,
			InitialFrames:    INITIALFRAMES,
			MaxNativeCalls:   MAXNATIVECALLS,
		},
	}
}

// Load parses a toml config file. Missing values fall back to the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, cfg.Validate()
}

// FindAndLoad looks for exmat.toml in dir and loads it, returning the
// defaults if there is none.
func FindAndLoad(dir string) (*Config, error) {
	path := filepath.Join(dir, FILENAME)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate makes sure that the limits are usable.
func (cfg *Config) Validate() error {
	vm := &cfg.VM
	if vm.InitialStackSize <= 0 {
		vm.InitialStackSize = INITIALSTACKSIZE
	}
	if vm.InitialFrames <= 0 {
		vm.InitialFrames = INITIALFRAMES
	}
	if vm.MaxStackSize <= 0 {
		vm.MaxStackSize = MAXSTACKSIZE
	}
	if vm.MaxNativeCalls <= 0 {
		vm.MaxNativeCalls = MAXNATIVECALLS
	}
	if vm.MaxStackSize < vm.InitialStackSize {
		return fmt.Errorf("max-stack-size %d is smaller than initial-stack-size %d", vm.MaxStackSize, vm.InitialStackSize)
	}
	return nil
}

package server

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/geogenius/rda/rda"
	"github.com/geogenius/rda/service"
	"github.com/geogenius/rda/storage"
	"github.com/geogenius/rda/tiles"
)

const (
	// DefaultWebAddress is the default address of the tile proxy.
	DefaultWebAddress = "localhost:8500"

	// DefaultTileFormat is returned when a tile request names no format.
	DefaultTileFormat = "png"
)

type serverConfig struct {
	HTTPAddress string   `toml:"httpAddress"`
	CorsOrigins []string `toml:"corsOrigins"`
	TileFormat  string   `toml:"tileFormat"`
	Note        string

	// seconds to wait for in-flight requests on shutdown
	ShutdownDelay int `toml:"shutdownDelay"`
}

type fetchConfig struct {
	MaxRetries   int     `toml:"max_retries"`
	Workers      int     `toml:"workers"`
	CacheEntries int     `toml:"cache_entries"`
	RateLimit    float64 `toml:"rate_limit"`
	TempDir      string  `toml:"temp_dir"`
	MinBackoffMs int     `toml:"min_backoff_ms"`
	MaxBackoffMs int     `toml:"max_backoff_ms"`
	TimeoutSecs  int     `toml:"timeout_secs"`
}

// Tiles returns the tile fetcher settings.
func (c fetchConfig) Tiles() tiles.Config {
	return tiles.Config{
		MaxRetries:   c.MaxRetries,
		Workers:      c.Workers,
		CacheEntries: c.CacheEntries,
		RateLimit:    c.RateLimit,
		TempDir:      c.TempDir,
		MinBackoff:   time.Duration(c.MinBackoffMs) * time.Millisecond,
		MaxBackoff:   time.Duration(c.MaxBackoffMs) * time.Millisecond,
		Timeout:      time.Duration(c.TimeoutSecs) * time.Second,
	}
}

// Config is the decoded TOML configuration shared by the server and the command line.
type Config struct {
	Server  serverConfig
	Auth    authConfig
	Logging rda.LogConfig
	RDA     service.Config `toml:"rda"`
	Fetch   fetchConfig
	Storage storage.Config

	location string
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = DefaultWebAddress
	}
	if c.Server.TileFormat == "" {
		c.Server.TileFormat = DefaultTileFormat
	}
	if c.Server.ShutdownDelay == 0 {
		c.Server.ShutdownDelay = 5
	}
}

// Location is the file the configuration was loaded from, if any.
func (c *Config) Location() string {
	return c.location
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configDir string) error {
	var err error

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = rda.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path: %v", err)
		}
	}

	// [auth].auth_file
	if c.Auth.AuthFile != "" {
		c.Auth.AuthFile, err = rda.ConvertToAbsolute(c.Auth.AuthFile, configDir)
		if err != nil {
			return fmt.Errorf("error converting auth_file setting to absolute path: %v", err)
		}
	}

	// [fetch].temp_dir
	if c.Fetch.TempDir != "" {
		c.Fetch.TempDir, err = rda.ConvertToAbsolute(c.Fetch.TempDir, configDir)
		if err != nil {
			return fmt.Errorf("error converting temp_dir setting to absolute path: %v", err)
		}
	}
	return nil
}

// LoadConfig loads the configuration from a TOML file.  Credentials in the
// ACCESS_KEY and SECRET_KEY environment variables override the file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	c := &Config{}
	md, err := toml.DecodeFile(filename, c)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		rda.Warningf("Ignoring unknown settings in %s: %v\n", filename, undecoded)
	}
	c.location = filename
	c.setDefaults()
	c.RDA.ApplyEnv()

	absPath, err := rda.ConvertToAbsolute(filename, ".")
	if err != nil {
		return nil, err
	}
	if err := c.convertPathsToAbsolute(filepath.Dir(absPath)); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return c, nil
}

// Package appconfig loads connection and logging defaults from an
// optional TOML file and the environment. Command-line flags override
// everything here.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type ConnectionConfig struct {
	Host   string `toml:"host"`
	Port   uint16 `toml:"port"`
	User   string `toml:"user"`
	DBName string `toml:"dbname"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Connection ConnectionConfig `toml:"connection"`
	Logging    LoggingConfig    `toml:"logging"`
}

func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, or the first file found in the
// default locations when path is empty, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pglogstream", "config.toml"))
	}
	candidates = append(candidates, "/etc/pglogstream/config.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PGLOGSTREAM_HOST"); v != "" {
		cfg.Connection.Host = v
	}
	if v := os.Getenv("PGLOGSTREAM_PORT"); v != "" {
		if port, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Connection.Port = uint16(port)
		}
	}
	if v := os.Getenv("PGLOGSTREAM_USER"); v != "" {
		cfg.Connection.User = v
	}
	if v := os.Getenv("PGLOGSTREAM_DBNAME"); v != "" {
		cfg.Connection.DBName = v
	}
	if v := os.Getenv("PGLOGSTREAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

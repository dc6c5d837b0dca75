// Package config loads the server configuration from YAML and command line
// flags. Flags given on the command line win over the file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SimonWaldherr/boxsql/internal/logging"
)

// Config is the server configuration.
type Config struct {
	DSN    string `yaml:"dsn"`
	GRPC   string `yaml:"grpc"`
	HTTP   string `yaml:"http"`
	Log    Log    `yaml:"log"`
	Limits Limits `yaml:"limits"`
	Jobs   []Job  `yaml:"jobs"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Logging converts l for the logging package.
func (l Log) Logging() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format, OutputPath: l.Output}
}

// Limits caps the memory one execution may use. Zero means no limit.
type Limits struct {
	PoolBytes   int `yaml:"pool_bytes"`
	RegionBytes int `yaml:"region_bytes"`
}

// Job is a statement text run on a cron schedule.
type Job struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
	SQL  string `yaml:"sql"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DSN:  ":memory:",
		GRPC: ":9090",
		HTTP: ":8080",
		Log:  Log{Level: "info", Format: "text"},
	}
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Validate checks limits and jobs.
func (c Config) Validate() error {
	var errList []error
	if c.Limits.PoolBytes < 0 || c.Limits.RegionBytes < 0 {
		errList = append(errList, errors.New("limits must not be negative"))
	}
	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		switch {
		case strings.TrimSpace(j.Name) == "":
			errList = append(errList, fmt.Errorf("job %d: missing name", i))
		case seen[j.Name]:
			errList = append(errList, fmt.Errorf("job %q: duplicate name", j.Name))
		}
		seen[j.Name] = true
		if strings.TrimSpace(j.Cron) == "" {
			errList = append(errList, fmt.Errorf("job %q: missing cron expression", j.Name))
		}
		if strings.TrimSpace(j.SQL) == "" {
			errList = append(errList, fmt.Errorf("job %q: missing sql", j.Name))
		}
	}
	return errors.Join(errList...)
}

// FromFlags parses args into a Config. A -config file is loaded first;
// flags set explicitly on the command line override its values.
func FromFlags(fs *flag.FlagSet, args []string) (Config, error) {
	def := Default()
	path := fs.String("config", "", "YAML configuration file")
	dsn := fs.String("dsn", def.DSN, "SQLite database (file path, URI or :memory:)")
	grpcAddr := fs.String("grpc", def.GRPC, "gRPC listen address (empty to disable)")
	httpAddr := fs.String("http", def.HTTP, "HTTP listen address (empty to disable)")
	level := fs.String("log-level", def.Log.Level, "log level: debug, info, warn, error")
	format := fs.String("log-format", def.Log.Format, "log format: text or json")
	verbose := fs.Bool("v", false, "verbose logging (same as -log-level=debug)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	if *path != "" {
		var err error
		if cfg, err = Load(*path); err != nil {
			return Config{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dsn":
			cfg.DSN = *dsn
		case "grpc":
			cfg.GRPC = *grpcAddr
		case "http":
			cfg.HTTP = *httpAddr
		case "log-level":
			cfg.Log.Level = *level
		case "log-format":
			cfg.Log.Format = *format
		case "v":
			if *verbose {
				cfg.Log.Level = "debug"
			}
		}
	})
	return cfg, nil
}

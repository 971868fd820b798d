// Package config loads batchsub settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/batchsub/internal/partition"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// ErrUnknownRegion indicates a region selector with no derivation.
var ErrUnknownRegion = errors.New("unknown region")

// Listing backends.
const (
	BackendXRootD = "xrootd"
	BackendS3     = "s3"
)

// Config holds all configuration values.
type Config struct {
	// Executable is run once per job with -c/-f/-s/-o.
	Executable string `yaml:"executable"`
	// FrameworkConfig is the -c argument; {derivation} is substituted.
	FrameworkConfig string `yaml:"framework_config"`
	// OutputDir is the default job root; {derivation} and {tag} are substituted.
	OutputDir string `yaml:"output_dir"`
	Tag       string `yaml:"tag"`

	// Regions maps the region selector to a derivation name.
	Regions map[int]string `yaml:"regions"`
	// Categories are processed in this order.
	Categories []string         `yaml:"categories"`
	Sizing     partition.Policy `yaml:"sizing"`

	Listing   ListingConfig   `yaml:"listing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Local     LocalConfig     `yaml:"local"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ListingConfig selects and configures the remote file discovery backend.
type ListingConfig struct {
	Backend string `yaml:"backend"`
	Tool    string `yaml:"tool"`
	Host    string `yaml:"host"`
	Base    string `yaml:"base"`
	// Path is the per-category discovery root. Placeholders: {base},
	// {derivation}, {tag}, {category}.
	Path string `yaml:"path"`

	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// Concurrency bounds how many categories are listed at once.
	Concurrency int `yaml:"concurrency"`
}

// SchedulerConfig holds the sbatch flags used in remote mode.
type SchedulerConfig struct {
	Command      string `yaml:"command"`
	TimeLimit    string `yaml:"time_limit"`
	Cores        int    `yaml:"cores"`
	Partition    string `yaml:"partition"`
	ExtraOptions string `yaml:"extra_options"`
}

// LocalConfig controls the local process queue.
type LocalConfig struct {
	Slots               int           `yaml:"slots"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	AbortOnSpawnFailure bool          `yaml:"abort_on_spawn_failure"`
}

// LoggingConfig controls the run log.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File is the JSON run log; empty means <job root>/logs/batchsub.log.
	File string `yaml:"file"`
}

// Default returns the built-in configuration for the monoVH CxAOD production.
func Default() Config {
	return Config{
		Executable:      "./BatchSubmit_gpatlas.sh",
		FrameworkConfig: "data/FrameworkExe_monoVH/framework_monoVH-read_{derivation}.cfg",
		OutputDir:       "batch_{derivation}_{tag}",
		Tag:             "00-16-01",
		Regions: map[int]string{
			0: "HIGG5D1",
			1: "HIGG5D2",
			2: "HIGG2D4",
		},
		Categories: []string{
			"ZnunuB", "ZnunuC", "ZnunuL",
			"ZeeB", "ZeeC", "ZeeL",
			"ZmumuB", "ZmumuC", "ZmumuL",
			"ZtautauB", "ZtautauC", "ZtautauL",
			"WenuB", "WenuC", "WenuL",
			"WmunuB", "WmunuC", "WmunuL",
			"WtaunuB", "WtaunuC", "WtaunuL",
			"ttbar", "singletop_s", "singletop_t", "singletop_Wt",
			"WW", "WZ", "ZZ",
			"monoWjj", "monoZjj",
			"data_extended",
		},
		Sizing: partition.Policy{
			Rules: []partition.Rule{
				{Priority: 1, Pattern: "Znunu*", Size: 1},
				{Priority: 1, Pattern: "Wenu*", Size: 1},
				{Priority: 2, Pattern: "Zee*", Size: 2},
				{Priority: 2, Pattern: "Zmumu*", Size: 2},
			},
			Default: 5,
		},
		Listing: ListingConfig{
			Backend:     BackendXRootD,
			Tool:        "xrdfs",
			Host:        "gpatlas2-ib.local",
			Base:        "/atlas/local/cshimmin/complete",
			Path:        "{base}/{derivation}_13TeV/CxAOD_{tag}/{category}",
			Concurrency: 4,
		},
		Scheduler: SchedulerConfig{
			Command:   "sbatch",
			TimeLimit: "180",
			Cores:     1,
			Partition: "atlas_all",
		},
		Local: LocalConfig{
			Slots:        4,
			PollInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path falls back to BATCHSUB_CONFIG; with
// neither set only defaults and environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("BATCHSUB_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Listing.Host = getEnv("BATCHSUB_XRD_HOST", cfg.Listing.Host)
	cfg.Listing.Base = getEnv("BATCHSUB_XRD_BASE", cfg.Listing.Base)
	cfg.Logging.File = getEnv("BATCHSUB_LOG_FILE", cfg.Logging.File)
	cfg.Logging.Level = getEnv("BATCHSUB_LOG_LEVEL", cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings a run depends on.
func (c Config) Validate() error {
	if c.Executable == "" {
		return fmt.Errorf("%w: executable is required", ErrInvalidConfig)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: no categories configured", ErrInvalidConfig)
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("%w: no regions configured", ErrInvalidConfig)
	}
	if err := c.Sizing.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Listing.Backend {
	case BackendXRootD:
		if c.Listing.Host == "" {
			return fmt.Errorf("%w: listing.host is required for xrootd", ErrInvalidConfig)
		}
	case BackendS3:
		if c.Listing.Bucket == "" {
			return fmt.Errorf("%w: listing.bucket is required for s3", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown listing backend %q", ErrInvalidConfig, c.Listing.Backend)
	}
	if c.Local.Slots < 1 {
		return fmt.Errorf("%w: local.slots must be at least 1", ErrInvalidConfig)
	}
	if c.Local.PollInterval <= 0 {
		return fmt.Errorf("%w: local.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Scheduler.Cores < 1 {
		return fmt.Errorf("%w: scheduler.cores must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Derivation resolves a region selector.
func (c Config) Derivation(region int) (string, error) {
	d, ok := c.Regions[region]
	if !ok {
		return "", fmt.Errorf("%w: %d (known: %s)", ErrUnknownRegion, region, c.regionList())
	}
	return d, nil
}

func (c Config) regionList() string {
	keys := make([]int, 0, len(c.Regions))
	for k := range c.Regions {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%d=%s", k, c.Regions[k])
	}
	return strings.Join(parts, ", ")
}

// FrameworkConfigPath returns the -c argument for a derivation.
func (c Config) FrameworkConfigPath(derivation string) string {
	return expand(c.FrameworkConfig, map[string]string{"derivation": derivation, "tag": c.Tag})
}

// DefaultOutputDir returns the job root used when none is given.
func (c Config) DefaultOutputDir(derivation string) string {
	return expand(c.OutputDir, map[string]string{"derivation": derivation, "tag": c.Tag})
}

// DiscoveryPath returns the remote directory listed for a category.
func (c Config) DiscoveryPath(derivation, category string) string {
	return expand(c.Listing.Path, map[string]string{
		"base":       strings.TrimSuffix(c.Listing.Base, "/"),
		"derivation": derivation,
		"tag":        c.Tag,
		"category":   category,
	})
}

// LogLevel returns the configured slog level.
func (c Config) LogLevel() slog.Level {
	return parseLogLevel(c.Logging.Level)
}

func expand(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package convcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/convcache/gc"
	"github.com/jmgilman/go/convcache/internal/logging"
	"github.com/jmgilman/go/convcache/store"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the cache settings.
//
// Example YAML:
//
//	root: /var/cache/convcache
//	quota_kb: 102400
//	gc_interval: 10
//	layout:
//	  segments: 5
//	  length: 2
//	log:
//	  level: debug
type Config struct {
	// Root is the directory holding all cached results.
	Root string `yaml:"root"`

	// QuotaKB is the disk usage that triggers eviction. Zero or less makes
	// every collection evict everything.
	QuotaKB int64 `yaml:"quota_kb"`

	// GCInterval is the time between collections: minutes when positive,
	// milliseconds when negative. Zero is invalid when GC is enabled.
	GCInterval int `yaml:"gc_interval"`

	// Layout controls the shard directory nesting.
	Layout store.Layout `yaml:"layout"`

	// EnableGC starts the background collector.
	EnableGC bool `yaml:"enable_gc"`

	// PurgeOnStart deletes whatever a previous process left under Root. The
	// index lives in memory only, so leftovers would never count against the
	// quota. It cannot be combined with LockFile, since purging a shared root
	// deletes the artifacts of the other processes.
	PurgeOnStart bool `yaml:"purge_on_start"`

	// LockFile, when set, serializes collections across processes sharing
	// Root. Sharing a root requires PurgeOnStart to be off.
	LockFile string `yaml:"lock_file"`

	Log LogConfig `yaml:"log"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Root:         filepath.Join(os.TempDir(), "convcache"),
		QuotaKB:      10 * 1024,
		GCInterval:   10,
		Layout:       store.DefaultLayout,
		EnableGC:     true,
		PurgeOnStart: true,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file from fs. Fields absent from the file
// keep their DefaultConfig values. The result is validated.
func LoadConfig(fs billy.Filesystem, path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := util.ReadFile(fs, path)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeNotFound, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(fmt.Errorf("%w: %w", ErrInvalidConfig, err), errors.CodeInvalidConfig,
			"failed to parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings. A non-positive quota is allowed.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Root) == "" {
		problems = append(problems, "root is required")
	}
	if c.Layout.Segments < 0 {
		problems = append(problems, "layout.segments cannot be negative")
	}
	if c.Layout.Length <= 0 {
		problems = append(problems, "layout.length must be positive")
	}
	if c.EnableGC {
		if _, err := gc.IntervalFromConfig(c.GCInterval); err != nil {
			problems = append(problems, "gc_interval must be non-zero when gc is enabled")
		}
	}
	if c.PurgeOnStart && c.LockFile != "" {
		problems = append(problems, "purge_on_start cannot be used with lock_file on a shared root")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.WrapWithContext(ErrInvalidConfig, errors.CodeInvalidConfig,
			strings.Join(problems, "; "), map[string]interface{}{"problems": problems})
	}
	return nil
}

func (c LogConfig) loggingConfig() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format}
}

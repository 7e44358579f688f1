package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// Config is the complete xrefsearch configuration.
type Config struct {
	Trees      map[string]TreeConfig `yaml:"trees" json:"trees"`
	Server     ServerConfig          `yaml:"server" json:"server"`
	Codesearch CodesearchConfig      `yaml:"codesearch" json:"codesearch"`
	Logging    LoggingConfig         `yaml:"logging" json:"logging"`
}

// TreeConfig locates one tree's indexes.
type TreeConfig struct {
	// IndexPath holds crossref, identifiers, repo-files, objdir-files and
	// the templates directory.
	IndexPath string `yaml:"index_path" json:"index_path"`

	// CodesearchPath is the full-text daemon's index. Empty disables
	// full-text search for the tree.
	CodesearchPath string `yaml:"codesearch_path" json:"codesearch_path"`

	// CodesearchPort is the daemon's loopback port.
	CodesearchPort int `yaml:"codesearch_port" json:"codesearch_port"`

	// SubtreePrefixes maps a daemon match's tree field to a path prefix.
	SubtreePrefixes map[string]string `yaml:"subtree_prefixes,omitempty" json:"subtree_prefixes,omitempty"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
	// RequestTimeout is a duration string, e.g. "120s".
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	// RateLimit is requests per second across tree routes; 0 disables it.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
	// CrossrefCacheSize is the per-tree decoded record cache size.
	CrossrefCacheSize int `yaml:"crossref_cache_size" json:"crossref_cache_size"`
	// Watch logs a notice when a tree's index files are replaced.
	Watch bool `yaml:"watch" json:"watch"`
	// TelemetryDB persists query telemetry. Empty keeps it in memory.
	TelemetryDB string `yaml:"telemetry_db" json:"telemetry_db"`
}

// CodesearchConfig configures the full-text daemons.
type CodesearchConfig struct {
	// Binary is the daemon executable. Empty re-invokes xrefsearch itself.
	Binary string `yaml:"binary" json:"binary"`
	// RunDir holds pid and lock files.
	RunDir        string `yaml:"run_dir" json:"run_dir"`
	MaxMatches    int    `yaml:"max_matches" json:"max_matches"`
	Threads       int    `yaml:"threads" json:"threads"`
	SearchTimeout string `yaml:"search_timeout" json:"search_timeout"`
	RPCTimeout    string `yaml:"rpc_timeout" json:"rpc_timeout"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// treeNameRe is the set of names usable as the first path segment.
var treeNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Trees: map[string]TreeConfig{},
		Server: ServerConfig{
			Listen:            ":8000",
			RequestTimeout:    "120s",
			CrossrefCacheSize: 4096,
			Watch:             true,
		},
		Codesearch: CodesearchConfig{
			MaxMatches:    1000,
			SearchTimeout: "30s",
			RPCTimeout:    "35s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultPath returns the configuration file used when --config is not
// given:
//   - $XDG_CONFIG_HOME/xrefsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/xrefsearch/config.yaml
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xrefsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "xrefsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "xrefsearch", "config.yaml")
}

// Load reads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. The config file (YAML or JSON); path "" means DefaultPath, which may
//     be absent
//  3. Environment variables (XREFSEARCH_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := cfg.loadFile(path); err != nil {
		// no user config is fine
		missingDefault := !explicit && xerrors.GetCode(err) == xerrors.ErrCodeConfigNotFound
		if !missingDefault {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the file at path into c. yaml.v3 accepts JSON as well.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return xerrors.New(xerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file %s not found", path), err).
				WithSuggestion("Run 'xrefsearch config init' to create one")
		}
		return xerrors.New(xerrors.ErrCodeConfigInvalid, fmt.Sprintf("read %s", path), err)
	}

	if err := c.decode(data); err != nil {
		return xerrors.New(xerrors.ErrCodeConfigInvalid, fmt.Sprintf("parse %s", path), err)
	}
	return nil
}

// decode merges a YAML or JSON document into c. Booleans are seeded from
// c so a key the document omits keeps its current value.
func (c *Config) decode(data []byte) error {
	parsed := Config{Server: ServerConfig{Watch: c.Server.Watch}}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero values from other into c. Booleans are copied
// as is.
func (c *Config) mergeWith(other *Config) {
	for name, tree := range other.Trees {
		c.Trees[name] = tree
	}

	if other.Server.Listen != "" {
		c.Server.Listen = other.Server.Listen
	}
	if other.Server.RequestTimeout != "" {
		c.Server.RequestTimeout = other.Server.RequestTimeout
	}
	if other.Server.RateLimit != 0 {
		c.Server.RateLimit = other.Server.RateLimit
	}
	if other.Server.RateBurst != 0 {
		c.Server.RateBurst = other.Server.RateBurst
	}
	if other.Server.CrossrefCacheSize != 0 {
		c.Server.CrossrefCacheSize = other.Server.CrossrefCacheSize
	}
	if other.Server.TelemetryDB != "" {
		c.Server.TelemetryDB = other.Server.TelemetryDB
	}
	c.Server.Watch = other.Server.Watch

	if other.Codesearch.Binary != "" {
		c.Codesearch.Binary = other.Codesearch.Binary
	}
	if other.Codesearch.RunDir != "" {
		c.Codesearch.RunDir = other.Codesearch.RunDir
	}
	if other.Codesearch.MaxMatches != 0 {
		c.Codesearch.MaxMatches = other.Codesearch.MaxMatches
	}
	if other.Codesearch.Threads != 0 {
		c.Codesearch.Threads = other.Codesearch.Threads
	}
	if other.Codesearch.SearchTimeout != "" {
		c.Codesearch.SearchTimeout = other.Codesearch.SearchTimeout
	}
	if other.Codesearch.RPCTimeout != "" {
		c.Codesearch.RPCTimeout = other.Codesearch.RPCTimeout
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies XREFSEARCH_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("XREFSEARCH_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("XREFSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("XREFSEARCH_REQUEST_TIMEOUT"); v != "" {
		c.Server.RequestTimeout = v
	}
	if v := os.Getenv("XREFSEARCH_RUN_DIR"); v != "" {
		c.Codesearch.RunDir = v
	}
	if v := os.Getenv("XREFSEARCH_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return xerrors.New(xerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("XREFSEARCH_WATCH must be a boolean, got %q", v), err)
		}
		c.Server.Watch = b
	}
	return nil
}

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.New(xerrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
	}

	ports := make(map[int]string)
	for _, name := range c.TreeNames() {
		tree := c.Trees[name]
		if !treeNameRe.MatchString(name) {
			return invalid("tree name %q must be a single path segment", name)
		}
		if tree.IndexPath == "" {
			return invalid("trees.%s.index_path is required", name)
		}
		if tree.CodesearchPath == "" {
			continue
		}
		if tree.CodesearchPort <= 0 || tree.CodesearchPort > 65535 {
			return invalid("trees.%s.codesearch_port out of range: %d", name, tree.CodesearchPort)
		}
		if other, ok := ports[tree.CodesearchPort]; ok {
			return invalid("trees %s and %s share codesearch_port %d", other, name, tree.CodesearchPort)
		}
		ports[tree.CodesearchPort] = name
	}

	for field, v := range map[string]string{
		"server.request_timeout":    c.Server.RequestTimeout,
		"codesearch.search_timeout": c.Codesearch.SearchTimeout,
		"codesearch.rpc_timeout":    c.Codesearch.RPCTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return invalid("%s: %v", field, err)
		}
	}

	if c.Server.RateLimit < 0 {
		return invalid("server.rate_limit must be non-negative, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 0 {
		return invalid("server.rate_burst must be non-negative, got %d", c.Server.RateBurst)
	}
	if c.Codesearch.MaxMatches < 0 {
		return invalid("codesearch.max_matches must be non-negative, got %d", c.Codesearch.MaxMatches)
	}
	if c.Codesearch.Threads < 0 {
		return invalid("codesearch.threads must be non-negative, got %d", c.Codesearch.Threads)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// TreeNames returns the configured tree names, sorted.
func (c *Config) TreeNames() []string {
	names := make([]string, 0, len(c.Trees))
	for name := range c.Trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tree returns the named tree's configuration.
func (c *Config) Tree(name string) (TreeConfig, error) {
	tree, ok := c.Trees[name]
	if !ok {
		return TreeConfig{}, xerrors.New(xerrors.ErrCodeUnknownTree,
			fmt.Sprintf("tree %q is not configured", name), nil).
			WithDetail("trees", strings.Join(c.TreeNames(), ","))
	}
	return tree, nil
}

// RequestTimeout returns the parsed server.request_timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := parseDuration(c.Server.RequestTimeout)
	return d
}

// SearchTimeout returns the parsed codesearch.search_timeout.
func (c *Config) SearchTimeout() time.Duration {
	d, _ := parseDuration(c.Codesearch.SearchTimeout)
	return d
}

// RPCTimeout returns the parsed codesearch.rpc_timeout.
func (c *Config) RPCTimeout() time.Duration {
	d, _ := parseDuration(c.Codesearch.RPCTimeout)
	return d
}

// parseDuration accepts "" (zero) or a time.ParseDuration string.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative, got %s", s)
	}
	return d, nil
}

// WriteYAML writes the configuration to path, creating its directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

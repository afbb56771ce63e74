package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint, or a local file path.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	// Assigned automatically when omitted.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// ParserConfig bounds the streaming ICS parser. Zero values are replaced
// with defaults by Normalize.
type ParserConfig struct {
	// ChunkSize is the read size used when streaming a fetched body
	// into the parser, in bytes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// MaxLineLength bounds a single logical (unfolded) line, in bytes.
	// Longer lines are truncated with a warning.
	MaxLineLength int `yaml:"max_line_length" json:"max_line_length"`

	// DecodePolicy is "replace" (substitute invalid UTF-8 and continue)
	// or "strict" (abort the parse on invalid UTF-8).
	DecodePolicy string `yaml:"decode_policy" json:"decode_policy"`

	// MaxContentBytes is the hard ceiling on total input size.
	MaxContentBytes int64 `yaml:"max_content_bytes" json:"max_content_bytes"`

	// WarnContentBytes logs a warning once the input crosses it.
	WarnContentBytes int64 `yaml:"warn_content_bytes" json:"warn_content_bytes"`

	// MaxIterations bounds how many extracted components one parse
	// may process before aborting.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// MaxParseSeconds bounds wall-clock time for one parse.
	MaxParseSeconds int `yaml:"max_parse_seconds" json:"max_parse_seconds"`

	// MaxStoredEvents caps how many events one parse may retain;
	// further events are scanned but dropped with a truncation warning.
	MaxStoredEvents int `yaml:"max_stored_events" json:"max_stored_events"`
}

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// WindowDays is the length of the expansion window in days.
	WindowDays int `yaml:"window_days" json:"window_days"`

	// MaxOccurrences caps occurrences per recurring event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
}

// Config is the top-level application configuration.
type Config struct {
	// UserEmail, when set, is matched (case-insensitively) against the
	// ORGANIZER of each event to decide is_organizer.
	UserEmail string `yaml:"user_email" json:"user_email"`

	// FollowPattern is a regular expression matched against event
	// subjects to detect forwarded/"Following:" meetings, which are
	// shown as tentative instead of free.
	FollowPattern string `yaml:"follow_pattern" json:"follow_pattern"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used by watch mode for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Parser ParserConfig `yaml:"parser" json:"parser"`
	Expand ExpandConfig `yaml:"expand" json:"expand"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`
}

const (
	defaultChunkSize        = 8192
	defaultMaxLineLength    = 16384
	defaultMaxContentBytes  = 50 << 20
	defaultWarnContentBytes = 10 << 20
	defaultMaxIterations    = 100000
	defaultMaxParseSeconds  = 30
	defaultMaxStoredEvents  = 1000
	defaultWindowDays       = 90
	defaultMaxOccurrences   = 1000
	defaultFollowPattern    = `(?i)^(fwd?|following):`
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		UserEmail:     "",
		FollowPattern: defaultFollowPattern,
		RefreshCron:   "*/15 * * * *",
		Parser: ParserConfig{
			ChunkSize:        defaultChunkSize,
			MaxLineLength:    defaultMaxLineLength,
			DecodePolicy:     "replace",
			MaxContentBytes:  defaultMaxContentBytes,
			WarnContentBytes: defaultWarnContentBytes,
			MaxIterations:    defaultMaxIterations,
			MaxParseSeconds:  defaultMaxParseSeconds,
			MaxStoredEvents:  defaultMaxStoredEvents,
		},
		Expand: ExpandConfig{
			WindowDays:     defaultWindowDays,
			MaxOccurrences: defaultMaxOccurrences,
		},
		ICS: []ICSConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.FollowPattern == "" {
		c.FollowPattern = defaultFollowPattern
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}

	p := &c.Parser
	if p.ChunkSize <= 0 {
		p.ChunkSize = defaultChunkSize
	}
	if p.MaxLineLength <= 0 {
		p.MaxLineLength = defaultMaxLineLength
	}
	switch p.DecodePolicy {
	case "replace", "strict":
		// ok
	default:
		p.DecodePolicy = "replace"
	}
	if p.MaxContentBytes <= 0 {
		p.MaxContentBytes = defaultMaxContentBytes
	}
	if p.WarnContentBytes <= 0 || p.WarnContentBytes > p.MaxContentBytes {
		p.WarnContentBytes = defaultWarnContentBytes
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = defaultMaxIterations
	}
	if p.MaxParseSeconds <= 0 {
		p.MaxParseSeconds = defaultMaxParseSeconds
	}
	if p.MaxStoredEvents <= 0 {
		p.MaxStoredEvents = defaultMaxStoredEvents
	}

	e := &c.Expand
	if e.WindowDays <= 0 {
		e.WindowDays = defaultWindowDays
	}
	if e.MaxOccurrences <= 0 {
		e.MaxOccurrences = defaultMaxOccurrences
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = uuid.NewString()
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calstream-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Package config provides configuration management for inkwell using
// Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files and environment
// variable overrides with an INKWELL_ prefix. One Config value is
// built by Load and passed into every component constructor; nothing
// reads ambient global state after startup.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/inkwell-md/inkwell/internal/filename"
)

// Hard ceilings applied during Load regardless of what the file or
// environment asks for.
const (
	// MaxDebounce caps the watcher debounce window; coalescing longer
	// than this makes the preview feel dead.
	MaxDebounce = 2 * time.Second
)

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Watcher WatcherConfig `yaml:"watcher" mapstructure:"watcher"`
	Scheme  SchemeConfig  `yaml:"scheme" mapstructure:"scheme"`
	Viewer  ViewerConfig  `yaml:"viewer" mapstructure:"viewer"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Note    NoteConfig    `yaml:"note" mapstructure:"note"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// MaxConnections bounds concurrently open TCP connections; the
	// next accept beyond it gets an immediate 503.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`
	// MaxDocs bounds the distinct note documents rendered in one
	// server run.
	MaxDocs int `yaml:"max_docs" mapstructure:"max_docs"`
}

type WatcherConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
	// Liveness is the timeout after which a ping is broadcast so
	// subscribers can detect dead peers.
	Liveness time.Duration `yaml:"liveness" mapstructure:"liveness"`
	// IdleGrace is the minimum watcher lifetime before it may stop
	// itself for lack of subscribers.
	IdleGrace time.Duration `yaml:"idle_grace" mapstructure:"idle_grace"`
	// TerminateOnIdle permits the watcher to stop itself once idle
	// longer than IdleGrace.
	TerminateOnIdle bool `yaml:"terminate_on_idle" mapstructure:"terminate_on_idle"`
}

// SchemeConfig configures the filename codec.
type SchemeConfig struct {
	SortTagChars     string `yaml:"sort_tag_chars" mapstructure:"sort_tag_chars"`
	SortTagSeparator string `yaml:"sort_tag_separator" mapstructure:"sort_tag_separator"`
	ExtraSeparator   string `yaml:"extra_separator" mapstructure:"extra_separator"`
	CounterOpening   string `yaml:"counter_opening" mapstructure:"counter_opening"`
	CounterClosing   string `yaml:"counter_closing" mapstructure:"counter_closing"`
	MaxFilenameLen   int    `yaml:"max_filename_len" mapstructure:"max_filename_len"`
}

type ViewerConfig struct {
	// Root is the sandbox root; empty means the note's directory.
	Root string `yaml:"root" mapstructure:"root"`
	// RewriteMode is one of "off", "rel", "all".
	RewriteMode string `yaml:"rewrite_mode" mapstructure:"rewrite_mode"`
	// RewriteExt appends ".html" to rewritten note links so they
	// resolve to their rendered form.
	RewriteExt bool `yaml:"rewrite_ext" mapstructure:"rewrite_ext"`
	// NoteExtensions lists extensions rendered as note documents.
	NoteExtensions []string `yaml:"note_extensions" mapstructure:"note_extensions"`
	// MIMETypes maps static-asset extensions to content types; an
	// extension absent here is not served at all.
	MIMETypes map[string]string `yaml:"mime_types" mapstructure:"mime_types"`
	// HighlightTheme is the chroma style for fenced code blocks.
	HighlightTheme string `yaml:"highlight_theme" mapstructure:"highlight_theme"`
	// CSS overrides the built-in viewer stylesheet when non-empty.
	CSS string `yaml:"css" mapstructure:"css"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// NoteConfig configures new-note creation.
type NoteConfig struct {
	// Extension used for new notes.
	Extension string `yaml:"extension" mapstructure:"extension"`
	// SortTagFormat is the time layout for the date sort tag.
	SortTagFormat string `yaml:"sort_tag_format" mapstructure:"sort_tag_format"`
	// DefaultTitle is used when no title argument is given.
	DefaultTitle string `yaml:"default_title" mapstructure:"default_title"`
	// Lang is recorded in the YAML header of new notes.
	Lang string `yaml:"lang" mapstructure:"lang"`
}

// SetDefaults registers every default with viper. Called once before
// Load so flag binding and env overrides resolve against them.
func SetDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 0) // 0 = pick a free port
	viper.SetDefault("server.max_connections", 12)
	viper.SetDefault("server.max_docs", 100)

	viper.SetDefault("watcher.debounce", 200*time.Millisecond)
	viper.SetDefault("watcher.liveness", 30*time.Second)
	viper.SetDefault("watcher.idle_grace", 20*time.Second)
	viper.SetDefault("watcher.terminate_on_idle", true)

	scheme := filename.DefaultScheme()
	viper.SetDefault("scheme.sort_tag_chars", scheme.SortTagChars)
	viper.SetDefault("scheme.sort_tag_separator", scheme.SortTagSeparator)
	viper.SetDefault("scheme.extra_separator", scheme.ExtraSeparator)
	viper.SetDefault("scheme.counter_opening", scheme.CounterOpening)
	viper.SetDefault("scheme.counter_closing", scheme.CounterClosing)
	viper.SetDefault("scheme.max_filename_len", scheme.MaxLength)

	viper.SetDefault("viewer.rewrite_mode", "rel")
	viper.SetDefault("viewer.rewrite_ext", true)
	viper.SetDefault("viewer.note_extensions", []string{"md", "markdown", "mdown", "rst", "txt"})
	viper.SetDefault("viewer.mime_types", defaultMIMETypes())
	viper.SetDefault("viewer.highlight_theme", "github")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.max_size_mb", 10)
	viper.SetDefault("logging.max_backups", 3)

	viper.SetDefault("note.extension", "md")
	viper.SetDefault("note.sort_tag_format", "20060102")
	viper.SetDefault("note.default_title", "Untitled")
	viper.SetDefault("note.lang", "en")
}

func defaultMIMETypes() map[string]string {
	return map[string]string{
		"apng": "image/apng",
		"avif": "image/avif",
		"bmp":  "image/bmp",
		"css":  "text/css",
		"gif":  "image/gif",
		"html": "text/html",
		"ico":  "image/vnd.microsoft.icon",
		"jpeg": "image/jpeg",
		"jpg":  "image/jpeg",
		"js":   "text/javascript",
		"json": "application/json",
		"mp3":  "audio/mpeg",
		"mp4":  "video/mp4",
		"ogg":  "audio/ogg",
		"pdf":  "application/pdf",
		"png":  "image/png",
		"svg":  "image/svg+xml",
		"tiff": "image/tiff",
		"txt":  "text/plain",
		"webm": "video/webm",
		"webp": "image/webp",
	}
}

// Load builds the effective configuration from viper state, applies
// defaults, clamps, and validates.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Viper's map/slice handling through Unmarshal is unreliable when
	// values come from env or flags; re-read them explicitly.
	if viper.IsSet("viewer.note_extensions") {
		cfg.Viewer.NoteExtensions = viper.GetStringSlice("viewer.note_extensions")
	}
	if viper.IsSet("viewer.mime_types") {
		cfg.Viewer.MIMETypes = viper.GetStringMapString("viewer.mime_types")
	}

	cfg.Watcher.Debounce = viper.GetDuration("watcher.debounce")
	cfg.Watcher.Liveness = viper.GetDuration("watcher.liveness")
	cfg.Watcher.IdleGrace = viper.GetDuration("watcher.idle_grace")

	applyClamps(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyClamps(cfg *Config) {
	if cfg.Watcher.Debounce > MaxDebounce {
		cfg.Watcher.Debounce = MaxDebounce
	}
	if cfg.Watcher.Debounce <= 0 {
		cfg.Watcher.Debounce = 200 * time.Millisecond
	}
	if cfg.Watcher.Liveness <= 0 {
		cfg.Watcher.Liveness = 30 * time.Second
	}
	if cfg.Watcher.IdleGrace <= 0 {
		cfg.Watcher.IdleGrace = 20 * time.Second
	}
	if cfg.Server.MaxConnections <= 0 {
		cfg.Server.MaxConnections = 12
	}
	if cfg.Server.MaxDocs <= 0 {
		cfg.Server.MaxDocs = 100
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Scheme.SortTagChars == "" {
		return fmt.Errorf("scheme.sort_tag_chars must not be empty")
	}
	switch cfg.Viewer.RewriteMode {
	case "off", "rel", "all":
	default:
		return fmt.Errorf("viewer.rewrite_mode %q is not one of off, rel, all", cfg.Viewer.RewriteMode)
	}
	if len(cfg.Viewer.NoteExtensions) == 0 {
		return fmt.Errorf("viewer.note_extensions must not be empty")
	}
	return nil
}

// FilenameScheme converts the scheme section into the codec's Scheme.
func (c *Config) FilenameScheme() filename.Scheme {
	return filename.Scheme{
		SortTagChars:     c.Scheme.SortTagChars,
		SortTagSeparator: c.Scheme.SortTagSeparator,
		ExtraSeparator:   c.Scheme.ExtraSeparator,
		CounterOpening:   c.Scheme.CounterOpening,
		CounterClosing:   c.Scheme.CounterClosing,
		MaxLength:        c.Scheme.MaxFilenameLen,
	}
}

// IsNoteExtension reports whether ext (without dot) names a renderable
// note document.
func (c *Config) IsNoteExtension(ext string) bool {
	for _, e := range c.Viewer.NoteExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

package log

import (
	"fmt"
	"io"
	"strings"
)

// Config defines logging configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is text or json.
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// File, when set, receives a copy of every entry.
	File string `json:"file" yaml:"file" mapstructure:"file"`

	// NoColor disables ANSI colors in text output.
	NoColor bool `json:"no_color" yaml:"no_color" mapstructure:"no_color"`

	// EnableCaller adds file:line to entries.
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
	}
}

// ApplyConfig builds a logger from config. Console output goes to console,
// or to stderr when console is nil.
func ApplyConfig(config *Config, console io.Writer) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	options := []LoggerOption{WithLevel(level)}

	switch strings.ToLower(config.Format) {
	case "json":
		options = append(options, WithFormatter(&JSONFormatter{}))
	case "text", "":
		f := NewTextFormatter()
		f.DisableColors = config.NoColor
		options = append(options, WithFormatter(f))
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	if console != nil {
		options = append(options, WithOutput(NewConsoleOutput(WithCustomWriter(console))))
	} else {
		options = append(options, WithOutput(NewConsoleOutput(WithStderr())))
	}
	if config.File != "" {
		options = append(options, WithOutput(NewFileOutput(config.File)))
	}
	if config.EnableCaller {
		options = append(options, WithCaller())
	}

	return NewLogger(options...), nil
}

// ParseLevel parses a level string into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

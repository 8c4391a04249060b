// Package logging configures structured logging for ipsecmgr.
//
// Log output is controlled by a spec string with a base level and
// optional per-component overrides, e.g. "info", "warn,manager=debug",
// "info,registry=trace,xfrm=debug". Components are the values of the
// "component" attribute loggers attach to themselves.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar is the environment variable consulted by FromEnv.
const EnvVar = "IPSECMGR_LOG"

// Level is a log level. Values match slog.Level for debug through
// error; trace sits below debug.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// ParseLevel parses trace, debug, info, warn or error
// (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// ToSlog converts the level for use with slog handlers.
func (l Level) ToSlog() slog.Level { return slog.Level(l) }

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Spec is a parsed log specification: a base level plus per-component
// overrides.
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses "<base>[,<component>=<level>]...". The empty string
// means info with no overrides. A bare level is only accepted as the
// first element.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: make(map[string]Level),
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		component, levelStr, isOverride := strings.Cut(part, "=")
		if isOverride {
			component = strings.TrimSpace(component)
			if component == "" {
				return spec, fmt.Errorf("empty component name in %q", part)
			}
			level, err := ParseLevel(levelStr)
			if err != nil {
				return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
			}
			spec.Components[component] = level
			continue
		}
		if i != 0 {
			return spec, fmt.Errorf("base level %q must come first", part)
		}
		level, err := ParseLevel(part)
		if err != nil {
			return spec, err
		}
		spec.BaseLevel = level
	}
	return spec, nil
}

// LevelFor returns the effective level for a component.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// Format selects the log output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses "text" (also the default for "") or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures New. Spec precedence is CLI > environment >
// config file, matching Unix convention.
type Options struct {
	CLISpec    string
	EnvSpec    string
	ConfigSpec string
	Format     Format
	Output     io.Writer
}

// New builds a component-filtered slog.Logger.
func New(opts Options) (*slog.Logger, error) {
	specStr := opts.ConfigSpec
	if opts.EnvSpec != "" {
		specStr = opts.EnvSpec
	}
	if opts.CLISpec != "" {
		specStr = opts.CLISpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	// The inner handler admits everything; the filtering wrapper is the
	// sole gatekeeper.
	handlerOpts := &slog.HandlerOptions{Level: LevelTrace.ToSlog()}
	var inner slog.Handler
	if opts.Format == FormatJSON {
		inner = slog.NewJSONHandler(output, handlerOpts)
	} else {
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Default returns an info-level text logger on stdout.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}

// FromEnv builds a logger from the IPSECMGR_LOG environment variable.
func FromEnv() (*slog.Logger, error) {
	return New(Options{EnvSpec: os.Getenv(EnvVar)})
}

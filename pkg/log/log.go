package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger. Its zero value discards everything until
// Init is called.
var Logger zerolog.Logger

// Level is a log level name as used in the configuration file
type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Unknown or empty levels fall back
// to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithBackend creates a child logger with backend field
func WithBackend(backend string) zerolog.Logger {
	return Logger.With().Str("backend", backend).Logger()
}

// WithLayerID creates a child logger with layer_rsc_id and layer_kind fields
func WithLayerID(kind string, layerRscID int) zerolog.Logger {
	return Logger.With().Str("layer_kind", kind).Int("layer_rsc_id", layerRscID).Logger()
}

// WithResource creates a child logger with node and resource fields.
// snapshot is omitted for live resources.
func WithResource(nodeName, rscName, snapName string) zerolog.Logger {
	ctx := Logger.With().Str("node", nodeName).Str("resource", rscName)
	if snapName != "" {
		ctx = ctx.Str("snapshot", snapName)
	}
	return ctx.Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Infof(format string, args ...any) {
	Logger.Info().Msg(fmt.Sprintf(format, args...))
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Errorf logs msg at error level with err attached
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}

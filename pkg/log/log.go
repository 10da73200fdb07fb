package log

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Config holds logging configuration. Backends lists the enabled sinks
// (stderr, file, syslog); Debug raises verbosity: 0 = info, 1 = debug,
// 2 = trace.
type Config struct {
	Backends       []string
	Debug          int
	Color          bool
	LogFile        string
	LogFileMaxSize int // megabytes, 0 = no rotation
	LogFacility    string
	Output         io.Writer // overrides stderr sink, used by tests
}

var facilities = map[string]syslog.Priority{
	"LOG_DAEMON": syslog.LOG_DAEMON,
	"LOG_USER":   syslog.LOG_USER,
	"LOG_LOCAL0": syslog.LOG_LOCAL0,
	"LOG_LOCAL1": syslog.LOG_LOCAL1,
	"LOG_LOCAL2": syslog.LOG_LOCAL2,
	"LOG_LOCAL3": syslog.LOG_LOCAL3,
	"LOG_LOCAL4": syslog.LOG_LOCAL4,
	"LOG_LOCAL5": syslog.LOG_LOCAL5,
	"LOG_LOCAL6": syslog.LOG_LOCAL6,
	"LOG_LOCAL7": syslog.LOG_LOCAL7,
}

// Init initializes the global logger from the configured sinks.
func Init(cfg Config) error {
	var level zerolog.Level
	switch {
	case cfg.Debug >= 2:
		level = zerolog.TraceLevel
	case cfg.Debug == 1:
		level = zerolog.DebugLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	backends := cfg.Backends
	if len(backends) == 0 {
		backends = []string{"stderr"}
	}

	var writers []io.Writer
	for _, backend := range backends {
		switch backend {
		case "stderr":
			out := cfg.Output
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
				NoColor:    !cfg.Color,
			})
		case "file":
			if cfg.LogFile == "" {
				return fmt.Errorf("file logger backend requires a logfile")
			}
			writers = append(writers, &lumberjack.Logger{
				Filename: cfg.LogFile,
				MaxSize:  cfg.LogFileMaxSize,
			})
		case "syslog":
			facility, ok := facilities[cfg.LogFacility]
			if !ok {
				facility = syslog.LOG_USER
			}
			w, err := syslog.New(facility|syslog.LOG_INFO, "burrow-agent")
			if err != nil {
				return fmt.Errorf("failed to open syslog: %w", err)
			}
			writers = append(writers, zerolog.SyslogLevelWriter(w))
		default:
			return fmt.Errorf("unknown logger backend: %s", backend)
		}
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTarget creates a child logger with target field
func WithTarget(targetID string) zerolog.Logger {
	return Logger.With().Str("target", targetID).Logger()
}

// WithTask creates a child logger with task field
func WithTask(task string) zerolog.Logger {
	return Logger.With().Str("task", task).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

// Debug2 logs at trace level; gated before any formatting so calls in hot
// loops cost a level check when disabled.
func Debug2(msg string) {
	Logger.Trace().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

// Package logger is the process-wide structured logger. Output is JSON on stdout,
// or OpenTelemetry when OTEL_ENABLED=true. Warnings and errors are sampled; the
// counters in counters.go are not.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

const defaultSampleRate = 100

var (
	Logger *slog.Logger

	level      = new(slog.LevelVar)
	sampleRate atomic.Int32
	shutdown   func(context.Context) error
)

// settings is what the environment asks for before any config file is read
type settings struct {
	level      slog.Level
	sampleRate int32
	otel       bool
	service    string
}

func settingsFromEnv() settings {
	s := settings{
		level:      LevelInfo,
		sampleRate: defaultSampleRate,
		service:    "formrules",
	}
	if lvl, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		s.level = lvl
	}
	if n, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && n > 0 {
		s.sampleRate = int32(n)
	}
	s.otel = strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true")
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		s.service = name
	}
	return s
}

func init() {
	s := settingsFromEnv()
	level.Set(s.level)
	sampleRate.Store(s.sampleRate)

	if s.otel {
		handler, stop, err := newOTELHandler(context.Background(), s.service)
		if err == nil {
			shutdown = stop
			install(handler)
			fmt.Fprintf(os.Stderr, "formrules: OpenTelemetry logging for %s (warn/error sampling 1/%d)\n", s.service, s.sampleRate)
			return
		}
		fmt.Fprintf(os.Stderr, "formrules: OpenTelemetry logging unavailable, using JSON: %v\n", err)
	}
	install(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func install(h slog.Handler) {
	Logger = slog.New(h)
	slog.SetDefault(Logger)
}

// Shutdown flushes the OTEL exporter. It is a no-op for JSON output.
func Shutdown(ctx context.Context) error {
	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}

func SetLevel(l slog.Level) { level.Set(l) }

func GetLevel() slog.Level { return level.Level() }

// ParseLevel accepts TRACE, DEBUG, INFO, WARN/WARNING, ERROR and FATAL in any case
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Configure applies the config file settings. Empty values keep the current ones.
func Configure(levelName string, rate int) error {
	if levelName != "" {
		parsed, err := ParseLevel(levelName)
		if err != nil {
			return err
		}
		level.Set(parsed)
	}
	if rate > 0 {
		sampleRate.Store(int32(rate))
	}
	return nil
}

// SampleRate is the current 1-in-N sampling of warnings and errors
func SampleRate() int {
	return int(sampleRate.Load())
}

func sampled() bool {
	n := sampleRate.Load()
	return n <= 1 || rand.Intn(int(n)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn counts every call but only writes one in SampleRate() of them
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if sampled() {
		Logger.Warn(msg, args...)
	}
}

// Error counts every call but only writes one in SampleRate() of them
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if sampled() {
		Logger.Error(msg, args...)
	}
}

// Fatal always logs, flushes OTEL and exits with status 1
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

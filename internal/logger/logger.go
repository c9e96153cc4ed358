package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

var (
	Logger          *slog.Logger
	errorSampleRate int32 = 100 // Log 1 out of every 100 errors by default (configurable via ERROR_SAMPLE_RATE)
	programLevel          = new(slog.LevelVar)
)

// Counters for the stats endpoint (incremented regardless of sampling)
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	Total429Errors atomic.Int64
	SlowRequests   atomic.Int64

	// Annotation definitions skipped because they failed to parse
	RejectedAnnotations atomic.Int64
	// Inhibition conditions that failed to evaluate
	EvaluationFailures atomic.Int64
	// Pipeline messages dropped because they could not be decoded
	DroppedMessages atomic.Int64
)

// Snapshot returns the current counter values keyed by name
func Snapshot() map[string]int64 {
	return map[string]int64{
		"errors":              TotalErrors.Load(),
		"warnings":            TotalWarnings.Load(),
		"http5xx":             Total5xxErrors.Load(),
		"http4xx":             Total4xxErrors.Load(),
		"http400":             Total400Errors.Load(),
		"http404":             Total404Errors.Load(),
		"http429":             Total429Errors.Load(),
		"slowRequests":        SlowRequests.Load(),
		"rejectedAnnotations": RejectedAnnotations.Load(),
		"evaluationFailures":  EvaluationFailures.Load(),
		"droppedMessages":     DroppedMessages.Load(),
	}
}

func init() {
	programLevel.Set(slog.LevelInfo)

	// Get log level from environment variable (default: INFO)
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "INFO"
	}

	level, err := ParseLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}
	programLevel.Set(level)

	// Get error sample rate (default: 100 = 1% of errors/warnings logged)
	// Set ERROR_SAMPLE_RATE=1 to log all errors/warnings
	// Set ERROR_SAMPLE_RATE=100 to log 1% (default)
	// Set ERROR_SAMPLE_RATE=1000 to log 0.1%
	if sampleStr := os.Getenv("ERROR_SAMPLE_RATE"); sampleStr != "" {
		if rate, err := strconv.Atoi(sampleStr); err == nil && rate > 0 {
			atomic.StoreInt32(&errorSampleRate, int32(rate))
		}
	}

	setupJSONLogging(os.Stdout)
	fmt.Fprintf(os.Stderr, "JSON logging enabled (sampling: 1/%d)\n", atomic.LoadInt32(&errorSampleRate))
}

// setupJSONLogging configures JSON logging to w
func setupJSONLogging(w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: programLevel,
	}

	handler := slog.NewJSONHandler(w, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// SetOutput redirects log output, e.g. to stderr for CLI tools
func SetOutput(w io.Writer) {
	setupJSONLogging(w)
}

// SetSampleRate sets how many warnings/errors are emitted: 1 out of rate
func SetSampleRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	atomic.StoreInt32(&errorSampleRate, int32(rate))
}

// Configure applies a level name and sample rate, e.g. from a config file
func Configure(levelStr string, sampleRate int) error {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return err
	}
	SetLevel(level)
	SetSampleRate(sampleRate)
	return nil
}

// SetLevel sets the minimum log level for the logger
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a string level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
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
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// SetLevelFromEnv sets the log level from an environment variable
// If the environment variable is not set or invalid, defaultLevel is used
func SetLevelFromEnv(envVarName string, defaultLevel slog.Level) {
	levelStr := os.Getenv(envVarName)
	if levelStr == "" {
		programLevel.Set(defaultLevel)
		return
	}

	level, err := ParseLevel(levelStr)
	if err != nil {
		// Use default level if parsing fails
		programLevel.Set(defaultLevel)
		return
	}
	programLevel.Set(level)
}

// shouldSample returns true if we should log this message
// Uses sampling to reduce log volume (1 out of every N messages)
func shouldSample() bool {
	rate := atomic.LoadInt32(&errorSampleRate)
	if rate <= 1 {
		return true // Always log if rate is 1 or less
	}
	return rand.Intn(int(rate)) == 0
}

// ============================================================================
// Logging Functions
// ============================================================================

// Trace logs a trace-level message (always logged, never sampled)
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs a debug-level message (always logged, never sampled)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message (always logged, never sampled)
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning-level message WITH SAMPLING
// Metrics counter is always incremented, but log output is sampled
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	// Sample warnings to reduce log spam
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs an error-level message WITH SAMPLING
// Metrics counter is always incremented, but log output is sampled
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	// Sample errors to reduce log spam
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs a fatal-level message and exits (always logged, never sampled)
func Fatal(msg string, args ...any) {
	slog.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

// ============================================================================
// HTTP-Specific Logging Helpers
// ============================================================================

// ErrorHttp5xx logs HTTP 5xx errors and increments counters
// Counters are always incremented regardless of sampling
func ErrorHttp5xx(msg string, args ...any) {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// WarnHttp4xx logs HTTP 4xx warnings and increments counters
// Counters are always incremented regardless of sampling
func WarnHttp4xx(status int, msg string, args ...any) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, append([]any{"status", status}, args...)...)
	}

	// Track specific common 4xx codes
	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	case 429:
		Total429Errors.Add(1)
	}
}

// WarnSlowRequest logs slow request warnings and increments counter
// Counter is always incremented regardless of sampling
func WarnSlowRequest(msg string, args ...any) {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel converts string to a zap level
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Fields represents additional structured fields for logging
type Fields map[string]interface{}

// Logger provides structured logging with context propagation
type Logger struct {
	z *zap.Logger
}

// ErrorInfo contains detailed error information
type ErrorInfo struct {
	Code    string
	Message string
}

// New creates a new Logger instance
func New(level string, format string, output string, enableTracing bool) (*Logger, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stack_trace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var out zapcore.WriteSyncer
	switch output {
	case "stdout", "":
		out = zapcore.Lock(os.Stdout)
	case "stderr":
		out = zapcore.Lock(os.Stderr)
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = zapcore.Lock(file)
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.FatalLevel)}
	if enableTracing {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}

	core := zapcore.NewCore(enc, out, ParseLevel(level))
	return &Logger{z: zap.New(core, opts...)}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// FromZap wraps an existing zap logger
func FromZap(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

// Zap exposes the underlying zap logger for libraries that take one
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// WithContext creates a new logger with context values
func (l *Logger) WithContext(ctx context.Context) *ContextLogger {
	return &ContextLogger{
		logger: l,
		ctx:    ctx,
	}
}

func (l *Logger) log(level zapcore.Level, msg string, fields Fields) {
	if ce := l.z.Check(level, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(zapcore.DebugLevel, msg, mergeFields(fields...))
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(zapcore.InfoLevel, msg, mergeFields(fields...))
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(zapcore.WarnLevel, msg, mergeFields(fields...))
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(zapcore.ErrorLevel, msg, mergeFields(fields...))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, fields ...Fields) {
	l.log(zapcore.FatalLevel, msg, mergeFields(fields...))
}

// ContextLogger wraps Logger with run, session and component information.
// The With* methods return copies so a shared parent is never mutated.
type ContextLogger struct {
	logger    *Logger
	ctx       context.Context
	runID     string
	sessionID string
	component string
	dimension string
}

// WithRunID adds the pipeline run ID
func (cl *ContextLogger) WithRunID(runID string) *ContextLogger {
	c := *cl
	c.runID = runID
	return &c
}

// WithSessionID adds the render session ID
func (cl *ContextLogger) WithSessionID(sessionID string) *ContextLogger {
	c := *cl
	c.sessionID = sessionID
	return &c
}

// WithComponent adds component name
func (cl *ContextLogger) WithComponent(component string) *ContextLogger {
	c := *cl
	c.component = component
	return &c
}

// WithDimension adds the key of the dimension being rendered
func (cl *ContextLogger) WithDimension(key string) *ContextLogger {
	c := *cl
	c.dimension = key
	return &c
}

func (cl *ContextLogger) log(level zapcore.Level, event string, msg string, fields Fields, duration time.Duration, errInfo *ErrorInfo) {
	ce := cl.logger.z.Check(level, msg)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields)+7)
	if cl.runID != "" {
		zf = append(zf, zap.String("run_id", cl.runID))
	}
	if cl.sessionID != "" {
		zf = append(zf, zap.String("session_id", cl.sessionID))
	}
	if cl.component != "" {
		zf = append(zf, zap.String("component", cl.component))
	}
	if cl.dimension != "" {
		zf = append(zf, zap.String("dimension", cl.dimension))
	}
	zf = append(zf, zap.String("event", event))
	if duration > 0 {
		zf = append(zf, zap.Duration("duration", duration))
	}
	if errInfo != nil {
		zf = append(zf, zap.String("error_code", errInfo.Code), zap.String("error", errInfo.Message))
	}
	zf = append(zf, toZap(fields)...)
	ce.Write(zf...)
}

// LogRunStarted logs the start of a pipeline run
func (cl *ContextLogger) LogRunStarted(msg string, fields Fields) {
	cl.log(zapcore.InfoLevel, "RunStarted", msg, fields, 0, nil)
}

// LogRunCompleted logs the end of a pipeline run
func (cl *ContextLogger) LogRunCompleted(msg string, duration time.Duration, fields Fields) {
	cl.log(zapcore.InfoLevel, "RunCompleted", msg, fields, duration, nil)
}

// LogSessionOpened logs a render session launch
func (cl *ContextLogger) LogSessionOpened(msg string, fields Fields) {
	cl.log(zapcore.InfoLevel, "SessionOpened", msg, fields, 0, nil)
}

// LogSessionClosed logs a render session shutdown
func (cl *ContextLogger) LogSessionClosed(msg string, duration time.Duration, fields Fields) {
	cl.log(zapcore.InfoLevel, "SessionClosed", msg, fields, duration, nil)
}

// LogRenderCompleted logs one rendered page
func (cl *ContextLogger) LogRenderCompleted(msg string, duration time.Duration, fields Fields) {
	cl.log(zapcore.DebugLevel, "RenderCompleted", msg, fields, duration, nil)
}

// LogRenderFailed logs a failed page render
func (cl *ContextLogger) LogRenderFailed(msg string, errorCode string, errorMsg string, fields Fields) {
	cl.log(zapcore.ErrorLevel, "RenderFailed", msg, fields, 0, &ErrorInfo{
		Code:    errorCode,
		Message: errorMsg,
	})
}

// LogArchiveCompleted logs a written bundle
func (cl *ContextLogger) LogArchiveCompleted(msg string, duration time.Duration, fields Fields) {
	cl.log(zapcore.InfoLevel, "ArchiveCompleted", msg, fields, duration, nil)
}

// LogArchiveFailed logs a bundle that could not be written
func (cl *ContextLogger) LogArchiveFailed(msg string, errorCode string, errorMsg string, fields Fields) {
	cl.log(zapcore.ErrorLevel, "ArchiveFailed", msg, fields, 0, &ErrorInfo{
		Code:    errorCode,
		Message: errorMsg,
	})
}

// LogUploadStarted logs upload start
func (cl *ContextLogger) LogUploadStarted(msg string, fields Fields) {
	cl.log(zapcore.InfoLevel, "UploadStarted", msg, fields, 0, nil)
}

// LogUploadCompleted logs upload completion
func (cl *ContextLogger) LogUploadCompleted(msg string, duration time.Duration, fields Fields) {
	cl.log(zapcore.InfoLevel, "UploadCompleted", msg, fields, duration, nil)
}

// LogUploadFailed logs upload failure
func (cl *ContextLogger) LogUploadFailed(msg string, errorCode string, errorMsg string, fields Fields) {
	cl.log(zapcore.ErrorLevel, "UploadFailed", msg, fields, 0, &ErrorInfo{
		Code:    errorCode,
		Message: errorMsg,
	})
}

// LogError logs a generic error
func (cl *ContextLogger) LogError(event string, msg string, errorCode string, errorMsg string, fields Fields) {
	cl.log(zapcore.ErrorLevel, event, msg, fields, 0, &ErrorInfo{
		Code:    errorCode,
		Message: errorMsg,
	})
}

// LogInfo logs a generic info message
func (cl *ContextLogger) LogInfo(event string, msg string, fields Fields) {
	cl.log(zapcore.InfoLevel, event, msg, fields, 0, nil)
}

// LogDebug logs a generic debug message
func (cl *ContextLogger) LogDebug(event string, msg string, fields Fields) {
	cl.log(zapcore.DebugLevel, event, msg, fields, 0, nil)
}

// LogWarn logs a generic warning message
func (cl *ContextLogger) LogWarn(event string, msg string, fields Fields) {
	cl.log(zapcore.WarnLevel, event, msg, fields, 0, nil)
}

// toZap converts Fields to zap fields in a stable key order
func toZap(fields Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// mergeFields merges multiple Fields into one
func mergeFields(fields ...Fields) Fields {
	result := Fields{}
	for _, f := range fields {
		for k, v := range f {
			result[k] = v
		}
	}
	return result
}

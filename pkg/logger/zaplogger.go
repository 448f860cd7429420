package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "<redacted>"

// sensitiveKeys are never written out, whatever the caller passes.
var sensitiveKeys = map[string]struct{}{
	"password":        {},
	"sender_password": {},
	"smtp_password":   {},
	"authorization":   {},
	"credentials":     {},
}

type ZapLogger struct {
	log *zap.SugaredLogger
}

var zapLogger *ZapLogger

// NewLogger builds the process-wide logger. Package level helpers add one
// frame on top of the ZapLogger methods, hence the caller skip.
func NewLogger(config zap.Config) (*ZapLogger, error) {
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	defer logger.Sync() //nolint
	zapLogger = newZapLogger(logger)
	return zapLogger, nil
}

// NewLoggerWithCore replaces the process-wide logger with one writing to
// core. Tests use it with an observer core.
func NewLoggerWithCore(core zapcore.Core) *ZapLogger {
	zapLogger = newZapLogger(zap.New(core))
	return zapLogger
}

func newZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{log: l.WithOptions(zap.AddCallerSkip(2)).Sugar()}
}

// scrub replaces the value following any sensitive key. values is treated as
// alternating key/value pairs, the way SugaredLogger reads it.
func scrub(values []any) []any {
	var out []any
	for i := 0; i+1 < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		if _, hit := sensitiveKeys[strings.ToLower(key)]; !hit {
			continue
		}
		if out == nil {
			out = append([]any(nil), values...)
		}
		out[i+1] = redacted
	}
	if out == nil {
		return values
	}
	return out
}

func GetLogger() *ZapLogger {
	if zapLogger == nil {
		panic("logger not initialized")
	}
	return zapLogger
}

// With derives a logger whose methods are called directly, so it drops one
// of the two skipped frames.
func (l *ZapLogger) With(values ...any) Logger {
	return &ZapLogger{log: l.log.With(scrub(values)...).WithOptions(zap.AddCallerSkip(-1))}
}

func (l *ZapLogger) Panic(message string, values ...any) {
	l.log.Panicw(message, scrub(values)...)
}

func (l *ZapLogger) Fatal(error error, values ...any) {
	l.log.Fatalw(error.Error(), scrub(values)...)
}

func (l *ZapLogger) Info(message string, values ...any) {
	l.log.Infow(message, scrub(values)...)
}

func (l *ZapLogger) Warn(message string, values ...any) {
	l.log.Warnw(message, scrub(values)...)
}

func (l *ZapLogger) Error(message string, values ...any) {
	l.log.Errorw(message, scrub(values)...)
}

func (l *ZapLogger) Debug(message string, values ...any) {
	l.log.Debugw(message, scrub(values)...)
}

func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

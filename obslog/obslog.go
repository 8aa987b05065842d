// Package obslog wraps a zap logger with the field names used throughout
// the bus (service, domain, thread, thread_trace, worker_id) so call sites
// stay uniform whether they're in the router, a session, or a worker.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin façade over *zap.Logger.
type Logger struct {
	z *zap.Logger
}

// New builds a production-style JSON logger at the given level.
func New(level zapcore.Level) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Sync() error { return l.z.Sync() }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

func Service(s string) zap.Field         { return zap.String("service", s) }
func Domain(d string) zap.Field          { return zap.String("domain", d) }
func Thread(t string) zap.Field          { return zap.String("thread", t) }
func ThreadTrace(tt int) zap.Field       { return zap.Int("thread_trace", tt) }
func WorkerID(id uint64) zap.Field       { return zap.Uint64("worker_id", id) }
func Err(err error) zap.Field            { return zap.Error(err) }
func Addr(field string, a string) zap.Field { return zap.String(field, a) }

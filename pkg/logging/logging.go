package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is the fixed log schema shared by all pipeline binaries.
// Empty fields are omitted from the output.
type Fields struct {
	Service    string
	OrderID    string
	EventID    string
	Topic      string
	Step       string
	Status     string
	Attempt    int
	DurationMS int64
	Message    string
	Err        error
}

var logger = newLogger()

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l
}

func Log(f Fields) {
	logger.Info(f.Message, zapFields(f)...)
}

func Error(f Fields) {
	logger.Error(f.Message, zapFields(f)...)
}

// Sync flushes buffered entries; call before process exit.
func Sync() {
	_ = logger.Sync()
}

func zapFields(f Fields) []zap.Field {
	out := make([]zap.Field, 0, 9)
	if f.Service != "" {
		out = append(out, zap.String("service", f.Service))
	}
	if f.OrderID != "" {
		out = append(out, zap.String("order_id", f.OrderID))
	}
	if f.EventID != "" {
		out = append(out, zap.String("event_id", f.EventID))
	}
	if f.Topic != "" {
		out = append(out, zap.String("topic", f.Topic))
	}
	if f.Step != "" {
		out = append(out, zap.String("step", f.Step))
	}
	if f.Status != "" {
		out = append(out, zap.String("status", f.Status))
	}
	if f.Attempt > 0 {
		out = append(out, zap.Int("attempt", f.Attempt))
	}
	if f.DurationMS > 0 {
		out = append(out, zap.Int64("duration_ms", f.DurationMS))
	}
	if f.Err != nil {
		out = append(out, zap.Error(f.Err))
	}
	return out
}

package events

import (
	"go.uber.org/zap"
)

// ZapObserver writes events to a zap logger
type ZapObserver struct {
	logger *zap.Logger
}

// NewZapObserver creates an observer; a nil logger is replaced with a no-op logger
func NewZapObserver(logger *zap.Logger) *ZapObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapObserver{logger: logger}
}

// Observe logs e at the matching zap level
func (z *ZapObserver) Observe(e Event) {
	zapFields := make([]zap.Field, 0, len(e.Fields)+1)
	for k, v := range e.Fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	switch e.Level {
	case LevelWarning:
		z.logger.Warn(e.Message, zapFields...)
	case LevelError:
		z.logger.Error(e.Message, zapFields...)
	case LevelSuccess:
		zapFields = append(zapFields, zap.String("outcome", "success"))
		z.logger.Info(e.Message, zapFields...)
	default:
		z.logger.Info(e.Message, zapFields...)
	}
}

package zerolog

import (
	"fmt"

	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/rs/zerolog"
)

// Adapter exposes a zerolog.Logger through logger.Logger
type Adapter struct {
	*zerolog.Logger
}

var _ logger.Logger = (*Adapter)(nil)

// NewAdapter wraps an existing zerolog logger
func NewAdapter(l *zerolog.Logger) *Adapter {
	return &Adapter{l}
}

// Nop returns a logger that discards everything, useful in tests
func Nop() *Adapter {
	l := zerolog.Nop()
	return &Adapter{&l}
}

func (z *Adapter) emit(event *zerolog.Event, args ...any) {
	event.Msg(fmt.Sprint(args...))
}

func (z *Adapter) emitf(event *zerolog.Event, format string, args ...any) {
	event.Msgf(format, args...)
}

// GetLevel implements logger.Logger.
func (z *Adapter) GetLevel() logger.Level { return toLevel(z.Logger.GetLevel()) }

// SetLevel implements logger.Logger.
func (z *Adapter) SetLevel(level logger.Level) { zerolog.SetGlobalLevel(toZerologLevel(level)) }

func (z *Adapter) Print(args ...any) { z.Logger.Print(args...) }
func (z *Adapter) Trace(args ...any) { z.emit(z.Logger.Trace(), args...) }
func (z *Adapter) Debug(args ...any) { z.emit(z.Logger.Debug(), args...) }
func (z *Adapter) Info(args ...any)  { z.emit(z.Logger.Info(), args...) }
func (z *Adapter) Warn(args ...any)  { z.emit(z.Logger.Warn(), args...) }
func (z *Adapter) Error(args ...any) { z.emit(z.Logger.Error(), args...) }
func (z *Adapter) Fatal(args ...any) { z.emit(z.Logger.Fatal(), args...) }
func (z *Adapter) Panic(args ...any) { z.emit(z.Logger.Panic(), args...) }

func (z *Adapter) Printf(format string, args ...any) { z.Logger.Printf(format, args...) }
func (z *Adapter) Tracef(format string, args ...any) { z.emitf(z.Logger.Trace(), format, args...) }
func (z *Adapter) Debugf(format string, args ...any) { z.emitf(z.Logger.Debug(), format, args...) }
func (z *Adapter) Infof(format string, args ...any)  { z.emitf(z.Logger.Info(), format, args...) }
func (z *Adapter) Warnf(format string, args ...any)  { z.emitf(z.Logger.Warn(), format, args...) }
func (z *Adapter) Errorf(format string, args ...any) { z.emitf(z.Logger.Error(), format, args...) }
func (z *Adapter) Fatalf(format string, args ...any) { z.emitf(z.Logger.Fatal(), format, args...) }
func (z *Adapter) Panicf(format string, args ...any) { z.emitf(z.Logger.Panic(), format, args...) }

// WithError implements logger.Logger.
func (z *Adapter) WithError(err error) logger.Logger {
	l := z.With().Err(err).Logger()
	return &Adapter{&l}
}

// WithField implements logger.Logger.
func (z *Adapter) WithField(key string, value any) logger.Logger {
	l := z.With().Interface(key, fmt.Sprint(value)).Logger()
	return &Adapter{&l}
}

// WithFields implements logger.Logger.
func (z *Adapter) WithFields(fields map[string]any) logger.Logger {
	l := z.With().Fields(fields).Logger()
	return &Adapter{&l}
}

var levels = map[zerolog.Level]logger.Level{
	zerolog.Disabled:   logger.Disabled,
	zerolog.NoLevel:    logger.NoLevel,
	zerolog.TraceLevel: logger.TraceLevel,
	zerolog.DebugLevel: logger.DebugLevel,
	zerolog.InfoLevel:  logger.InfoLevel,
	zerolog.WarnLevel:  logger.WarnLevel,
	zerolog.ErrorLevel: logger.ErrorLevel,
	zerolog.FatalLevel: logger.FatalLevel,
	zerolog.PanicLevel: logger.PanicLevel,
}

func toLevel(level zerolog.Level) logger.Level {
	if l, ok := levels[level]; ok {
		return l
	}
	return logger.NoLevel
}

func toZerologLevel(level logger.Level) zerolog.Level {
	for zl, l := range levels {
		if l == level {
			return zl
		}
	}
	return zerolog.NoLevel
}

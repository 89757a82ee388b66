// Package logger предоставляет логирование с префиксом сервиса поверх zerolog.
// Запись идёт через diode-буфер, чтобы не блокировать цикл обработки событий:
// при переполнении буфера строки теряются, а не задерживают вызывающего.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const asyncBufferSize = 8192

var (
	mu     sync.RWMutex
	prefix string
	base   zerolog.Logger
	once   sync.Once
)

func initWriter() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	w := diode.NewWriter(os.Stdout, asyncBufferSize, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger: dropped %d messages\n", missed)
	})
	base = zerolog.New(w).Level(parseLevel(os.Getenv("LOG_LEVEL"))).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	once.Do(initWriter)
	mu.RLock()
	defer mu.RUnlock()
	l := base
	if prefix != "" {
		l = l.With().Str("service", prefix).Logger()
	}
	return &l
}

// SetPrefix задаёт имя сервиса для всех последующих логов (например "chatsync").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel меняет уровень логирования: trace, debug, info, warn, error.
func SetLevel(level string) {
	once.Do(initWriter)
	mu.Lock()
	base = base.Level(parseLevel(level))
	mu.Unlock()
}

// SetOutput перенаправляет вывод синхронно (используется в тестах).
func SetOutput(w io.Writer) {
	once.Do(initWriter)
	mu.Lock()
	base = base.Output(w)
	mu.Unlock()
}

// Module возвращает логгер с полем module для отдельного компонента.
func Module(name string) zerolog.Logger {
	return current().With().Str("module", name).Logger()
}

func Info(v ...any) {
	current().Info().Msg(fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	current().Info().Msgf(format, v...)
}

func Debugf(format string, v ...any) {
	current().Debug().Msgf(format, v...)
}

func Warnf(format string, v ...any) {
	current().Warn().Msgf(format, v...)
}

func Error(v ...any) {
	current().Error().Msg(fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	current().Error().Msgf(format, v...)
}

// LogDuration логирует имя функции и время выполнения.
// На уровне info пишутся только вызовы дольше 100ms, на debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := current()
	if l.GetLevel() <= zerolog.DebugLevel || elapsed >= 100*time.Millisecond {
		l.Info().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Msg("timing")
	}
}

// DeferLogDuration возвращает функцию для defer: defer logger.DeferLogDuration("Store.SelectChat", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

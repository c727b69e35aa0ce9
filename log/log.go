package log

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Log absolutely nothing
	LOGLEVEL_NONE int = iota
	// Log situations that are not expected to happen and
	// are difficult to handle (e.g. a transport failing while a peer is attached)
	LOGLEVEL_ERRORS
	// Log non-critical situations that might happen, but shouldn't (e.g. a reply to a vanished peer)
	LOGLEVEL_WARNINGS
	// Log situations that are expected, but important for the operation (binds, peers joining)
	LOGLEVEL_INFO
	// Log everything
	LOGLEVEL_DEBUG
)

var (
	mu       sync.RWMutex
	logger   zerolog.Logger
	loglevel atomic.Int32
)

func init() {
	logger = newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMicro})
	loglevel.Store(int32(LOGLEVEL_ERRORS))
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("logger", "clustermq").Logger()
}

var loglevel_strings = []string{"[NON]", "[ERR]", "[WRN]", "[INF]", "[DBG]"}

func loglevel_to_string(ll int) string {
	if ll < 0 || ll >= len(loglevel_strings) {
		return "[???]"
	}
	return loglevel_strings[ll]
}

func zerologLevel(ll int) zerolog.Level {
	switch ll {
	case LOGLEVEL_ERRORS:
		return zerolog.ErrorLevel
	case LOGLEVEL_WARNINGS:
		return zerolog.WarnLevel
	case LOGLEVEL_INFO:
		return zerolog.InfoLevel
	case LOGLEVEL_DEBUG:
		return zerolog.DebugLevel
	default:
		return zerolog.NoLevel
	}
}

// Set the global log level
func SetLoglevel(ll int) {
	loglevel.Store(int32(ll))
}

func Loglevel() int {
	return int(loglevel.Load())
}

// Write JSON log lines to w instead of the console writer on stderr.
func SetOutput(w io.Writer) {
	SetLogger(newLogger(w))
}

// Replace the underlying zerolog logger, e.g. with one configured by the application.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Performance-enhancer: Prevent unnecessary log calls
func IsLoggingEnabled(ll int) bool {
	return int(loglevel.Load()) >= ll
}

// Log writes what (formatted like fmt.Sprint) if ll is enabled.
func Log(ll int, what ...interface{}) {
	if e := Event(ll); e != nil {
		e.Msg(fmt.Sprint(what...))
	}
}

// Logf is Log with a format string.
func Logf(ll int, format string, args ...interface{}) {
	if e := Event(ll); e != nil {
		e.Msgf(format, args...)
	}
}

// Event returns a structured zerolog event for ll, or nil if ll is disabled.
// zerolog events are nil-safe, so callers may chain field setters unconditionally.
func Event(ll int) *zerolog.Event {
	if ll == LOGLEVEL_NONE || !IsLoggingEnabled(ll) {
		return nil
	}
	mu.RLock()
	defer mu.RUnlock()
	return logger.WithLevel(zerologLevel(ll)).Str("ll", loglevel_to_string(ll))
}

func mapToChar(i int) byte {
	i = i % (10 + 26 + 26)
	if i < 10 {
		return byte('0' + i)
	} else if i < 10+26 {
		return byte('A' + i - 10)
	} else if i < 10+26+26 {
		return byte('a' + i - 10 - 26)
	}
	return byte('_')
}

// Returns a short random alphanumeric string.
// This is used to tag sockets and pipes in order to track them across log lines.
func GetLogToken() string {
	str := make([]byte, 6)
	for i := range str {
		str[i] = mapToChar(rand.Int())
	}
	return string(str)
}

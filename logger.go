package bitonic

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for bitonic and the devices of all open
// sorters. By default nothing is logged. Pass nil to restore silence.
//
// Log levels used by bitonic:
//   - [slog.LevelDebug]: pass sequence detail (dispatches, uploads, bindings)
//   - [slog.LevelInfo]: lifecycle events (sorter created, closed)
//   - [slog.LevelWarn]: dropped or failed invocations
//
// Example:
//
//	bitonic.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	devicesMu.Lock()
	for ls := range devices {
		ls.SetLogger(l)
	}
	devicesMu.Unlock()
}

// Logger returns the current logger used by bitonic.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

var (
	devicesMu sync.Mutex
	devices   = make(map[loggerSetter]int)
)

// trackDevice passes the current logger to a device and keeps it updated
// until untrackDevice. Devices shared by several sorters are counted.
func trackDevice(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	ls.SetLogger(Logger())
	devicesMu.Lock()
	devices[ls]++
	devicesMu.Unlock()
}

func untrackDevice(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	devicesMu.Lock()
	if devices[ls]--; devices[ls] <= 0 {
		delete(devices, ls)
	}
	devicesMu.Unlock()
}

package gic

import (
	"log/slog"
	"sync/atomic"
)

// Guest-error logging is a separate channel from host errors: it reports
// things the guest did wrong (reserved register accesses, bad encodings,
// walks through invalid tables). Embedders can point it somewhere else
// with SetGuestErrorLogger; by default it decorates the process logger.

var guestErrLogger atomic.Pointer[slog.Logger]

// GuestErr returns the logger for guest-error reports.
func GuestErr() *slog.Logger {
	if l := guestErrLogger.Load(); l != nil {
		return l
	}
	l := slog.Default().With("channel", "guest-error")
	guestErrLogger.CompareAndSwap(nil, l)
	return guestErrLogger.Load()
}

// SetGuestErrorLogger redirects guest-error reports to the given logger.
func SetGuestErrorLogger(l *slog.Logger) {
	guestErrLogger.Store(l)
}

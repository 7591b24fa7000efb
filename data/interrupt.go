package data

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// InterruptHandler is supplied by the host. Check returns a non-nil error
// when the user has requested cancellation.
type InterruptHandler interface {
	Check() error
}

type handlerBox struct{ h InterruptHandler }

var (
	interruptHandler atomic.Pointer[handlerBox]
	// polling the host can be expensive (it may take an interpreter
	// lock), so it is capped at a few calls per second
	interruptLimiter = rate.NewLimiter(rate.Limit(4), 1)
)

// SetInterruptHandler installs h as the process-wide interrupt handle.
// Passing nil removes it.
func SetInterruptHandler(h InterruptHandler) {
	if h == nil {
		interruptHandler.Store(nil)
		return
	}
	interruptHandler.Store(&handlerBox{h: h})
}

// CheckInterrupt polls the installed handler, rate-limited. It returns an
// Interrupted-kind error when the handler reports cancellation.
func CheckInterrupt() error {
	box := interruptHandler.Load()
	if box == nil {
		return nil
	}
	if !interruptLimiter.Allow() {
		return nil
	}
	if err := box.h.Check(); err != nil {
		return Errf(Interrupted, "interrupted: %v", err)
	}
	return nil
}

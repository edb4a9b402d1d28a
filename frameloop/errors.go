package frameloop

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrOutOfDate is reported by Surface.Acquire and Surface.Present when the
	// presentable images no longer match the window. The loop rebuilds on the
	// next tick.
	ErrOutOfDate = errors.New("surface out of date")

	// ErrInvalidSize is reported by Surface.Rebuild when the requested extent
	// can't back a swapchain right now, e.g. a zero-area window mid-drag. The
	// rebuild is retried on the next tick.
	ErrInvalidSize = errors.New("invalid surface size")

	// ErrFatal marks every error the loop gave up on.
	ErrFatal = errors.New("fatal frame loop error")
)

// IsTransient reports whether err is a condition the loop retries on its
// own.
func IsTransient(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrInvalidSize)
}

// IsFatal reports whether err terminated the loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// OutOfDate marks a collaborator error as ErrOutOfDate while keeping its
// message and stack.
func OutOfDate(err error) error {
	if err == nil {
		return ErrOutOfDate
	}
	return errors.Mark(err, ErrOutOfDate)
}

// InvalidSize marks a collaborator error as ErrInvalidSize.
func InvalidSize(err error) error {
	if err == nil {
		return ErrInvalidSize
	}
	return errors.Mark(err, ErrInvalidSize)
}

func fatal(err error, phase Phase, frame uint64) error {
	err = errors.Wrapf(err, "frameloop: %s", phase)
	err = errors.WithDetailf(err, "frame %d", frame)
	return errors.Mark(err, ErrFatal)
}

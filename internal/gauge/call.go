package gauge

import (
	"context"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
)

// actuatorCall runs calls to one actuator under a timeout. A call that
// outlives its timeout keeps running with a cancelled context, and the next
// call waits for it within its own timeout before starting. A stuck actuator
// therefore holds at most one goroutine.
type actuatorCall struct {
	pending chan struct{}
}

// call runs fn and waits for it at most timeout. A timeout of zero runs fn on
// the caller's goroutine. Expiry is reported as a transport timeout unless
// ctx itself is done.
func (a *actuatorCall) call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	errFactory := errors.New()

	if timeout <= 0 {
		return fn(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if a.pending != nil {
		select {
		case <-a.pending:
			a.pending = nil
		case <-cctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return errFactory.WithData(errors.ErrTransportTimeout, "previous call still running")
		}
	}

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		err = fn(cctx)
	}()

	select {
	case <-done:
		return err
	case <-cctx.Done():
		a.pending = done
		if err := ctx.Err(); err != nil {
			return err
		}
		return errFactory.Wrap(errors.ErrTransportTimeout, cctx.Err())
	}
}

// busy reports whether an abandoned call has not returned yet.
func (a *actuatorCall) busy() bool {
	if a.pending == nil {
		return false
	}
	select {
	case <-a.pending:
		a.pending = nil
		return false
	default:
		return true
	}
}

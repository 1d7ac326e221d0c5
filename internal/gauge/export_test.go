package gauge

import (
	"context"
	"time"
)

type ActuatorCall = actuatorCall

func (a *actuatorCall) Call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	return a.call(ctx, timeout, fn)
}

func (a *actuatorCall) Busy() bool {
	return a.busy()
}

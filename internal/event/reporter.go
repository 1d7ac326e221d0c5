package event

import (
	"context"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
)

// Reporter publishes one subsystem's lifecycle and faults to the supervisor.
type Reporter struct {
	from Subsystem
	out  mailbox.Sender[SupervisorEvent]
}

func NewReporter(from Subsystem, out mailbox.Sender[SupervisorEvent]) Reporter {
	return Reporter{from: from, out: out}
}

func (r Reporter) Subsystem() Subsystem {
	return r.from
}

// Initialized blocks until the event is queued or ctx is done.
func (r Reporter) Initialized(ctx context.Context) error {
	return r.out.Send(ctx, Initialized{From: r.from})
}

// Fail annotates err with severity and publishes it. The caller must pick
// the severity; there is no default.
func (r Reporter) Fail(ctx context.Context, err error, severity errors.Severity) error {
	return r.out.Send(ctx, Failed{From: r.from, Err: errors.FromWithSeverity(err, severity)})
}

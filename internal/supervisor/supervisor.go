// Package supervisor collects lifecycle and fault events from every task and
// turns them into diagnostics.
package supervisor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
	"codeberg.org/mutker/gaugectl/internal/metrics"
	"github.com/rs/zerolog"
)

// Alerter receives faults that need an operator. Implementations must not
// block.
type Alerter interface {
	Alert(ctx context.Context, failure event.Failed)
}

type AlerterFunc func(ctx context.Context, failure event.Failed)

func (f AlerterFunc) Alert(ctx context.Context, failure event.Failed) {
	f(ctx, failure)
}

// Status is a point-in-time copy of what the supervisor has seen.
type Status struct {
	Initialized map[event.Subsystem]bool
	Faults      map[errors.Severity]int
	LastFault   *event.Failed
	LastFaultAt time.Time
}

// TotalFaults sums the per-severity counters.
func (s Status) TotalFaults() int {
	total := 0
	for _, n := range s.Faults {
		total += n
	}
	return total
}

type response func(ctx context.Context, failure event.Failed)

type Option func(*Supervisor)

func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(s *Supervisor) {
		s.recorder = r
	}
}

func WithAlerter(a Alerter) Option {
	return func(s *Supervisor) {
		s.alerter = a
	}
}

type Supervisor struct {
	inbox    mailbox.Receiver[event.SupervisorEvent]
	log      logger.Logger
	recorder metrics.Recorder
	alerter  Alerter
	policy   map[errors.Severity]response
	now      func() time.Time

	mu          sync.RWMutex
	initialized map[event.Subsystem]bool
	faults      map[errors.Severity]int
	lastFault   *event.Failed
	lastFaultAt time.Time
}

func New(inbox mailbox.Receiver[event.SupervisorEvent], opts ...Option) *Supervisor {
	s := &Supervisor{
		inbox:       inbox,
		log:         logger.New(zerolog.Nop()),
		recorder:    metrics.Nop(),
		now:         time.Now,
		initialized: make(map[event.Subsystem]bool),
		faults:      make(map[errors.Severity]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Severities without an entry are warned about.
	s.policy = map[errors.Severity]response{
		errors.CompleteFailure: s.escalate,
	}

	return s
}

// Run consumes events until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Debug().Msg("Supervisor started")

	for {
		ev, err := s.inbox.Receive(ctx)
		if err != nil {
			s.log.Debug().Msg("Supervisor stopped")
			return nil
		}
		s.handle(ctx, ev)
	}
}

func (s *Supervisor) handle(ctx context.Context, ev event.SupervisorEvent) {
	switch e := ev.(type) {
	case event.Initialized:
		s.log.Info().Str("subsystem", e.From.String()).Msg("Subsystem initialized")

		s.mu.Lock()
		s.initialized[e.From] = true
		s.mu.Unlock()
	case event.Failed:
		s.onFailed(ctx, e)
	default:
		s.log.Warn().Interface("event", ev).Msg("Unknown supervisor event")
	}
}

func (s *Supervisor) onFailed(ctx context.Context, e event.Failed) {
	if e.Err == nil {
		e.Err = errors.FromWithSeverity(nil, errors.CompleteFailure)
	}

	at := s.now()
	severity := e.Err.Severity()

	respond, ok := s.policy[severity]
	if !ok {
		respond = s.warn
	}
	respond(ctx, e)

	s.mu.Lock()
	s.faults[severity]++
	s.lastFault = &e
	s.lastFaultAt = at
	s.mu.Unlock()

	if err := s.recorder.RecordFault(ctx, &metrics.FaultRecord{
		Timestamp: at,
		Subsystem: e.From.String(),
		Cause:     e.Err.Cause().String(),
		Severity:  severity.String(),
		Message:   e.Err.Error(),
	}); err != nil {
		s.log.Debug().Err(err).Msg("Failed to record fault")
	}
}

func (s *Supervisor) warn(_ context.Context, e event.Failed) {
	s.log.Fault(e.Err).Str("subsystem", e.From.String()).Msg("Subsystem error")
}

func (s *Supervisor) escalate(ctx context.Context, e event.Failed) {
	s.log.Error().
		Str("subsystem", e.From.String()).
		Str("cause", e.Err.Cause().String()).
		Str("severity", e.Err.Severity().String()).
		Err(e.Err).
		Msg("Subsystem failed completely")

	if s.alerter != nil {
		s.alert(ctx, e)
	}
}

// alert keeps a panicking Alerter from taking the supervisor down with it.
func (s *Supervisor) alert(ctx context.Context, e event.Failed) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("subsystem", e.From.String()).
				Interface("panic", r).
				Msg("Alerter panicked")
		}
	}()

	s.alerter.Alert(ctx, e)
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Initialized: make(map[event.Subsystem]bool, len(s.initialized)),
		Faults:      make(map[errors.Severity]int, len(s.faults)),
		LastFaultAt: s.lastFaultAt,
	}
	for k, v := range s.initialized {
		st.Initialized[k] = v
	}
	for k, v := range s.faults {
		st.Faults[k] = v
	}
	if s.lastFault != nil {
		last := *s.lastFault
		st.LastFault = &last
	}

	return st
}

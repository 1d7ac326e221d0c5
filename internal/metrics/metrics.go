package metrics

import (
	"context"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopRecorder struct{}

// NewService returns a SQLite-backed recorder, or a no-op one when metrics
// are disabled.
func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics is disabled, return a no-op collector
	if !cfg.Enabled {
		log.Debug().Msg("Metrics collection disabled, using no-op recorder")
		return Nop(), nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create metrics repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Bool("enabled", cfg.Enabled).
		Msg("Metrics service initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

// Nop returns a recorder that discards everything.
func Nop() Recorder {
	return &noopRecorder{}
}

func (s *service) RecordFrame(ctx context.Context, snapshot *FrameSnapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidMetrics)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.StoreFrame(snapshot)
	}
}

func (s *service) RecordFault(ctx context.Context, fault *FaultRecord) error {
	errFactory := errors.New()

	if fault == nil {
		return errFactory.New(ErrInvalidMetrics)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.StoreFault(fault)
	}
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*noopRecorder) RecordFrame(_ context.Context, _ *FrameSnapshot) error {
	return nil
}

func (*noopRecorder) RecordFault(_ context.Context, _ *FaultRecord) error {
	return nil
}

func (*noopRecorder) Close() error {
	return nil
}

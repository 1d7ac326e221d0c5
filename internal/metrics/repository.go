package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	backupDir     string
	mu            sync.Mutex
	frames        []*FrameSnapshot
	faults        []*FaultRecord
	dropped       int
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	backupDir := filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	if err := ValidateAndUpdateSchema(db, backupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		backupDir:     backupDir,
		frames:        make([]*FrameSnapshot, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Periodic flushing only when batching is enabled
	if repo.batching() {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) batching() bool {
	return r.cfg.BatchSize > 1 && r.cfg.BatchTimeout > 0
}

func (r *repository) StoreFrame(snapshot *FrameSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames = append(r.frames, snapshot)

	if !r.batching() || r.pending() >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) StoreFault(fault *FaultRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.faults = append(r.faults, fault)

	if !r.batching() || r.pending() >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) pending() int {
	return len(r.frames) + len(r.faults)
}

func (r *repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.close()
	})
	return err
}

func (r *repository) close() error {
	close(r.shutdownChan)

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for the flusher's final flush
	<-r.flushDoneChan

	r.mu.Lock()
	if err := r.flush(); err != nil {
		r.logger.Warn().Err(err).Msg("Final metrics flush failed")
	}
	r.mu.Unlock()

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Metrics repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic metrics flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes both buffers in one transaction. Caller holds r.mu. The
// buffers are emptied whether or not the write succeeds, so a broken database
// costs the pending entries and never grows memory or retry work.
func (r *repository) flush() error {
	if r.pending() == 0 {
		return nil
	}

	frames, faults := len(r.frames), len(r.faults)
	err := r.write()
	clear(r.frames)
	clear(r.faults)
	r.frames = r.frames[:0]
	r.faults = r.faults[:0]

	if err != nil {
		r.dropped += frames + faults
		r.logger.Warn().
			Err(err).
			Int("frames", frames).
			Int("faults", faults).
			Int("dropped_total", r.dropped).
			Msg("Dropped metrics after failed flush")
		return err
	}

	r.logger.Debug().
		Int("frames", frames).
		Int("faults", faults).
		Msg("Flushed metrics to database")

	return nil
}

func (r *repository) write() error {
	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := r.insertFrames(tx); err != nil {
		r.rollback(tx)
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	if err := r.insertFaults(tx); err != nil {
		r.rollback(tx)
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}

func (r *repository) insertFrames(tx *sql.Tx) error {
	if len(r.frames) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(GetInsertFrameSQL())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range r.frames {
		if _, err := stmt.Exec(
			f.Timestamp.UnixMilli(),
			f.Value,
			f.FillLevel,
			f.StepperTarget,
			boolToInt(f.BacklightOn),
		); err != nil {
			return err
		}
	}

	return nil
}

func (r *repository) insertFaults(tx *sql.Tx) error {
	if len(r.faults) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(GetInsertFaultSQL())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range r.faults {
		if _, err := stmt.Exec(
			f.Timestamp.UnixMilli(),
			f.Subsystem,
			f.Cause,
			f.Severity,
			f.Message,
		); err != nil {
			return err
		}
	}

	return nil
}

func (r *repository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to roll back transaction")
	}
}

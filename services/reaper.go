package services

import (
	"time"

	"github.com/rs/zerolog"

	"gif-compressor/database"
)

// Reaper periodically removes jobs whose retention window has passed,
// together with their on-disk artifacts. It is not time-critical: anything
// that fails is picked up again on the next tick.
type Reaper struct {
	db       *database.Database
	storage  *StorageService
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
}

func NewReaper(db *database.Database, storage *StorageService, interval time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		db:       db,
		storage:  storage,
		interval: interval,
		log:      log.With().Str("component", "reaper").Logger(),
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (r *Reaper) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.Sweep(time.Now())
			}
		}
	}()
}

func (r *Reaper) Stop() {
	close(r.stop)
}

// Sweep deletes every expired job. Missing artifact files are ignored: the
// record owns the files, so a half-deleted job just finishes deleting here.
func (r *Reaper) Sweep(now time.Time) int {
	expired, err := r.db.ExpiredJobs(now)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to query expired jobs")
		return 0
	}

	reaped := 0
	for _, job := range expired {
		if err := r.storage.Delete(job.CompressedPath); err != nil {
			r.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to delete compressed artifact")
			continue
		}
		if err := r.storage.Delete(job.OriginalPath); err != nil {
			r.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to delete original artifact")
			continue
		}
		if _, err := r.db.DeleteJob(job.ID); err != nil {
			r.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to delete job record")
			continue
		}
		reaped++
	}

	if reaped > 0 {
		r.log.Info().Int("reaped", reaped).Msg("expired jobs removed")
	}
	return reaped
}

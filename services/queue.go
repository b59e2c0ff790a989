package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gif-compressor/database"
	"gif-compressor/predictor"
)

// Progress milestones. Upload owns 0..25; processing animates 25..99; only a
// successful exit of the tool may publish 100.
const (
	progressProcessing = 25
	progressCeiling    = 99
	progressDone       = 100
)

// QueueService is the bounded worker pool. Admission is FIFO; the worker
// count adjusts at runtime between 1 and a configured maximum. In-flight
// jobs are never cancelled by a shrink, the pool simply stops dispatching
// until active drops below the target.
type QueueService struct {
	db        *database.Database
	storage   *StorageService
	gifsicle  *GifsicleService
	predictor *predictor.Predictor
	bus       *EventBus
	log       zerolog.Logger

	retention time.Duration

	mu             sync.Mutex
	cond           *sync.Cond
	pending        []string
	active         int
	concurrency    int
	maxConcurrency int
	closed         bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueueService(db *database.Database, storage *StorageService, gifsicle *GifsicleService, pred *predictor.Predictor, bus *EventBus, concurrency, maxConcurrency int, retention time.Duration, log zerolog.Logger) *QueueService {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &QueueService{
		db:             db,
		storage:        storage,
		gifsicle:       gifsicle,
		predictor:      pred,
		bus:            bus,
		log:            log.With().Str("component", "queue").Logger(),
		retention:      retention,
		concurrency:    concurrency,
		maxConcurrency: maxConcurrency,
		ctx:            ctx,
		cancel:         cancel,
	}
	q.cond = sync.NewCond(&q.mu)

	go q.dispatch()
	return q
}

// Submit admits a job. It returns once the job is queued, not when it starts.
func (q *QueueService) Submit(jobID string) {
	q.mu.Lock()
	q.pending = append(q.pending, jobID)
	q.cond.Signal()
	q.mu.Unlock()

	q.publishQueueStatus()
}

// SetConcurrency adjusts the worker target, clamped to [1, max].
func (q *QueueService) SetConcurrency(n int) int {
	if n < 1 {
		n = 1
	}
	if n > q.maxConcurrency {
		n = q.maxConcurrency
	}

	q.mu.Lock()
	q.concurrency = n
	q.cond.Broadcast()
	q.mu.Unlock()

	q.publishQueueStatus()
	return n
}

// Status reports the pool shape: active = currently executing jobs,
// pending = admitted but not yet started.
func (q *QueueService) Status() QueueStatusPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatusPayload{
		Concurrency: q.concurrency,
		Active:      q.active,
		Pending:     len(q.pending),
	}
}

// MaxConcurrency returns the configured upper bound.
func (q *QueueService) MaxConcurrency() int {
	return q.maxConcurrency
}

// Shutdown stops dispatching and waits for in-flight jobs up to the timeout.
func (q *QueueService) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func (q *QueueService) dispatch() {
	for {
		q.mu.Lock()
		for !q.closed && (len(q.pending) == 0 || q.active >= q.concurrency) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		jobID := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		// Registered before the lock drops so Shutdown cannot miss a job
		// that has been dequeued but not yet started.
		q.wg.Add(1)
		q.mu.Unlock()

		q.publishQueueStatus()

		go func(id string) {
			defer q.wg.Done()
			q.runJob(id)

			q.mu.Lock()
			q.active--
			q.cond.Signal()
			q.mu.Unlock()
			q.publishQueueStatus()
		}(jobID)
	}
}

func (q *QueueService) publishQueueStatus() {
	q.bus.PublishQueueStatus(q.Status())
}

func (q *QueueService) runJob(jobID string) {
	job, err := q.db.GetJob(jobID)
	if err != nil {
		// Deleted while queued; nothing to run.
		q.log.Debug().Str("job_id", jobID).Msg("queued job vanished before start")
		return
	}
	if job.Status != database.StatusQueued {
		q.log.Warn().Str("job_id", jobID).Str("status", job.Status).Msg("skipping job in unexpected status")
		return
	}

	started := time.Now()
	if err := q.db.UpdateJob(jobID, map[string]interface{}{
		"status":     database.StatusProcessing,
		"progress":   progressProcessing,
		"started_at": started,
	}); err != nil {
		q.log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job processing")
		return
	}
	q.bus.PublishJobStatus(jobID, JobStatusPayload{
		Status:   database.StatusProcessing,
		Progress: progressProcessing,
	})

	info := GifInfo{
		Width:  job.OriginalWidth,
		Height: job.OriginalHeight,
		Frames: 1,
		Size:   job.OriginalSize,
	}
	if probed, err := q.gifsicle.Probe(q.ctx, job.OriginalPath); err == nil {
		info = probed
	}

	estimateMs := q.predictor.Predict(fileInfo(info), job.Options)

	animator := newProgressAnimator(q, jobID, info, job.Options, estimateMs)
	animator.start()

	outputPath := q.storage.OutputPath()
	result, err := q.gifsicle.Compress(q.ctx, job.Options, info, job.OriginalPath, outputPath)
	animator.stop()

	elapsed := time.Since(started)
	if err != nil {
		q.failJob(jobID, err)
		return
	}
	q.completeJob(job, result, started, elapsed, info)
}

func (q *QueueService) failJob(jobID string, cause error) {
	q.log.Warn().Err(cause).Str("job_id", jobID).Msg("compression failed")

	if err := q.db.UpdateJob(jobID, map[string]interface{}{
		"status":            database.StatusFailed,
		"progress":          0,
		"error_message":     cause.Error(),
		"compressed_path":   "",
		"compressed_size":   0,
		"compressed_width":  0,
		"compressed_height": 0,
		"reduction_percent": 0,
	}); err != nil {
		q.log.Error().Err(err).Str("job_id", jobID).Msg("failed to persist failure")
	}

	q.bus.PublishJobStatus(jobID, JobStatusPayload{
		Status:       database.StatusFailed,
		Progress:     0,
		ErrorMessage: cause.Error(),
	})
}

func (q *QueueService) completeJob(job *database.Job, result *CompressResult, started time.Time, elapsed time.Duration, info GifInfo) {
	reduction := 0.0
	if job.OriginalSize > 0 {
		reduction = 100 * float64(job.OriginalSize-result.Size) / float64(job.OriginalSize)
		reduction = math.Round(reduction*10) / 10
	}

	completed := time.Now()
	patch := map[string]interface{}{
		"status":            database.StatusCompleted,
		"progress":          progressDone,
		"compressed_path":   result.Path,
		"compressed_size":   result.Size,
		"compressed_width":  result.Width,
		"compressed_height": result.Height,
		"reduction_percent": reduction,
		"completed_at":      completed,
		"error_message":     "",
	}
	if q.retention > 0 {
		patch["expires_at"] = completed.Add(q.retention)
	}

	if err := q.db.UpdateJob(job.ID, patch); err != nil {
		q.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist completion")
		return
	}

	q.bus.PublishJobStatus(job.ID, JobStatusPayload{
		Status:           database.StatusCompleted,
		Progress:         progressDone,
		CompressedSize:   result.Size,
		CompressedWidth:  result.Width,
		CompressedHeight: result.Height,
		ReductionPercent: reduction,
	})

	q.predictor.Observe(job.ID, fileInfo(info), job.Options, elapsed.Milliseconds())

	q.log.Info().
		Str("job_id", job.ID).
		Int64("original_size", job.OriginalSize).
		Int64("compressed_size", result.Size).
		Float64("reduction_percent", reduction).
		Dur("elapsed", elapsed).
		Msg("job completed")
}

func fileInfo(info GifInfo) predictor.FileInfo {
	return predictor.FileInfo{
		Width:     info.Width,
		Height:    info.Height,
		Frames:    info.Frames,
		SizeBytes: info.Size,
	}
}

// progressAnimator synthesizes progress while the tool runs: gifsicle emits
// nothing, so the pool raises progress along a curve paced by the predictor's
// estimate. Small jobs tick fast with large increments, large jobs tick
// slowly with small ones; the value clamps at 99 until the tool exits.
type progressAnimator struct {
	queue      *QueueService
	jobID      string
	step       int
	interval   time.Duration
	cancelOnce sync.Once
	done       chan struct{}
	finished   chan struct{}
}

const (
	animStart   = 10
	animCeiling = 99
	minTick     = 50 * time.Millisecond
	maxTick     = 2 * time.Second
)

func newProgressAnimator(q *QueueService, jobID string, info GifInfo, opts database.CompressionOptions, estimateMs int64) *progressAnimator {
	step, interval := animationPace(info, opts, estimateMs)
	return &progressAnimator{
		queue:    q,
		jobID:    jobID,
		step:     step,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// animationPace derives tick size and interval from a work estimate: an
// inverse-log of the pixel volume scaled by option penalties. The interval is
// then fitted so the animation expects to land at the ceiling when the
// predictor expects the tool to exit.
func animationPace(info GifInfo, opts database.CompressionOptions, estimateMs int64) (int, time.Duration) {
	totalPixels := float64(info.Frames) * float64(info.Width) * float64(info.Height)
	invLog := 1 / math.Log10(totalPixels+10)

	penalty := 1 + float64(opts.CompressionLevel)/200
	if opts.OptimizeTransparency {
		penalty *= 1.15
	}
	if opts.UndoOptimizations {
		penalty *= 1.25
	}
	if opts.ReduceColors {
		penalty *= 1.2
	}

	step := int(60 * invLog / penalty)
	if step < 1 {
		step = 1
	}
	if step > 15 {
		step = 15
	}

	ticks := float64(animCeiling-animStart) / float64(step)
	interval := time.Duration(float64(estimateMs)/ticks) * time.Millisecond
	if interval < minTick {
		interval = minTick
	}
	if interval > maxTick {
		interval = maxTick
	}
	return step, interval
}

func (a *progressAnimator) start() {
	go func() {
		defer close(a.finished)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		internal := animStart
		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				if internal < animCeiling {
					internal += a.step
					if internal > animCeiling {
						internal = animCeiling
					}
				}
				a.publish(internal)
			}
		}
	}()
}

// publish maps the internal 10..99 curve into the processing phase's 25..99
// display window, keeping progress monotonic across the phase boundary.
func (a *progressAnimator) publish(internal int) {
	displayed := progressProcessing + (internal-animStart)*(progressCeiling-progressProcessing)/(animCeiling-animStart)
	if displayed > progressCeiling {
		displayed = progressCeiling
	}

	if err := a.queue.db.UpdateJob(a.jobID, map[string]interface{}{"progress": displayed}); err != nil {
		return
	}
	a.queue.bus.PublishJobStatus(a.jobID, JobStatusPayload{
		Status:   database.StatusProcessing,
		Progress: displayed,
	})
}

func (a *progressAnimator) stop() {
	a.cancelOnce.Do(func() { close(a.done) })
	<-a.finished
}

package database

import (
	"errors"
	"time"
)

// Job statuses. Transitions: uploading -> queued -> processing -> completed|failed,
// plus failed -> queued via retry.
const (
	StatusUploading  = "uploading"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DropFrames modes: keep every Nth frame.
const (
	DropFramesNone = "none"
	DropFramesN2   = "n2"
	DropFramesN3   = "n3"
	DropFramesN4   = "n4"
)

// CompressionOptions is the option set frozen into a job at admission.
// Retry resets lifecycle fields but never touches these.
type CompressionOptions struct {
	CompressionLevel     int    `json:"compression_level"` // 1..200, higher = smaller output
	DropFrames           string `json:"drop_frames"`       // none, n2, n3, n4
	ReduceColors         bool   `json:"reduce_colors"`
	NumberOfColors       int    `json:"number_of_colors"` // 2..256, applied only when ReduceColors
	OptimizeTransparency bool   `json:"optimize_transparency"`
	UndoOptimizations    bool   `json:"undo_optimizations"`
	ResizeEnabled        bool   `json:"resize_enabled"`
	TargetWidth          int    `json:"target_width,omitempty"`
	TargetHeight         int    `json:"target_height,omitempty"`
}

// DefaultCompressionOptions returns the options applied when the client sends none.
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		CompressionLevel: 30,
		DropFrames:       DropFramesNone,
		NumberOfColors:   256,
	}
}

// Normalize fills gaps a client is allowed to leave empty.
func (o *CompressionOptions) Normalize() {
	if o.CompressionLevel == 0 {
		o.CompressionLevel = DefaultCompressionOptions().CompressionLevel
	}
	if o.DropFrames == "" {
		o.DropFrames = DropFramesNone
	}
	if o.NumberOfColors == 0 {
		o.NumberOfColors = 256
	}
}

// Validate rejects option sets the tool cannot honor. Admission-time only:
// options are frozen once the job exists.
func (o CompressionOptions) Validate() error {
	if o.CompressionLevel < 1 || o.CompressionLevel > 200 {
		return errors.New("compression_level must be between 1 and 200")
	}
	switch o.DropFrames {
	case DropFramesNone, DropFramesN2, DropFramesN3, DropFramesN4:
	default:
		return errors.New("drop_frames must be one of none, n2, n3, n4")
	}
	if o.ReduceColors && (o.NumberOfColors < 2 || o.NumberOfColors > 256) {
		return errors.New("number_of_colors must be between 2 and 256")
	}
	if o.TargetWidth < 0 || o.TargetHeight < 0 {
		return errors.New("target dimensions must be positive")
	}
	if o.ResizeEnabled && o.TargetWidth == 0 && o.TargetHeight == 0 {
		return errors.New("resize requires a target width or height")
	}
	return nil
}

// Job is the primary entity. The database record is the authority; worker state
// is a transient reflection of it.
type Job struct {
	ID        string `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"index" json:"session_id,omitempty"`
	Status    string `gorm:"index" json:"status"`
	Progress  int    `json:"progress"`

	OriginalFilename string `json:"original_filename"`
	OriginalSize     int64  `json:"original_size"`
	OriginalPath     string `json:"-"`
	OriginalWidth    int    `json:"original_width,omitempty"`
	OriginalHeight   int    `json:"original_height,omitempty"`

	Options CompressionOptions `gorm:"type:text;serializer:json" json:"options"`

	CompressedPath   string  `json:"-"`
	CompressedSize   int64   `json:"compressed_size,omitempty"`
	CompressedWidth  int     `json:"compressed_width,omitempty"`
	CompressedHeight int     `json:"compressed_height,omitempty"`
	ReductionPercent float64 `json:"reduction_percent,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `gorm:"index:idx_jobs_created_at,sort:desc" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
}

// PredictionSample is an append-only training record for the predictor:
// the features of a completed job and its observed wall-clock time.
type PredictionSample struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	JobID        string    `gorm:"index" json:"job_id"`
	FeaturesJSON string    `gorm:"type:text" json:"features_json"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// PredictionResidual carries an exponential-moving-average correction in
// log-seconds, keyed by a coarse bucket string such as "drop_frames=n2".
type PredictionResidual struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	EMA       float64   `gorm:"column:ema" json:"ema"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobCounts is the per-status breakdown returned by GET /api/jobs/counts.
type JobCounts struct {
	All        int64 `json:"all"`
	Uploading  int64 `json:"uploading"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// ListFilter selects jobs for List. Zero values mean "no filter".
type ListFilter struct {
	Statuses  []string // empty or containing "all" = every status
	SessionID string
	Filename  string // substring match on original_filename
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

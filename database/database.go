package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a job ID does not exist.
var ErrNotFound = errors.New("job not found")

// Database owns the embedded job store. A single process opens the file;
// WAL keeps reads concurrent while gorm serializes writes through one handle.
type Database struct {
	db *gorm.DB
}

// New opens (or creates) the sqlite database at dbPath and migrates the schema.
func New(dbPath string) (*Database, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Job{}, &PredictionSample{}, &PredictionResidual{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Database{db: db}, nil
}

// CreateJob inserts a new job record. A duplicate ID fails.
func (d *Database) CreateJob(job *Job) error {
	return d.db.Create(job).Error
}

// GetJob returns the job with the given ID, or ErrNotFound.
func (d *Database) GetJob(id string) (*Job, error) {
	var job Job
	if err := d.db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// UpdateJob applies a partial column update. A missing ID is a no-op.
func (d *Database) UpdateJob(id string, patch map[string]interface{}) error {
	return d.db.Model(&Job{}).Where("id = ?", id).Updates(patch).Error
}

// DeleteJob removes the record and reports whether it existed.
func (d *Database) DeleteJob(id string) (bool, error) {
	result := d.db.Delete(&Job{}, "id = ?", id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListJobs returns the filtered page ordered by created_at DESC plus the
// unpaged total for the same filter.
func (d *Database) ListJobs(filter ListFilter) ([]Job, int64, error) {
	query := d.db.Model(&Job{})

	if statuses := activeStatuses(filter.Statuses); len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.Filename != "" {
		query = query.Where("original_filename LIKE ?", "%"+filter.Filename+"%")
	}
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var jobs []Job
	if err := query.Find(&jobs).Error; err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func activeStatuses(statuses []string) []string {
	var active []string
	for _, s := range statuses {
		if s == "" || s == "all" {
			return nil
		}
		active = append(active, s)
	}
	return active
}

// CountJobs returns the per-status breakdown.
func (d *Database) CountJobs() (*JobCounts, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := d.db.Model(&Job{}).Select("status, COUNT(*) as n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := &JobCounts{}
	for _, r := range rows {
		counts.All += r.N
		switch r.Status {
		case StatusUploading:
			counts.Uploading = r.N
		case StatusQueued:
			counts.Queued = r.N
		case StatusProcessing:
			counts.Processing = r.N
		case StatusCompleted:
			counts.Completed = r.N
		case StatusFailed:
			counts.Failed = r.N
		}
	}
	return counts, nil
}

// ExpiredJobs returns jobs whose retention window has passed.
func (d *Database) ExpiredJobs(now time.Time) ([]Job, error) {
	var jobs []Job
	err := d.db.Where("expires_at IS NOT NULL AND expires_at < ?", now).Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// JobsByStatus returns every job currently in the given status.
func (d *Database) JobsByStatus(status string) ([]Job, error) {
	var jobs []Job
	if err := d.db.Where("status = ?", status).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FailInterrupted converts jobs left in processing by a previous run into
// failed records. Returns the number of jobs converted.
func (d *Database) FailInterrupted() (int64, error) {
	result := d.db.Model(&Job{}).Where("status = ?", StatusProcessing).Updates(map[string]interface{}{
		"status":            StatusFailed,
		"progress":          0,
		"error_message":     "interrupted",
		"compressed_path":   "",
		"compressed_size":   0,
		"compressed_width":  0,
		"compressed_height": 0,
		"reduction_percent": 0,
	})
	return result.RowsAffected, result.Error
}

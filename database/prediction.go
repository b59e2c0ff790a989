package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// InsertSample appends a training sample for a completed job.
func (d *Database) InsertSample(jobID, featuresJSON string, elapsedMs int64) error {
	sample := PredictionSample{
		JobID:        jobID,
		FeaturesJSON: featuresJSON,
		ElapsedMs:    elapsedMs,
		CreatedAt:    time.Now(),
	}
	return d.db.Create(&sample).Error
}

// SampleCount returns the total number of stored training samples.
func (d *Database) SampleCount() (int64, error) {
	var count int64
	err := d.db.Model(&PredictionSample{}).Count(&count).Error
	return count, err
}

// GetResidual returns the residual entry for a bucket key, or nil when the
// key has never been observed.
func (d *Database) GetResidual(key string) (*PredictionResidual, error) {
	var residual PredictionResidual
	if err := d.db.First(&residual, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &residual, nil
}

// UpsertResidual writes the EMA and sample count for a bucket key.
func (d *Database) UpsertResidual(key string, ema float64, count int) error {
	residual := PredictionResidual{
		Key:       key,
		EMA:       ema,
		Count:     count,
		UpdatedAt: time.Now(),
	}
	return d.db.Save(&residual).Error
}

// AllResiduals returns every residual entry, keyed by bucket.
func (d *Database) AllResiduals() (map[string]PredictionResidual, error) {
	var residuals []PredictionResidual
	if err := d.db.Find(&residuals).Error; err != nil {
		return nil, err
	}
	byKey := make(map[string]PredictionResidual, len(residuals))
	for _, r := range residuals {
		byKey[r.Key] = r
	}
	return byKey, nil
}

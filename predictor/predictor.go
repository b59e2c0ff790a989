// Package predictor estimates wall-clock processing time for a compression
// job. A frozen ridge-regression baseline supplies the bulk of the estimate;
// a layer of per-bucket EMA residuals learned from completed jobs corrects
// for the deployment's actual hardware and workload.
package predictor

import (
	"encoding/json"
	"math"

	"github.com/rs/zerolog"

	"gif-compressor/database"
)

const (
	// emaAlpha weights the newest residual observation.
	emaAlpha = 0.3
	// minSamples is the count below which a bucket key is ignored.
	minSamples = 3
	// residualClamp bounds the applied correction in log-seconds.
	residualClamp = 0.5
	// floorMs is the minimum estimate ever returned.
	floorMs = 100
)

// Predictor is a process-scoped service: the baseline loads once at startup,
// residual state lives in the database.
type Predictor struct {
	db       *database.Database
	baseline *Baseline
	log      zerolog.Logger
}

func New(db *database.Database, baseline *Baseline, log zerolog.Logger) *Predictor {
	return &Predictor{db: db, baseline: baseline, log: log.With().Str("component", "predictor").Logger()}
}

// Predict returns a positive millisecond estimate for a (file, options) pair.
func (p *Predictor) Predict(info FileInfo, opts database.CompressionOptions) int64 {
	logSeconds := p.baselineScore(info, opts)
	logSeconds += p.residualCorrection(info, opts)

	ms := 1000 * math.Expm1(logSeconds)
	if ms < floorMs {
		return floorMs
	}
	return int64(ms)
}

func (p *Predictor) baselineScore(info FileInfo, opts database.CompressionOptions) float64 {
	if p.baseline == nil {
		// No model artifact: a crude pixel-count heuristic keeps the
		// animator paced sanely.
		totalPixels := float64(info.Frames) * float64(info.Width) * float64(info.Height)
		return math.Log1p(totalPixels*1e-7 + 0.5)
	}
	return p.baseline.Score(Features(info, opts))
}

// residualCorrection averages the learned corrections of the job's active
// bucket keys, clamped so a skewed bucket can never dominate the baseline.
func (p *Predictor) residualCorrection(info FileInfo, opts database.CompressionOptions) float64 {
	var sum float64
	var active int
	for _, key := range ResidualKeys(info, opts) {
		entry, err := p.db.GetResidual(key)
		if err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("residual lookup failed")
			continue
		}
		if entry == nil || entry.Count < minSamples {
			continue
		}
		sum += entry.EMA
		active++
	}
	if active == 0 {
		return 0
	}

	correction := sum / float64(active)
	if correction > residualClamp {
		correction = residualClamp
	} else if correction < -residualClamp {
		correction = -residualClamp
	}
	return correction
}

// Observe records a completed job: it appends a training sample and folds the
// prediction error into every bucket key the job activates. Residual updates
// are not transactional with the sample insert; a stale read during a
// concurrent update is tolerable because corrections are clamped and averaged.
func (p *Predictor) Observe(jobID string, info FileInfo, opts database.CompressionOptions, actualMs int64) {
	features := Features(info, opts)

	if encoded, err := json.Marshal(features); err == nil {
		if err := p.db.InsertSample(jobID, string(encoded), actualMs); err != nil {
			p.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to store prediction sample")
		}
	}

	residual := math.Log1p(float64(actualMs)/1000) - p.baselineScore(info, opts)

	for _, key := range ResidualKeys(info, opts) {
		entry, err := p.db.GetResidual(key)
		if err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("residual read failed")
			continue
		}

		ema := residual
		count := 1
		if entry != nil && entry.Count > 0 {
			ema = emaAlpha*residual + (1-emaAlpha)*entry.EMA
			count = entry.Count + 1
		}
		if err := p.db.UpsertResidual(key, ema, count); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("residual write failed")
		}
	}

	p.log.Debug().
		Str("job_id", jobID).
		Int64("actual_ms", actualMs).
		Float64("residual", residual).
		Msg("recorded completion")
}

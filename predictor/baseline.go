package predictor

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

// Baseline is the frozen ridge-regression model shipped with the binary.
// It is extracted offline from gifsicle profiling runs; the output is in
// log-seconds (log1p of elapsed time).
type Baseline struct {
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
	Scaler       BaselineScaler     `json:"scaler"`
	Metadata     BaselineMetadata   `json:"metadata"`
}

// BaselineScaler holds the per-feature standardization fitted at training
// time. Runtime features must be scaled with the exact same parameters.
type BaselineScaler struct {
	Mean  map[string]float64 `json:"mean"`
	Scale map[string]float64 `json:"scale"`
}

type BaselineMetadata struct {
	Samples  int      `json:"samples"`
	MAECVLog float64  `json:"mae_cv_log"`
	Features []string `json:"features"`
}

//go:embed baseline.json
var embeddedBaseline []byte

// LoadBaseline reads the model from path, or falls back to the embedded
// artifact when path is empty.
func LoadBaseline(path string) (*Baseline, error) {
	data := embeddedBaseline
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read baseline model: %w", err)
		}
	}

	var baseline Baseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("failed to parse baseline model: %w", err)
	}
	return &baseline, nil
}

// Score evaluates the model against a feature vector in log-seconds.
// Numeric features are standardized with the training-time scaler; a feature
// with scale 0 carried no information at training time and is skipped.
// One-hot categorical features are applied unscaled.
func (b *Baseline) Score(features map[string]float64) float64 {
	score := b.Intercept
	for name, coef := range b.Coefficients {
		value, ok := features[name]
		if !ok {
			continue
		}
		if scale, scaled := b.Scaler.Scale[name]; scaled {
			if scale == 0 {
				continue
			}
			value = (value - b.Scaler.Mean[name]) / scale
		}
		score += coef * value
	}
	return score
}

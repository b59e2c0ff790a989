package predictor

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gif-compressor/database"
)

func testPredictor(t *testing.T, baseline *Baseline) (*Predictor, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	return New(db, baseline, zerolog.Nop()), db
}

func sampleInfo() FileInfo {
	return FileInfo{Width: 640, Height: 480, Frames: 30, SizeBytes: 2_000_000}
}

func TestFeaturesVector(t *testing.T) {
	opts := database.DefaultCompressionOptions()
	opts.CompressionLevel = 80
	opts.DropFrames = database.DropFramesN2

	features := Features(sampleInfo(), opts)

	assert.Equal(t, float64(30*640*480), features["total_pixels"])
	assert.Equal(t, float64(30*640*480), features["target_pixels"], "no resize: target equals source")
	assert.Equal(t, 30.0, features["frames"])
	assert.Equal(t, 2_000_000.0, features["file_size_bytes"])
	assert.Equal(t, 640.0, features["target_width"])
	assert.Equal(t, 480.0, features["target_height"])
	assert.Equal(t, 256.0, features["number_of_colors"], "reduce_colors off reports the full palette")
	assert.Equal(t, 80.0, features["compression_level"])
	assert.Equal(t, 0.0, features["reduce_colors"])
	assert.Equal(t, 1.0, features["drop_frames_n2"])
	assert.Equal(t, 0.0, features["drop_frames_none"])
	assert.Equal(t, 0.0, features["drop_frames_n3"])
}

func TestFeaturesWithResize(t *testing.T) {
	opts := database.DefaultCompressionOptions()
	opts.ResizeEnabled = true
	opts.TargetWidth = 320
	opts.TargetHeight = 240

	features := Features(sampleInfo(), opts)

	assert.Equal(t, 320.0, features["target_width"])
	assert.Equal(t, 240.0, features["target_height"])
	assert.Equal(t, float64(30*320*240), features["target_pixels"])
}

func TestFeaturesReduceColors(t *testing.T) {
	opts := database.DefaultCompressionOptions()
	opts.ReduceColors = true
	opts.NumberOfColors = 64

	features := Features(sampleInfo(), opts)
	assert.Equal(t, 64.0, features["number_of_colors"])
	assert.Equal(t, 1.0, features["reduce_colors"])
}

func TestResidualKeys(t *testing.T) {
	opts := database.DefaultCompressionOptions()
	opts.CompressionLevel = 130
	opts.OptimizeTransparency = true
	opts.DropFrames = database.DropFramesN3

	keys := ResidualKeys(sampleInfo(), opts)

	assert.Contains(t, keys, "size_group=l") // 30*640*480 > 4e6
	assert.Contains(t, keys, "optimize_transparency=1")
	assert.Contains(t, keys, "reduce_colors=0")
	assert.Contains(t, keys, "undo_optimizations=0")
	assert.Contains(t, keys, "drop_frames=n3")
	assert.Contains(t, keys, "compression_bucket=high")
	assert.Len(t, keys, 6)
}

func TestSizeGroups(t *testing.T) {
	tests := []struct {
		pixels float64
		want   string
	}{
		{1e5, "xs"},
		{5e5, "s"},
		{2e6, "m"},
		{8e6, "l"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeGroup(tt.pixels))
	}
}

func TestCompressionBuckets(t *testing.T) {
	assert.Equal(t, "none", compressionBucket(0))
	assert.Equal(t, "low", compressionBucket(50))
	assert.Equal(t, "medium", compressionBucket(100))
	assert.Equal(t, "high", compressionBucket(101))
}

func TestBaselineScoreSkipsZeroScale(t *testing.T) {
	baseline := &Baseline{
		Intercept:    1.0,
		Coefficients: map[string]float64{"frames": 2.0, "file_size_bytes": 5.0},
		Scaler: BaselineScaler{
			Mean:  map[string]float64{"frames": 10, "file_size_bytes": 0},
			Scale: map[string]float64{"frames": 5, "file_size_bytes": 0},
		},
	}

	score := baseline.Score(map[string]float64{"frames": 20, "file_size_bytes": 123})
	// file_size_bytes has scale 0 and is skipped; frames standardizes to 2.
	assert.InDelta(t, 1.0+2.0*2.0, score, 1e-9)
}

func TestPredictFloor(t *testing.T) {
	baseline := &Baseline{Intercept: -10, Coefficients: map[string]float64{}}
	pred, _ := testPredictor(t, baseline)

	ms := pred.Predict(sampleInfo(), database.DefaultCompressionOptions())
	assert.Equal(t, int64(100), ms, "estimate is floored at 100ms")
}

func TestPredictFallbackWithoutBaseline(t *testing.T) {
	pred, _ := testPredictor(t, nil)

	info := sampleInfo()
	ms := pred.Predict(info, database.DefaultCompressionOptions())

	totalPixels := float64(info.Frames) * float64(info.Width) * float64(info.Height)
	expected := 1000 * math.Expm1(math.Log1p(totalPixels*1e-7+0.5))
	assert.InDelta(t, expected, float64(ms), 1.0)
}

func TestObserveEMAUpdateRule(t *testing.T) {
	// A flat baseline makes the residual exactly log1p(actual seconds).
	baseline := &Baseline{Intercept: 0, Coefficients: map[string]float64{}}
	pred, db := testPredictor(t, baseline)

	info := sampleInfo()
	opts := database.DefaultCompressionOptions()

	residuals := []float64{
		math.Log1p(2.0),
		math.Log1p(4.0),
		math.Log1p(1.0),
	}
	pred.Observe("job-1", info, opts, 2000)
	pred.Observe("job-2", info, opts, 4000)
	pred.Observe("job-3", info, opts, 1000)

	// First observation seeds the EMA; later ones fold in with alpha=0.3.
	expected := residuals[0]
	for _, r := range residuals[1:] {
		expected = 0.3*r + 0.7*expected
	}

	entry, err := db.GetResidual("drop_frames=none")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 3, entry.Count)
	assert.InDelta(t, expected, entry.EMA, 1e-9)

	count, err := db.SampleCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestResidualIgnoredBelowMinSamples(t *testing.T) {
	baseline := &Baseline{Intercept: 1.0, Coefficients: map[string]float64{}}
	pred, db := testPredictor(t, baseline)

	info := sampleInfo()
	opts := database.DefaultCompressionOptions()

	without := pred.Predict(info, opts)

	// Two observations: every key sits below the 3-sample threshold.
	pred.Observe("job-1", info, opts, 60_000)
	pred.Observe("job-2", info, opts, 60_000)
	assert.Equal(t, without, pred.Predict(info, opts))

	// Third observation activates the keys and pulls the estimate up.
	pred.Observe("job-3", info, opts, 60_000)
	with := pred.Predict(info, opts)
	assert.Greater(t, with, without)

	entry, err := db.GetResidual("size_group=l")
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Count)
}

func TestResidualCorrectionClamped(t *testing.T) {
	baseline := &Baseline{Intercept: 1.0, Coefficients: map[string]float64{}}
	pred, db := testPredictor(t, baseline)

	info := sampleInfo()
	opts := database.DefaultCompressionOptions()

	// Force an absurd residual on every key the job activates.
	for _, key := range ResidualKeys(info, opts) {
		require.NoError(t, db.UpsertResidual(key, 5.0, 10))
	}

	ms := pred.Predict(info, opts)
	expected := 1000 * math.Expm1(1.0+0.5)
	assert.InDelta(t, expected, float64(ms), 1.0, "correction is clamped to +0.5 log-seconds")
}

func TestLoadEmbeddedBaseline(t *testing.T) {
	baseline, err := LoadBaseline("")
	require.NoError(t, err)
	assert.NotZero(t, baseline.Intercept)
	assert.Contains(t, baseline.Coefficients, "total_pixels")
	assert.Contains(t, baseline.Coefficients, "drop_frames_n4")
	assert.Contains(t, baseline.Scaler.Scale, "compression_level")
}

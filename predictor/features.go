package predictor

import (
	"fmt"

	"gif-compressor/database"
)

// FileInfo is the probed shape of the source file as the predictor sees it.
type FileInfo struct {
	Width     int
	Height    int
	Frames    int
	SizeBytes int64
}

// targetDimensions returns the dimensions the output will have: the resize
// target when one applies, otherwise the source dimensions.
func targetDimensions(info FileInfo, opts database.CompressionOptions) (int, int) {
	w, h := info.Width, info.Height
	if !opts.ResizeEnabled {
		return w, h
	}
	if opts.TargetWidth > 0 && opts.TargetWidth < w {
		w = opts.TargetWidth
	}
	if opts.TargetHeight > 0 && opts.TargetHeight < h {
		h = opts.TargetHeight
	}
	return w, h
}

// Features builds the model input vector. Names and semantics must match the
// training extractor exactly: numeric and boolean columns are standardized,
// the drop_frames category is one-hot encoded.
func Features(info FileInfo, opts database.CompressionOptions) map[string]float64 {
	targetWidth, targetHeight := targetDimensions(info, opts)

	colors := 256
	if opts.ReduceColors {
		colors = opts.NumberOfColors
	}

	features := map[string]float64{
		"total_pixels":          float64(info.Frames) * float64(info.Width) * float64(info.Height),
		"target_pixels":         float64(info.Frames) * float64(targetWidth) * float64(targetHeight),
		"frames":                float64(info.Frames),
		"file_size_bytes":       float64(info.SizeBytes),
		"target_width":          float64(targetWidth),
		"target_height":         float64(targetHeight),
		"number_of_colors":      float64(colors),
		"compression_level":     float64(opts.CompressionLevel),
		"reduce_colors":         boolFeature(opts.ReduceColors),
		"optimize_transparency": boolFeature(opts.OptimizeTransparency),
		"undo_optimizations":    boolFeature(opts.UndoOptimizations),
	}

	for _, mode := range []string{database.DropFramesNone, database.DropFramesN2, database.DropFramesN3, database.DropFramesN4} {
		features["drop_frames_"+mode] = 0
	}
	mode := opts.DropFrames
	if mode == "" {
		mode = database.DropFramesNone
	}
	features["drop_frames_"+mode] = 1

	return features
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ResidualKeys buckets a job into the coarse categories used for residual
// learning. Every job activates exactly one key per category.
func ResidualKeys(info FileInfo, opts database.CompressionOptions) []string {
	targetWidth, targetHeight := targetDimensions(info, opts)
	targetPixels := float64(info.Frames) * float64(targetWidth) * float64(targetHeight)

	mode := opts.DropFrames
	if mode == "" {
		mode = database.DropFramesNone
	}

	return []string{
		"size_group=" + sizeGroup(targetPixels),
		fmt.Sprintf("optimize_transparency=%d", boolKey(opts.OptimizeTransparency)),
		fmt.Sprintf("reduce_colors=%d", boolKey(opts.ReduceColors)),
		fmt.Sprintf("undo_optimizations=%d", boolKey(opts.UndoOptimizations)),
		"drop_frames=" + mode,
		"compression_bucket=" + compressionBucket(opts.CompressionLevel),
	}
}

func sizeGroup(targetPixels float64) string {
	switch {
	case targetPixels < 2e5:
		return "xs"
	case targetPixels < 1e6:
		return "s"
	case targetPixels < 4e6:
		return "m"
	default:
		return "l"
	}
}

func compressionBucket(level int) string {
	switch {
	case level <= 0:
		return "none"
	case level <= 50:
		return "low"
	case level <= 100:
		return "medium"
	default:
		return "high"
	}
}

func boolKey(b bool) int {
	if b {
		return 1
	}
	return 0
}

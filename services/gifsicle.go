package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"gif-compressor/database"
)

// ErrOutputMissing is returned when the tool exits cleanly but no output file
// can be found.
var ErrOutputMissing = errors.New("gifsicle did not produce an output file")

// ToolError reports a non-zero exit from the compression tool.
type ToolError struct {
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("gifsicle exited with code %d: %s", e.ExitCode, e.Stderr)
}

const maxStderrBytes = 2048

// GifInfo is the probed shape of an animated image.
type GifInfo struct {
	Width  int
	Height int
	Frames int
	Size   int64
}

// CompressResult describes a successful compression.
type CompressResult struct {
	Path   string
	Size   int64
	Width  int
	Height int
}

// GifsicleService invokes the external gifsicle binary. The tool is a black
// box: it emits no progress, so callers animate progress themselves.
type GifsicleService struct {
	binaryPath string
}

func NewGifsicleService(binaryPath string) *GifsicleService {
	return &GifsicleService{binaryPath: binaryPath}
}

var (
	screenPattern = regexp.MustCompile(`logical screen (\d+)x(\d+)`)
	framesPattern = regexp.MustCompile(`(\d+) images`)
)

// Probe runs the tool's info mode against a file. Parse failures degrade to
// (0, 0, 1, size) so downstream estimates still work.
func (g *GifsicleService) Probe(ctx context.Context, path string) (GifInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return GifInfo{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	info := GifInfo{Frames: 1, Size: stat.Size()}

	out, err := exec.CommandContext(ctx, g.binaryPath, "--info", path).Output()
	if err != nil {
		return info, nil
	}
	return parseProbeOutput(out, stat.Size()), nil
}

func parseProbeOutput(out []byte, size int64) GifInfo {
	info := GifInfo{Frames: 1, Size: size}
	if m := screenPattern.FindSubmatch(out); m != nil {
		info.Width, _ = strconv.Atoi(string(m[1]))
		info.Height, _ = strconv.Atoi(string(m[2]))
	}
	if m := framesPattern.FindSubmatch(out); m != nil {
		if frames, _ := strconv.Atoi(string(m[1])); frames > 0 {
			info.Frames = frames
		}
	}
	return info
}

// BuildArgs assembles the gifsicle argument list. The order is deterministic
// and matters to the tool: global options, input path, frame selectors, output.
func BuildArgs(opts database.CompressionOptions, info GifInfo, inputPath, outputPath string) []string {
	args := []string{
		fmt.Sprintf("--lossy=%d", opts.CompressionLevel),
		"-O3",
	}

	if opts.UndoOptimizations {
		args = append(args, "--unoptimize")
	}

	if opts.ReduceColors && opts.NumberOfColors < 256 {
		args = append(args, "--colors", strconv.Itoa(opts.NumberOfColors))
	}

	if w, h, ok := resizeDimensions(opts, info); ok {
		args = append(args, "--resize", fmt.Sprintf("%dx%d", w, h))
	}

	args = append(args, inputPath)

	if n := dropFramesInterval(opts.DropFrames); n > 1 && info.Frames > 0 {
		// Keep every Nth frame starting at N (zero-indexed N-1, 2N-1, ...).
		for idx := n - 1; idx < info.Frames; idx += n {
			args = append(args, fmt.Sprintf("#%d", idx))
		}
	}

	args = append(args, "-o", outputPath)
	return args
}

// resizeDimensions applies the best-fit rules. Upscaling is never performed;
// a no-op resize is skipped entirely.
func resizeDimensions(opts database.CompressionOptions, info GifInfo) (int, int, bool) {
	if !opts.ResizeEnabled || info.Width <= 0 || info.Height <= 0 {
		return 0, 0, false
	}
	tw, th := opts.TargetWidth, opts.TargetHeight

	switch {
	case tw > 0 && th > 0:
		scale := math.Min(float64(tw)/float64(info.Width), float64(th)/float64(info.Height))
		if scale >= 1 {
			return 0, 0, false
		}
		return int(math.Round(float64(info.Width) * scale)), int(math.Round(float64(info.Height) * scale)), true
	case tw > 0:
		if tw >= info.Width {
			return 0, 0, false
		}
		return tw, int(math.Round(float64(info.Height) * float64(tw) / float64(info.Width))), true
	case th > 0:
		if th >= info.Height {
			return 0, 0, false
		}
		return int(math.Round(float64(info.Width) * float64(th) / float64(info.Height))), th, true
	}
	return 0, 0, false
}

func dropFramesInterval(mode string) int {
	switch mode {
	case database.DropFramesN2:
		return 2
	case database.DropFramesN3:
		return 3
	case database.DropFramesN4:
		return 4
	}
	return 1
}

// Compress runs the tool and returns the output artifact on success. A
// non-zero exit surfaces the captured stderr; a clean exit without an output
// file surfaces ErrOutputMissing.
func (g *GifsicleService) Compress(ctx context.Context, opts database.CompressionOptions, info GifInfo, inputPath, outputPath string) (*CompressResult, error) {
	args := BuildArgs(opts, info, inputPath, outputPath)

	cmd := exec.CommandContext(ctx, g.binaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := stderr.String()
		if len(message) > maxStderrBytes {
			message = message[:maxStderrBytes]
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ToolError{ExitCode: exitErr.ExitCode(), Stderr: message}
		}
		return nil, fmt.Errorf("failed to run gifsicle: %w", err)
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return nil, ErrOutputMissing
	}

	result := &CompressResult{Path: outputPath, Size: stat.Size()}
	if probed, err := g.Probe(ctx, outputPath); err == nil {
		result.Width = probed.Width
		result.Height = probed.Height
	}
	return result, nil
}

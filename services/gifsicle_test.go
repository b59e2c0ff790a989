package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gif-compressor/database"
)

func TestBuildArgs(t *testing.T) {
	info := GifInfo{Width: 512, Height: 512, Frames: 12, Size: 1 << 20}

	tests := []struct {
		name   string
		mutate func(*database.CompressionOptions)
		info   GifInfo
		want   []string
	}{
		{
			name:   "defaults",
			mutate: func(o *database.CompressionOptions) {},
			info:   info,
			want:   []string{"--lossy=30", "-O3", "in.gif", "-o", "out.gif"},
		},
		{
			name: "undo optimizations",
			mutate: func(o *database.CompressionOptions) {
				o.CompressionLevel = 150
				o.UndoOptimizations = true
			},
			info: info,
			want: []string{"--lossy=150", "-O3", "--unoptimize", "in.gif", "-o", "out.gif"},
		},
		{
			name: "reduce colors",
			mutate: func(o *database.CompressionOptions) {
				o.ReduceColors = true
				o.NumberOfColors = 64
			},
			info: info,
			want: []string{"--lossy=30", "-O3", "--colors", "64", "in.gif", "-o", "out.gif"},
		},
		{
			name: "reduce colors at full palette is a noop",
			mutate: func(o *database.CompressionOptions) {
				o.ReduceColors = true
				o.NumberOfColors = 256
			},
			info: info,
			want: []string{"--lossy=30", "-O3", "in.gif", "-o", "out.gif"},
		},
		{
			name: "best fit resize keeps aspect ratio",
			mutate: func(o *database.CompressionOptions) {
				o.ResizeEnabled = true
				o.TargetWidth = 384
				o.TargetHeight = 256
			},
			info: info,
			// 512x512 into a 384x256 box scales by 0.5.
			want: []string{"--lossy=30", "-O3", "--resize", "256x256", "in.gif", "-o", "out.gif"},
		},
		{
			name: "width-only resize derives height",
			mutate: func(o *database.CompressionOptions) {
				o.ResizeEnabled = true
				o.TargetWidth = 256
			},
			info: GifInfo{Width: 512, Height: 384, Frames: 1},
			want: []string{"--lossy=30", "-O3", "--resize", "256x192", "in.gif", "-o", "out.gif"},
		},
		{
			name: "resize never upscales",
			mutate: func(o *database.CompressionOptions) {
				o.ResizeEnabled = true
				o.TargetWidth = 1024
				o.TargetHeight = 1024
			},
			info: info,
			want: []string{"--lossy=30", "-O3", "in.gif", "-o", "out.gif"},
		},
		{
			name: "resize skipped when dimensions unknown",
			mutate: func(o *database.CompressionOptions) {
				o.ResizeEnabled = true
				o.TargetWidth = 100
			},
			info: GifInfo{Width: 0, Height: 0, Frames: 1},
			want: []string{"--lossy=30", "-O3", "in.gif", "-o", "out.gif"},
		},
		{
			name: "drop frames keeps every third",
			mutate: func(o *database.CompressionOptions) {
				o.DropFrames = database.DropFramesN3
			},
			info: info,
			want: []string{"--lossy=30", "-O3", "in.gif", "#2", "#5", "#8", "#11", "-o", "out.gif"},
		},
		{
			name: "drop frames n2",
			mutate: func(o *database.CompressionOptions) {
				o.DropFrames = database.DropFramesN2
			},
			info: GifInfo{Width: 100, Height: 100, Frames: 5},
			want: []string{"--lossy=30", "-O3", "in.gif", "#1", "#3", "-o", "out.gif"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := database.DefaultCompressionOptions()
			tt.mutate(&opts)
			assert.Equal(t, tt.want, BuildArgs(opts, tt.info, "in.gif", "out.gif"))
		})
	}
}

func TestResizeDimensions(t *testing.T) {
	info := GifInfo{Width: 800, Height: 600}

	opts := database.DefaultCompressionOptions()
	opts.ResizeEnabled = true
	opts.TargetHeight = 300

	w, h, ok := resizeDimensions(opts, info)
	require.True(t, ok)
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, h)

	// Height-only target at or above the source is skipped.
	opts.TargetHeight = 600
	_, _, ok = resizeDimensions(opts, info)
	assert.False(t, ok)
}

func TestParseProbeOutput(t *testing.T) {
	out := []byte(`* sample.gif 24 images
  logical screen 480x270
  global color table [128]
  + image #0 480x270
`)
	info := parseProbeOutput(out, 12345)
	assert.Equal(t, 480, info.Width)
	assert.Equal(t, 270, info.Height)
	assert.Equal(t, 24, info.Frames)
	assert.Equal(t, int64(12345), info.Size)
}

func TestParseProbeOutputDegradesGracefully(t *testing.T) {
	info := parseProbeOutput([]byte("not gif info at all"), 500)
	assert.Equal(t, 0, info.Width)
	assert.Equal(t, 0, info.Height)
	assert.Equal(t, 1, info.Frames)
	assert.Equal(t, int64(500), info.Size)
}

func TestProbeMissingFile(t *testing.T) {
	svc := NewGifsicleService("gifsicle")
	_, err := svc.Probe(context.Background(), filepath.Join(t.TempDir(), "absent.gif"))
	assert.Error(t, err)
}

func TestCompressMissingBinary(t *testing.T) {
	svc := NewGifsicleService(filepath.Join(t.TempDir(), "no-such-gifsicle"))

	in := filepath.Join(t.TempDir(), "in.gif")
	out := filepath.Join(t.TempDir(), "out.gif")

	_, err := svc.Compress(context.Background(), database.DefaultCompressionOptions(), GifInfo{Frames: 1}, in, out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutputMissing)
}

func TestToolErrorMessage(t *testing.T) {
	err := &ToolError{ExitCode: 1, Stderr: "gifsicle: in.gif: not a GIF"}
	assert.Contains(t, err.Error(), "code 1")
	assert.Contains(t, err.Error(), "not a GIF")
}

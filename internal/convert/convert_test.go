package convert

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/scrubcast/internal/container"
)

func jpeg(body string) []byte {
	return append(append([]byte{0xff, 0xd8}, body...), 0xff, 0xd9)
}

func TestConvertMJPEG(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mjpeg")
	output := filepath.Join(dir, "out.cnt")

	var stream bytes.Buffer
	for _, body := range []string{"one", "two", "three"} {
		stream.Write(jpeg(body))
	}
	require.NoError(t, os.WriteFile(input, stream.Bytes(), 0644))

	n, err := NewConverter(Options{MJPEG: true}).Convert(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	c, err := container.Open(output)
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, 3, c.FrameCount())
	frame, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, jpeg("one"), frame.Data)
}

func TestConvertWithoutFrames(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mjpeg")
	output := filepath.Join(dir, "out.cnt")
	require.NoError(t, os.WriteFile(input, []byte("not a jpeg"), 0644))

	_, err := NewConverter(Options{MJPEG: true}).Convert(context.Background(), input, output)
	assert.ErrorIs(t, err, ErrConversion)
	assert.NoFileExists(t, output)
}

func TestConvertMissingTranscoder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(input, []byte("video"), 0644))

	converter := NewConverter(Options{FFmpeg: filepath.Join(dir, "no-such-ffmpeg")})
	_, err := converter.Convert(context.Background(), input, filepath.Join(dir, "out.cnt"))
	assert.ErrorIs(t, err, ErrConversion)
}

func TestArgs(t *testing.T) {
	t.Parallel()
	args := NewConverter(Options{}).Args("in.mp4", "out.mjpeg")
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", "in.mp4",
		"-vf", "scale=640:360:flags=bicubic,format=yuvj422p",
		"-b:v", "1000k",
		"-c:v", "mjpeg",
		"-an",
		"-f", "mjpeg",
		"out.mjpeg",
	}, args)
}

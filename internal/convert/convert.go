// Package convert turns a video file into a frame container by way of an
// external ffmpeg binary.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/scrubcast/internal/container"
)

var ErrConversion = errors.New("conversion failed")

type Options struct {
	// FFmpeg is the transcoder binary. Defaults to "ffmpeg" on PATH.
	FFmpeg string
	// Scale is the output size passed to the scale filter, e.g. "640:360".
	Scale string
	// Bitrate is the MJPEG video bitrate, e.g. "1000k".
	Bitrate string
	// MJPEG marks the input as an already encoded MJPEG stream; ffmpeg is not
	// run.
	MJPEG bool
}

func (o Options) withDefaults() Options {
	if o.FFmpeg == "" {
		o.FFmpeg = "ffmpeg"
	}
	if o.Scale == "" {
		o.Scale = "640:360"
	}
	if o.Bitrate == "" {
		o.Bitrate = "1000k"
	}
	return o
}

type Converter struct {
	opts Options
}

func NewConverter(opts Options) *Converter {
	return &Converter{opts: opts.withDefaults()}
}

// Args is the ffmpeg command line used to transcode input into output.
func (c *Converter) Args(input, output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=%s:flags=bicubic,format=yuvj422p", c.opts.Scale),
		"-b:v", c.opts.Bitrate,
		"-c:v", "mjpeg",
		"-an",
		"-f", "mjpeg",
		output,
	}
}

// Convert writes the frames of input into a container at output and returns
// how many were written.
func (c *Converter) Convert(ctx context.Context, input, output string) (int, error) {
	source := input
	if !c.opts.MJPEG {
		tmp, err := os.CreateTemp("", "scrubcast-*.mjpeg")
		if err != nil {
			return 0, fmt.Errorf("%w: failed to create temporary file: %v", ErrConversion, err)
		}
		_ = tmp.Close()
		defer os.Remove(tmp.Name())

		err = c.transcode(ctx, input, tmp.Name())
		if err != nil {
			return 0, err
		}
		source = tmp.Name()
	}

	in, err := os.Open(source)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	defer in.Close()

	return split(in, output)
}

func (c *Converter) transcode(ctx context.Context, input, output string) error {
	args := c.Args(input, output)
	log.Debugf("running %s %s", c.opts.FFmpeg, strings.Join(args, " "))

	stderr := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, c.opts.FFmpeg, args...)
	cmd.Stderr = stderr
	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%w: %s: %v: %s", ErrConversion, c.opts.FFmpeg, err, msg)
		}
		return fmt.Errorf("%w: %s: %v", ErrConversion, c.opts.FFmpeg, err)
	}
	return nil
}

func split(r io.Reader, output string) (int, error) {
	w, err := container.Create(output)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	n, err := container.SplitMJPEG(r, w.Writer)
	cerr := w.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(output)
		return 0, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	if n == 0 {
		_ = os.Remove(output)
		return 0, fmt.Errorf("%w: no JPEG frames in input", ErrConversion)
	}
	log.Infof("wrote %d frames to %s", n, output)
	return n, nil
}

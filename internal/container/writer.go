package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

type Writer struct {
	w      io.Writer
	frames int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame appends one record: the zero padded payload length followed by the
// payload itself.
func (w *Writer) WriteFrame(p []byte) error {
	if len(p) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(p))
	}
	_, err := fmt.Fprintf(w.w, "%0*d", LengthFieldSize, len(p))
	if err != nil {
		return fmt.Errorf("failed to write length of frame %d: %w", w.frames, err)
	}
	_, err = w.w.Write(p)
	if err != nil {
		return fmt.Errorf("failed to write frame %d: %w", w.frames, err)
	}
	w.frames++
	return nil
}

func (w *Writer) Frames() int {
	return w.frames
}

// FileWriter is a Writer backed by a buffered file.
type FileWriter struct {
	*Writer
	file *os.File
	buf  *bufio.Writer
}

func Create(path string) (*FileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", path, err)
	}
	buf := bufio.NewWriter(file)
	return &FileWriter{
		Writer: NewWriter(buf),
		file:   file,
		buf:    buf,
	}, nil
}

func (f *FileWriter) Close() error {
	err := f.buf.Flush()
	cerr := f.file.Close()
	if err != nil {
		return fmt.Errorf("failed to flush container: %w", err)
	}
	return cerr
}

const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerEOI    = 0xD9
)

// SplitMJPEG copies every SOI..EOI delimited JPEG found in r into w and
// returns the number of frames written. Bytes outside a JPEG are skipped and an
// unterminated trailing JPEG is dropped.
func SplitMJPEG(r io.Reader, w *Writer) (int, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		frame   []byte
		inFrame bool
		prev    byte
		written int
	)
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("failed to read mjpeg stream: %w", err)
		}

		switch {
		case !inFrame && prev == markerPrefix && b == markerSOI:
			inFrame = true
			frame = append(frame[:0], markerPrefix, markerSOI)
		case inFrame:
			frame = append(frame, b)
			if prev == markerPrefix && b == markerEOI {
				err = w.WriteFrame(frame)
				if err != nil {
					return written, err
				}
				written++
				inFrame = false
				b = 0
			}
		}
		prev = b
	}
}

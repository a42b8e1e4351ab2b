package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	// LengthFieldSize is the width of the ASCII decimal length prefix of every record.
	LengthFieldSize = 5
	// MaxFrameSize is the largest payload a length prefix can describe.
	MaxFrameSize = 99999
)

var (
	ErrNotFound      = errors.New("container not found")
	ErrMalformed     = errors.New("malformed container")
	ErrFrameTooLarge = errors.New("frame too large")
)

// Frame is one payload read from a container.
type Frame struct {
	Number int
	Data   []byte
}

type store interface {
	io.ReaderAt
	io.Closer
}

// Container is a length-prefixed frame store indexed at open time so that any
// frame can be reached without reading the ones before it.
type Container struct {
	sync.Mutex
	store  store
	index  []int64
	cursor int
}

// Open indexes the container at path. The file is closed if indexing fails.
func Open(path string) (*Container, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: failed to stat %s: %v", ErrNotFound, path, err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}

	c, err := newContainer(file, info.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to index %s: %w", path, err)
	}
	return c, nil
}

func newContainer(s store, size int64) (*Container, error) {
	index, err := scan(s, size)
	if err != nil {
		return nil, err
	}
	if len(index) == 1 && size > 0 {
		return nil, ErrMalformed
	}
	return &Container{
		store: s,
		index: index,
	}, nil
}

// scan walks the record headers and returns the offset of every record plus the
// end offset of the last complete one. Payloads are skipped, not read.
func scan(r io.ReaderAt, size int64) ([]int64, error) {
	index := []int64{0}
	header := make([]byte, LengthFieldSize)
	offset := int64(0)
	for offset+LengthFieldSize <= size {
		_, err := r.ReadAt(header, offset)
		switch {
		case err == io.EOF:
			return index, nil
		case err != nil:
			return nil, fmt.Errorf("failed to read record header at %d: %w", offset, err)
		}

		length, ok := parseLength(header)
		if !ok {
			return index, nil
		}

		next := offset + LengthFieldSize + int64(length)
		if next > size {
			// truncated trailing record
			return index, nil
		}
		index = append(index, next)
		offset = next
	}
	return index, nil
}

func parseLength(b []byte) (int, bool) {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func (c *Container) FrameCount() int {
	return len(c.index) - 1
}

func (c *Container) Cursor() int {
	c.Lock()
	defer c.Unlock()
	return c.cursor
}

// Next returns the frame at the cursor and advances it. io.EOF marks the end
// of the stream.
func (c *Container) Next() (Frame, error) {
	c.Lock()
	defer c.Unlock()

	if c.cursor >= c.FrameCount() {
		return Frame{}, io.EOF
	}

	start := c.index[c.cursor] + LengthFieldSize
	data := make([]byte, c.index[c.cursor+1]-start)
	_, err := c.store.ReadAt(data, start)
	if err != nil && !(err == io.EOF && len(data) == 0) {
		return Frame{}, fmt.Errorf("failed to read frame %d: %w", c.cursor, err)
	}

	frame := Frame{Number: c.cursor, Data: data}
	c.cursor++
	return frame, nil
}

// Seek moves the cursor to frame. Targets outside [0, FrameCount()) are refused
// and the cursor is left where it was.
func (c *Container) Seek(frame int) bool {
	c.Lock()
	defer c.Unlock()
	if frame < 0 || frame >= c.FrameCount() {
		return false
	}
	c.cursor = frame
	return true
}

func (c *Container) Close() error {
	c.Lock()
	defer c.Unlock()
	return c.store.Close()
}

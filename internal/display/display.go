// Package display holds the contract between a stream controller and whatever
// renders its frames, plus a headless implementation that keeps the latest
// frame on disk.
package display

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Display receives frames and playback progress from a controller. Calls come
// from the controller's receive goroutine.
type Display interface {
	OnFrame(frame []byte)
	OnPosition(percent float64)
}

// EndOfStreamer is implemented by displays that want to know when the server
// ran out of frames.
type EndOfStreamer interface {
	OnEndOfStream()
}

// Discard drops everything.
type Discard struct{}

func (Discard) OnFrame([]byte)     {}
func (Discard) OnPosition(float64) {}

// FileSink writes every frame over the same cache file, the way a viewer
// would reload a single image, and logs progress.
type FileSink struct {
	sync.Mutex
	dir      string
	path     string
	frames   int
	position float64
	ended    bool
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{
		dir:  dir,
		path: filepath.Join(dir, "cache.jpg"),
	}
}

// SetSession names the cache file after the session it shows.
func (f *FileSink) SetSession(id int) {
	f.Lock()
	defer f.Unlock()
	f.path = filepath.Join(f.dir, fmt.Sprintf("cache-%d.jpg", id))
}

func (f *FileSink) Path() string {
	f.Lock()
	defer f.Unlock()
	return f.path
}

func (f *FileSink) OnFrame(frame []byte) {
	f.Lock()
	defer f.Unlock()
	// write then rename so a reader never sees a half written image
	tmp := f.path + ".tmp"
	err := os.WriteFile(tmp, frame, 0644)
	if err == nil {
		err = os.Rename(tmp, f.path)
	}
	if err != nil {
		log.WithError(err).Warn("failed to write frame to cache")
		return
	}
	f.frames++
	f.ended = false
}

func (f *FileSink) OnPosition(percent float64) {
	f.Lock()
	defer f.Unlock()
	if int(percent) != int(f.position) {
		log.Debugf("position %.0f%%", percent)
	}
	f.position = percent
}

func (f *FileSink) OnEndOfStream() {
	f.Lock()
	defer f.Unlock()
	f.ended = true
	log.Info("end of stream")
}

// Stats reports how many frames were written, the last position and whether
// the stream ended.
func (f *FileSink) Stats() (int, float64, bool) {
	f.Lock()
	defer f.Unlock()
	return f.frames, f.position, f.ended
}

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"

	"github.com/bilbercode/scrubcast/internal/display"
	"github.com/bilbercode/scrubcast/internal/rtsp"
)

type fakePlayer struct {
	calls    []string
	position float64
}

func (f *fakePlayer) record(call string) error {
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakePlayer) Setup(context.Context) error      { return f.record("setup") }
func (f *fakePlayer) Play(context.Context) error       { return f.record("play") }
func (f *fakePlayer) Pause(context.Context) error      { return f.record("pause") }
func (f *fakePlayer) BeginScrub(context.Context) error { return f.record("begin-scrub") }
func (f *fakePlayer) Teardown(context.Context) error   { return f.record("teardown") }

func (f *fakePlayer) Scrub(_ context.Context, percent float64) error {
	f.position = percent
	return f.record("scrub")
}

func (f *fakePlayer) Describe(context.Context) (*sdp.SessionDescription, error) {
	return nil, rtsp.ErrResourceNotFound
}

func (f *fakePlayer) State() rtsp.State { return rtsp.StateReady }
func (f *fakePlayer) SessionID() int    { return 123456 }
func (f *fakePlayer) TotalFrames() int  { return 500 }
func (f *fakePlayer) LastFrame() int    { return -1 }

func TestConsole(t *testing.T) {
	t.Parallel()
	p := &fakePlayer{}
	sink := display.NewFileSink(t.TempDir())
	in := strings.NewReader("setup\nplay\n\nscrub 37.5%\nscrub\nbogus\npause\nstatus\nteardown\nplay\n")
	out := &bytes.Buffer{}

	newConsole(p, sink, in, out).Run(context.Background())

	assert.Equal(t, []string{"setup", "play", "begin-scrub", "scrub", "pause", "teardown"}, p.calls)
	assert.Equal(t, 37.5, p.position)
	assert.Contains(t, sink.Path(), "cache-123456.jpg")
	assert.Contains(t, out.String(), "session 123456, 500 frames")
	assert.Contains(t, out.String(), "usage: scrub")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Contains(t, out.String(), "state READY, frame -1 of 500")
}

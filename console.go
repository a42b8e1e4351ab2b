package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/scrubcast/internal/display"
	"github.com/bilbercode/scrubcast/internal/rtsp"
)

type player interface {
	Setup(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	BeginScrub(ctx context.Context) error
	Scrub(ctx context.Context, percent float64) error
	Teardown(ctx context.Context) error
	Describe(ctx context.Context) (*sdp.SessionDescription, error)

	State() rtsp.State
	SessionID() int
	TotalFrames() int
	LastFrame() int
}

const consoleHelp = `commands:
  setup          set up the session
  play           start or resume playback
  pause          pause playback
  scrub <0-100>  jump to a position in percent
  describe       show the session description
  status         show playback state
  teardown       end the session and exit
  quit           exit
`

// console turns lines typed on in into player intents.
type console struct {
	player player
	sink   *display.FileSink
	in     io.Reader
	out    io.Writer
}

func newConsole(p player, sink *display.FileSink, in io.Reader, out io.Writer) *console {
	return &console{player: p, sink: sink, in: in, out: out}
}

func (c *console) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(c.out, consoleHelp)
	for {
		fmt.Fprint(c.out, "> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.exec(ctx, line) {
				return
			}
		}
	}
}

// exec runs one command line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch command := strings.ToLower(fields[0]); command {
	case "setup":
		err = c.player.Setup(ctx)
		if err == nil {
			c.sink.SetSession(c.player.SessionID())
			fmt.Fprintf(c.out, "session %d, %d frames, writing to %s\n",
				c.player.SessionID(), c.player.TotalFrames(), c.sink.Path())
		}
	case "play":
		err = c.player.Play(ctx)
	case "pause":
		err = c.player.Pause(ctx)
	case "scrub":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "usage: scrub <0-100>")
			return false
		}
		percent, perr := strconv.ParseFloat(strings.TrimSuffix(fields[1], "%"), 64)
		if perr != nil {
			fmt.Fprintf(c.out, "invalid position %q\n", fields[1])
			return false
		}
		err = c.player.BeginScrub(ctx)
		if err == nil {
			err = c.player.Scrub(ctx, percent)
		}
	case "describe":
		var description *sdp.SessionDescription
		description, err = c.player.Describe(ctx)
		if err == nil {
			var b []byte
			b, err = description.Marshal()
			if err == nil {
				fmt.Fprint(c.out, string(b))
			}
		}
	case "status":
		frames, position, ended := c.sink.Stats()
		fmt.Fprintf(c.out, "state %s, frame %d of %d, at %.1f%%, %d frames shown",
			c.player.State(), c.player.LastFrame(), c.player.TotalFrames(), position, frames)
		if ended {
			fmt.Fprint(c.out, ", end of stream")
		}
		fmt.Fprintln(c.out)
	case "teardown":
		err = c.player.Teardown(ctx)
		if err == nil {
			return true
		}
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprint(c.out, consoleHelp)
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", command)
	}

	if err != nil {
		log.WithError(err).Errorf("%s failed", fields[0])
	}
	return false
}

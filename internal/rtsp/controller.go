package rtsp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/scrubcast/internal/display"
	"github.com/bilbercode/scrubcast/internal/packet"
	"github.com/bilbercode/scrubcast/internal/rtsp/transport"
)

var framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name:      "frames_received_total",
	Namespace: "scrubcast",
	Help:      "number of data plane packets received, by what was done with them",
}, []string{"result"})

const (
	DefaultReplyTimeout = 5 * time.Second
	// receivePollInterval bounds each blocking read so the receive loop can
	// notice its stop signal.
	receivePollInterval = 500 * time.Millisecond
)

type ControllerConfig struct {
	// Resource is the container requested from the server.
	Resource string
	// RTPPort is the local data plane port; 0 picks a free one.
	RTPPort int
	// ReplyTimeout bounds the wait for each control reply.
	ReplyTimeout time.Duration
	// JoinTimeout bounds how long a stopped receive loop is waited for.
	JoinTimeout time.Duration
	Display     display.Display
}

// Controller is the client half of a streaming session. Its exported methods
// are the user intents of a player (set up, play, pause, scrub, tear down).
type Controller struct {
	sync.Mutex
	ops sync.Mutex

	cfg  ControllerConfig
	conn Conn
	log  *log.Entry

	seq         int
	state       State
	session     int
	totalFrames int
	port        int
	rtp         *net.UDPConn
	filter      reconciler
	wasPlaying  bool

	receiving *net.UDPConn
	stop      chan struct{}
	done      chan struct{}
}

// Dial opens the control connection to addr.
func Dial(ctx context.Context, addr string, cfg ControllerConfig) (*Controller, error) {
	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %v", ErrSocket, addr, err)
	}
	return NewController(nc, cfg), nil
}

func NewController(nc net.Conn, cfg ControllerConfig) *Controller {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Display == nil {
		cfg.Display = display.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		conn:   NewConnWithContextCancel(nc, ctx, cancel),
		log:    log.WithField("server", nc.RemoteAddr().String()),
		state:  StateInit,
		filter: newReconciler(),
	}
}

func (c *Controller) State() State {
	c.Lock()
	defer c.Unlock()
	return c.state
}

func (c *Controller) SessionID() int {
	c.Lock()
	defer c.Unlock()
	return c.session
}

func (c *Controller) TotalFrames() int {
	c.Lock()
	defer c.Unlock()
	return c.totalFrames
}

// LastFrame is the number of the last frame handed to the display, -1 before
// the first one.
func (c *Controller) LastFrame() int {
	c.Lock()
	defer c.Unlock()
	return c.filter.last
}

func (c *Controller) Scrubbing() bool {
	c.Lock()
	defer c.Unlock()
	return c.filter.scrubbing
}

// DataPort is the bound local data plane port, 0 before SETUP.
func (c *Controller) DataPort() int {
	c.Lock()
	defer c.Unlock()
	return c.port
}

func (c *Controller) setState(state State) {
	c.Lock()
	defer c.Unlock()
	c.state = state
}

func (c *Controller) request(ctx context.Context, method Method, prepare func(r *Request)) (*Response, error) {
	c.Lock()
	c.seq++
	request := NewRequest(method, c.cfg.Resource, c.seq)
	bound := c.session
	entry := c.log
	c.Unlock()

	if bound != 0 && method != MethodSetup {
		request.SetSession(bound)
	}
	if prepare != nil {
		prepare(request)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReplyTimeout)
	defer cancel()
	response, err := c.conn.SendRequest(ctx, request)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %s CSeq %d", ErrReplyTimeout, method, request.Sequence)
	case err != nil:
		return nil, err
	}

	if response.Sequence != request.Sequence {
		return nil, fmt.Errorf("%w: reply CSeq %d for request %d", ErrSequenceStale, response.Sequence, request.Sequence)
	}
	if id, ok := response.Session(); bound != 0 && ok && id != bound {
		entry.WithError(ErrSessionMismatch).Warnf("dropping %s reply for session %d", method, id)
		return nil, fmt.Errorf("%w: reply for session %d", ErrSessionMismatch, id)
	}
	entry.Debugf("%s CSeq %d: %d %s", method, request.Sequence, response.Code, response.Message)
	return response, nil
}

func invalidState(method Method, state State) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidState, method, state)
}

func replyError(method Method, response *Response) error {
	return fmt.Errorf("%s failed: %d %s", method, response.Code, response.Message)
}

func bind(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %v", ErrTransportBind, port, err)
	}
	return conn, nil
}

// Setup binds the data plane port and asks the server for a session. A bind
// failure ends the attempt before anything is sent.
func (c *Controller) Setup(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if state := c.State(); state != StateInit {
		return invalidState(MethodSetup, state)
	}

	udp, err := bind(c.cfg.RTPPort)
	if err != nil {
		return err
	}
	port := udp.LocalAddr().(*net.UDPAddr).Port

	response, err := c.request(ctx, MethodSetup, func(r *Request) {
		r.SetTransport(transport.ClientSpec(port))
	})
	switch {
	case err != nil:
		_ = udp.Close()
		return err
	case response.Code == http.StatusNotFound:
		_ = udp.Close()
		return fmt.Errorf("%w: %s", ErrResourceNotFound, c.cfg.Resource)
	case response.Code != http.StatusOK:
		_ = udp.Close()
		return replyError(MethodSetup, response)
	}

	id, ok := response.Session()
	if !ok || id == 0 {
		_ = udp.Close()
		return fmt.Errorf("%w: SETUP reply without session", ErrMalformedMessage)
	}
	total, _ := response.TotalFrames()

	c.Lock()
	c.session = id
	c.totalFrames = total
	c.rtp = udp
	c.port = port
	c.state = StateReady
	c.filter = newReconciler()
	c.log = c.log.WithField("session", id)
	c.log.Infof("session ready, %d frames, receiving on port %d", total, port)
	c.Unlock()
	return nil
}

func (c *Controller) Play(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if state := c.State(); state != StateReady {
		return invalidState(MethodPlay, state)
	}
	return c.play(ctx)
}

func (c *Controller) play(ctx context.Context) error {
	err := c.startReceiver()
	if err != nil {
		return err
	}
	response, err := c.request(ctx, MethodPlay, nil)
	if err == nil && response.Code != http.StatusOK {
		err = replyError(MethodPlay, response)
	}
	if err != nil {
		c.stopReceiver()
		return err
	}
	c.setState(StatePlaying)
	return nil
}

func (c *Controller) Pause(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if state := c.State(); state != StatePlaying {
		return invalidState(MethodPause, state)
	}
	return c.pause(ctx)
}

// pause stops the receive loop only once the server has confirmed, so nothing
// sent before the reply is lost.
func (c *Controller) pause(ctx context.Context) error {
	response, err := c.request(ctx, MethodPause, nil)
	if err == nil && response.Code != http.StatusOK {
		err = replyError(MethodPause, response)
	}
	if err != nil {
		return err
	}
	c.setState(StateReady)
	c.stopReceiver()
	return nil
}

// BeginScrub marks the start of a scrub gesture: playback is paused and
// progress updates stop until the scrub completes.
func (c *Controller) BeginScrub(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	return c.beginScrub(ctx)
}

func (c *Controller) beginScrub(ctx context.Context) error {
	c.Lock()
	state := c.state
	if state != StateReady && state != StatePlaying {
		c.Unlock()
		return invalidState(MethodScrub, state)
	}
	if c.filter.scrubbing {
		c.Unlock()
		return nil
	}
	c.filter.scrubbing = true
	c.wasPlaying = state == StatePlaying
	c.Unlock()

	if state != StatePlaying {
		return nil
	}
	err := c.pause(ctx)
	if err != nil {
		c.Lock()
		c.filter.scrubbing = false
		c.wasPlaying = false
		c.Unlock()
		return fmt.Errorf("%w: %v", ErrScrubFailed, err)
	}
	return nil
}

// Scrub repositions playback to percent of the stream. Playback that was
// running when the scrub began is resumed afterwards, whether or not the
// server accepted the new position.
func (c *Controller) Scrub(ctx context.Context, percent float64) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	err := c.beginScrub(ctx)
	if err != nil {
		return err
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	c.Lock()
	expected := TargetFrame(percent, c.totalFrames)
	c.filter.expected = expected
	wasPlaying := c.wasPlaying
	c.Unlock()

	err = c.resetTransport()
	if err == nil {
		var response *Response
		response, err = c.request(ctx, MethodScrub, func(r *Request) {
			r.SetPosition(percent)
		})
		if err == nil && response.Code != http.StatusOK {
			err = replyError(MethodScrub, response)
		}
	}
	if err != nil {
		return c.abortScrub(ctx, wasPlaying, err)
	}

	c.Lock()
	c.wasPlaying = false
	if !wasPlaying {
		c.filter.scrubbing = false
		// the target itself is the next frame to show
		c.filter.last = expected - 1
	}
	c.log.Debugf("scrubbed to %v%%, expecting frame %d", percent, expected)
	c.Unlock()

	if wasPlaying {
		err = c.play(ctx)
		if err != nil {
			c.Lock()
			c.filter.scrubbing = false
			c.Unlock()
			return fmt.Errorf("failed to resume after scrub: %w", err)
		}
	}
	return nil
}

// abortScrub leaves the displayed frame alone and restores playback if the
// scrub interrupted it.
func (c *Controller) abortScrub(ctx context.Context, wasPlaying bool, cause error) error {
	c.Lock()
	c.filter.scrubbing = false
	c.wasPlaying = false
	entry := c.log
	c.Unlock()

	entry.WithError(cause).Warn("scrub failed")
	if wasPlaying {
		err := c.play(ctx)
		if err != nil {
			entry.WithError(err).Warn("failed to resume after failed scrub")
		}
	}
	return fmt.Errorf("%w: %v", ErrScrubFailed, cause)
}

// Teardown ends the session. Failures talking to the server are tolerated;
// local resources are always released.
func (c *Controller) Teardown(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if state := c.State(); state == StateInit {
		return invalidState(MethodTeardown, state)
	}

	_, err := c.request(ctx, MethodTeardown, nil)
	if err != nil {
		c.log.WithError(err).Debug("teardown not acknowledged")
	}

	c.stopReceiver()
	c.Lock()
	udp := c.rtp
	c.rtp = nil
	c.state = StateInit
	c.wasPlaying = false
	c.filter = newReconciler()
	c.Unlock()

	if udp != nil {
		_ = udp.Close()
	}
	_ = c.conn.Close()
	c.log.Info("session torn down")
	return nil
}

// Close tears the session down if there is one, then drops the control
// connection.
func (c *Controller) Close() error {
	if c.State() != StateInit {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReplyTimeout)
		defer cancel()
		return c.Teardown(ctx)
	}
	return c.conn.Close()
}

// Describe fetches the server's session description of the resource.
func (c *Controller) Describe(ctx context.Context) (*sdp.SessionDescription, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	response, err := c.request(ctx, MethodDescribe, nil)
	switch {
	case err != nil:
		return nil, err
	case response.Code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, c.cfg.Resource)
	case response.Code != http.StatusOK:
		return nil, replyError(MethodDescribe, response)
	}

	description := &sdp.SessionDescription{}
	err = description.Unmarshal(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session description: %w", err)
	}
	return description, nil
}

// resetTransport drops the data socket, and with it anything still queued
// from before a scrub, and binds a fresh one on the same port.
func (c *Controller) resetTransport() error {
	c.Lock()
	old := c.rtp
	port := c.port
	c.rtp = nil
	c.Unlock()

	// closing first wakes a receive loop blocked in a read
	if old != nil {
		_ = old.Close()
	}
	c.stopReceiver()

	udp, err := bind(port)
	if err != nil {
		return err
	}

	c.Lock()
	c.rtp = udp
	c.Unlock()
	return nil
}

func (c *Controller) startReceiver() error {
	c.Lock()
	defer c.Unlock()
	if c.stop != nil {
		return nil
	}
	if c.rtp == nil {
		udp, err := bind(c.port)
		if err != nil {
			return err
		}
		c.rtp = udp
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.receiving = c.rtp
	go c.receiveLoop(c.rtp, c.stop, c.done)
	return nil
}

// stopReceiver signals the receive loop and waits for it up to the join
// timeout. A loop that does not finish in time is abandoned.
func (c *Controller) stopReceiver() {
	c.Lock()
	stop, done, receiving := c.stop, c.done, c.receiving
	c.stop, c.done, c.receiving = nil, nil, nil
	entry := c.log
	c.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	// expire the pending read so the loop sees stop without waiting out
	// its poll interval
	_ = receiving.SetReadDeadline(time.Now())
	select {
	case <-done:
	case <-time.After(c.cfg.JoinTimeout):
		entry.Warn("receive loop did not stop in time, abandoning it")
	}
}

func (c *Controller) receiveLoop(conn *net.UDPConn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, packet.MaxDatagramSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(receivePollInterval))
		select {
		case <-stop:
			return
		default:
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
			case errors.Is(err, net.ErrClosed):
				return
			default:
				c.log.WithError(err).Debug("data plane receive failed")
			}
			continue
		}
		c.handleDatagram(buf[:n])
	}
}

func (c *Controller) handleDatagram(b []byte) {
	c.Lock()
	ssrc := uint32(c.session)
	c.Unlock()

	if packet.IsRTCP(b) {
		sources, err := packet.GoodbyeSources(b)
		if err != nil {
			return
		}
		for _, source := range sources {
			if source == ssrc {
				if eos, ok := c.cfg.Display.(display.EndOfStreamer); ok {
					eos.OnEndOfStream()
				}
				return
			}
		}
		return
	}

	p, err := packet.Unmarshal(b)
	if err != nil {
		framesReceived.WithLabelValues("malformed").Inc()
		return
	}
	if p.SSRC != ssrc {
		framesReceived.WithLabelValues("foreign").Inc()
		return
	}

	c.Lock()
	scrubbing := c.filter.scrubbing
	frame := c.filter.unwrap(p.SequenceNumber)
	accepted := c.filter.accept(frame)
	total := c.totalFrames
	c.Unlock()

	switch {
	case !accepted && scrubbing:
		framesReceived.WithLabelValues("scrub_rejected").Inc()
		return
	case !accepted:
		framesReceived.WithLabelValues("stale").Inc()
		return
	}
	framesReceived.WithLabelValues("accepted").Inc()

	data := make([]byte, len(p.Payload))
	copy(data, p.Payload)
	c.cfg.Display.OnFrame(data)
	if !scrubbing && total > 0 {
		c.cfg.Display.OnPosition(float64(frame) / float64(total) * 100)
	}
}

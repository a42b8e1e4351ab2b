package rtsp

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/bilbercode/scrubcast/internal/container"
	"github.com/bilbercode/scrubcast/internal/packet"
	"github.com/bilbercode/scrubcast/internal/rtsp/transport"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "sessions_active",
		Namespace: "scrubcast",
		Help:      "number of sessions past SETUP and not yet torn down",
	})
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "frames_sent_total",
		Namespace: "scrubcast",
		Help:      "number of frames sent on the data plane",
	})
	sendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "send_errors_total",
		Namespace: "scrubcast",
		Help:      "number of data plane sends that failed",
	})
)

// session is the server half of one control connection.
type session struct {
	sync.Mutex
	cfg   ServerConfig
	newID func() int
	peer  net.IP
	log   *log.Entry

	id        int
	state     State
	resource  string
	container *container.Container
	data      *net.UDPConn
	dest      *net.UDPAddr

	stop chan struct{}
	done chan struct{}
}

func newSession(cfg ServerConfig, peer net.Addr, newID func() int) *session {
	var ip net.IP
	if addr, ok := peer.(*net.TCPAddr); ok {
		ip = addr.IP
	} else if host, _, err := net.SplitHostPort(peer.String()); err == nil {
		ip = net.ParseIP(host)
	}
	return &session{
		cfg:   cfg,
		newID: newID,
		peer:  ip,
		log:   log.WithField("peer", peer.String()),
		state: StateInit,
	}
}

func (s *session) Info() SessionInfo {
	s.Lock()
	defer s.Unlock()
	info := SessionInfo{ID: s.id, Resource: s.resource, State: s.state}
	if s.container != nil {
		info.Frame = s.container.Cursor()
		info.Frames = s.container.FrameCount()
	}
	return info
}

func (s *session) logger() *log.Entry {
	s.Lock()
	defer s.Unlock()
	return s.log
}

// Handle applies request to the session. A nil response means the request
// was not valid in the current state and is left unanswered.
func (s *session) Handle(request *Request) *Response {
	s.Lock()
	defer s.Unlock()

	if request.Method != MethodSetup && request.Method != MethodDescribe && s.id != 0 {
		id, ok := request.Session()
		if !ok {
			s.log.WithError(ErrSessionMismatch).Warnf("dropping %s without a session", request.Method)
			return nil
		}
		if id != s.id {
			s.log.WithError(ErrSessionMismatch).Warnf("dropping %s for session %d", request.Method, id)
			return nil
		}
	}

	switch request.Method {
	case MethodSetup:
		return s.handleSetup(request)
	case MethodPlay:
		return s.handlePlay(request)
	case MethodPause:
		return s.handlePause(request)
	case MethodScrub:
		return s.handleScrub(request)
	case MethodTeardown:
		return s.handleTeardown(request)
	case MethodDescribe:
		return s.handleDescribe(request)
	default:
		s.log.Warnf("unsupported method %s", request.Method)
		return s.reply(http.StatusInternalServerError, request)
	}
}

func (s *session) reply(code int, request *Request) *Response {
	res := NewResponse(code, request.Sequence)
	res.SetSession(s.id)
	return res
}

func (s *session) handleSetup(request *Request) *Response {
	if s.state != StateInit {
		return nil
	}

	resource, err := s.resolve(request.Url)
	if err != nil {
		s.log.WithError(err).Warnf("SETUP for unknown resource %s", request.Url)
		return s.reply(http.StatusNotFound, request)
	}
	c, err := container.Open(resource)
	if err != nil {
		s.log.WithError(err).Warnf("failed to open resource %s", request.Url)
		return s.reply(http.StatusNotFound, request)
	}

	ts, err := request.Transport()
	if err != nil {
		_ = c.Close()
		s.log.WithError(err).Warn("SETUP with unusable transport")
		return s.reply(http.StatusInternalServerError, request)
	}
	port, ok := ts.ClientPort()
	if !ok || s.peer == nil {
		_ = c.Close()
		s.log.Warn("SETUP without client_port")
		return s.reply(http.StatusInternalServerError, request)
	}

	data, err := net.ListenUDP("udp", nil)
	if err != nil {
		_ = c.Close()
		s.log.WithError(err).Error("failed to open data socket")
		return s.reply(http.StatusInternalServerError, request)
	}
	if s.cfg.DSCP > 0 {
		err = ipv4.NewConn(data).SetTOS(s.cfg.DSCP << 2)
		if err != nil {
			s.log.WithError(err).Debug("failed to mark data socket")
		}
	}

	s.id = s.newID()
	s.resource = request.Url
	s.container = c
	s.data = data
	s.dest = &net.UDPAddr{IP: s.peer, Port: port}
	s.state = StateReady
	s.log = s.log.WithField("session", s.id)
	sessionsActive.Inc()
	s.log.Infof("session set up for %s (%d frames), sending to %s", request.Url, c.FrameCount(), s.dest)

	res := s.reply(http.StatusOK, request)
	res.SetTotalFrames(c.FrameCount())
	res.Header.Set(headerTransport, transport.NewOption(
		transport.ClientPort{port},
		transport.SSRC(uint32(s.id)),
	).String())
	return res
}

func (s *session) handlePlay(request *Request) *Response {
	if s.state != StateReady {
		return nil
	}
	s.startLoop()
	s.state = StatePlaying
	return s.reply(http.StatusOK, request)
}

func (s *session) handlePause(request *Request) *Response {
	if s.state != StatePlaying {
		return nil
	}
	s.stopLoop()
	s.state = StateReady
	return s.reply(http.StatusOK, request)
}

func (s *session) handleScrub(request *Request) *Response {
	if s.state != StateReady && s.state != StatePlaying {
		return nil
	}

	position, ok := request.Position()
	if !ok || position < 0 || position > 100 {
		s.log.Warnf("SCRUB with missing or invalid position %q", request.Header.Get(headerPosition))
		return s.reply(http.StatusInternalServerError, request)
	}

	wasPlaying := s.state == StatePlaying
	if wasPlaying {
		s.stopLoop()
	}

	target := TargetFrame(position, s.container.FrameCount())
	ok = s.container.Seek(target)

	if wasPlaying {
		s.startLoop()
	}

	if !ok {
		s.log.WithError(ErrSeekOutOfRange).Warnf("SCRUB to %v%% (frame %d of %d)", position, target, s.container.FrameCount())
		return s.reply(http.StatusInternalServerError, request)
	}
	s.log.Debugf("scrubbed to frame %d", target)
	return s.reply(http.StatusOK, request)
}

func (s *session) handleTeardown(request *Request) *Response {
	if s.state == StateInit || s.state == StateClosed {
		return nil
	}
	s.close()
	return s.reply(http.StatusOK, request)
}

func (s *session) handleDescribe(request *Request) *Response {
	resource, err := s.resolve(request.Url)
	if err != nil {
		return s.reply(http.StatusNotFound, request)
	}
	c, err := container.Open(resource)
	if err != nil {
		return s.reply(http.StatusNotFound, request)
	}
	frames := c.FrameCount()
	_ = c.Close()

	body, err := describe(request.Url, frames, s.cfg.FrameInterval)
	if err != nil {
		s.log.WithError(err).Error("failed to build session description")
		return s.reply(http.StatusInternalServerError, request)
	}
	res := s.reply(http.StatusOK, request)
	res.Header.Set(headerContentType, "application/sdp")
	res.Header.Set(headerContentBase, request.Url)
	res.Body = body
	return res
}

// Close releases everything the session holds. It is used when the control
// connection goes away without a TEARDOWN.
func (s *session) Close() {
	s.Lock()
	defer s.Unlock()
	if s.state == StateInit || s.state == StateClosed {
		s.state = StateClosed
		return
	}
	s.close()
}

func (s *session) close() {
	s.stopLoop()
	if err := s.container.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close container")
	}
	if err := s.data.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close data socket")
	}
	s.state = StateClosed
	sessionsActive.Dec()
	s.log.Info("session closed")
}

// resolve maps a request URL (a bare name or rtsp://host/name) onto the media
// root. Paths escaping the root are not found.
func (s *session) resolve(raw string) (string, error) {
	name := raw
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		name = u.Path
	}
	name = path.Clean("/" + strings.TrimSpace(name))
	if name == "/" {
		return "", ErrResourceNotFound
	}
	return filepath.Join(s.cfg.MediaRoot, filepath.FromSlash(name)), nil
}

func (s *session) startLoop() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go sendLoop(s.log, s.cfg.FrameInterval, s.container, s.data, s.dest, uint32(s.id), s.stop, s.done)
}

// stopLoop signals the send loop and waits for it up to the join timeout. A
// loop that does not finish in time is abandoned.
func (s *session) stopLoop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	select {
	case <-s.done:
	case <-time.After(s.cfg.JoinTimeout):
		s.log.Warn("send loop did not stop in time, abandoning it")
	}
	s.stop = nil
	s.done = nil
}

func sendLoop(entry *log.Entry, interval time.Duration, c *container.Container, data *net.UDPConn,
	dest *net.UDPAddr, ssrc uint32, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		frame, err := c.Next()
		switch {
		case errors.Is(err, io.EOF):
			entry.Info("end of stream")
			bye, err := packet.Goodbye(ssrc)
			if err == nil {
				_, err = data.WriteToUDP(bye, dest)
			}
			if err != nil {
				entry.WithError(err).Debug("failed to send goodbye")
			}
			return
		case err != nil:
			entry.WithError(err).Error("failed to read frame")
			return
		}

		b, err := packet.Marshal(frame.Number, ssrc, frame.Data)
		if err == nil {
			_, err = data.WriteToUDP(b, dest)
		}
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			sendErrors.Inc()
			entry.WithError(err).Warnf("failed to send frame %d", frame.Number)
		} else {
			framesSent.Inc()
		}
		timer.Reset(interval)
	}
}

package rtsp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var controlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name:      "control_requests_total",
	Namespace: "scrubcast",
	Help:      "number of control requests handled, by method and reply code",
}, []string{"method", "code"})

const (
	DefaultFrameInterval = 50 * time.Millisecond
	DefaultJoinTimeout   = time.Second
)

type ServerConfig struct {
	// MediaRoot is the directory request URLs are resolved under.
	MediaRoot string
	// FrameInterval paces the send loop. Defaults to DefaultFrameInterval.
	FrameInterval time.Duration
	// JoinTimeout bounds how long a stopped send loop is waited for.
	JoinTimeout time.Duration
	// DSCP, when non zero, is set on outgoing data packets.
	DSCP int
}

type server struct {
	sync.Mutex
	cfg      ServerConfig
	rnd      *rand.Rand
	sessions map[int]*session
}

func NewServer(cfg ServerConfig) Server {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	return &server{
		Mutex:    sync.Mutex{},
		cfg:      cfg,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions: make(map[int]*session),
	}
}

func (s *server) Start(ctx context.Context, addr string) error {
	conf := net.ListenConfig{}
	listener, err := conf.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", addr, err)
	}
	log.Infof("control protocol listening on %s, serving %s", listener.Addr(), s.cfg.MediaRoot)
	return s.Serve(ctx, listener)
}

func (s *server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		nc, err := listener.Accept()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, net.ErrClosed):
			return nil
		case err != nil:
			return err
		default:
			go s.handle(ctx, nc)
		}
	}
}

func (s *server) Sessions() []SessionInfo {
	s.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// newID picks an unused session id in [100000, 999999].
func (s *server) newID() int {
	s.Lock()
	defer s.Unlock()
	for {
		id := 100000 + s.rnd.Intn(900000)
		if _, ok := s.sessions[id]; !ok {
			return id
		}
	}
}

func (s *server) handle(ctx context.Context, nc net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := NewConnWithContextCancel(nc, ctx, cancel)
	sess := newSession(s.cfg, nc.RemoteAddr(), s.newID)
	sess.log.Info("control connection accepted")

	c.SubscribeRequests(func(request *Request, c Conn) error {
		response := sess.Handle(request)
		if response == nil {
			controlRequests.WithLabelValues(request.Method.String(), "none").Inc()
			sess.logger().Debugf("%s not valid in state %s, ignored", request.Method, sess.Info().State)
			return nil
		}
		controlRequests.WithLabelValues(request.Method.String(), strconv.Itoa(response.Code)).Inc()

		switch {
		case request.Method == MethodSetup && response.Code == 200:
			id := sess.Info().ID
			s.Lock()
			s.sessions[id] = sess
			s.Unlock()
		case request.Method == MethodTeardown:
			s.remove(sess)
		}
		return c.SendResponse(ctx, response)
	})

	<-c.Done()
	sess.Close()
	s.remove(sess)
	sess.logger().Info("control connection closed")
}

func (s *server) remove(sess *session) {
	info := sess.Info()
	s.Lock()
	defer s.Unlock()
	if s.sessions[info.ID] == sess {
		delete(s.sessions, info.ID)
	}
}

package rtsp

import (
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/scrubcast/internal/container"
	"github.com/bilbercode/scrubcast/internal/packet"
	"github.com/bilbercode/scrubcast/internal/rtsp/transport"
)

// writeMovie stores a container of n small frames under dir and returns its
// name.
func writeMovie(t *testing.T, dir string, n int) string {
	t.Helper()
	name := "movie.cnt"
	w, err := container.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.WriteFrame([]byte(fmt.Sprintf("frame-%d", i))))
	}
	require.NoError(t, w.Close())
	return name
}

func newTestSession(t *testing.T, frames int, interval time.Duration) (*session, string) {
	t.Helper()
	dir := t.TempDir()
	name := writeMovie(t, dir, frames)
	cfg := ServerConfig{
		MediaRoot:     dir,
		FrameInterval: interval,
		JoinTimeout:   time.Second,
	}
	sess := newSession(cfg, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}, func() int { return 123456 })
	t.Cleanup(sess.Close)
	return sess, name
}

func setupRequest(name string, seq int) *Request {
	r := NewRequest(MethodSetup, name, seq)
	r.SetTransport(transport.ClientSpec(25000))
	return r
}

func sessionRequest(method Method, name string, seq int) *Request {
	r := NewRequest(method, name, seq)
	r.SetSession(123456)
	return r
}

func TestSessionSetup(t *testing.T) {
	t.Parallel()
	sess, name := newTestSession(t, 500, time.Hour)

	res := sess.Handle(setupRequest(name, 1))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, 1, res.Sequence)

	id, ok := res.Session()
	assert.True(t, ok)
	assert.Equal(t, 123456, id)
	total, ok := res.TotalFrames()
	assert.True(t, ok)
	assert.Equal(t, 500, total)
	assert.Contains(t, res.Header.Get(headerTransport), "client_port=25000")

	info := sess.Info()
	assert.Equal(t, StateReady, info.State)
	assert.Equal(t, 0, info.Frame)

	assert.Nil(t, sess.Handle(setupRequest(name, 2)), "second SETUP is ignored")
}

func TestSessionSetupErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		request  *Request
		wantCode int
	}{
		{name: "unknown resource", request: setupRequest("missing.cnt", 1), wantCode: http.StatusNotFound},
		{name: "escaping the root", request: setupRequest("../../etc/passwd", 1), wantCode: http.StatusNotFound},
		{name: "no transport", request: NewRequest(MethodSetup, "movie.cnt", 1), wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess, _ := newTestSession(t, 10, time.Hour)
			res := sess.Handle(tt.request)
			require.NotNil(t, res)
			assert.Equal(t, tt.wantCode, res.Code)
			assert.Equal(t, StateInit, sess.Info().State)
		})
	}
}

func TestSessionStateMachine(t *testing.T) {
	t.Parallel()
	sess, name := newTestSession(t, 500, time.Hour)

	assert.Nil(t, sess.Handle(sessionRequest(MethodPlay, name, 1)), "PLAY before SETUP")

	require.Equal(t, http.StatusOK, sess.Handle(setupRequest(name, 2)).Code)
	assert.Nil(t, sess.Handle(sessionRequest(MethodPause, name, 3)), "PAUSE while READY")

	res := sess.Handle(sessionRequest(MethodPlay, name, 4))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, StatePlaying, sess.Info().State)
	assert.Nil(t, sess.Handle(sessionRequest(MethodPlay, name, 5)), "PLAY while PLAYING")

	res = sess.Handle(sessionRequest(MethodPause, name, 6))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, StateReady, sess.Info().State)

	res = sess.Handle(sessionRequest(MethodTeardown, name, 7))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, StateClosed, sess.Info().State)

	assert.Nil(t, sess.Handle(sessionRequest(MethodPlay, name, 8)), "PLAY after TEARDOWN")
	assert.Nil(t, sess.Handle(sessionRequest(MethodTeardown, name, 9)), "second TEARDOWN")
}

func TestSessionScrub(t *testing.T) {
	t.Parallel()
	sess, name := newTestSession(t, 500, time.Hour)
	require.Equal(t, http.StatusOK, sess.Handle(setupRequest(name, 1)).Code)

	scrub := func(seq int, position string) *Response {
		r := sessionRequest(MethodScrub, name, seq)
		if position != "" {
			r.Header.Set(headerPosition, position)
		}
		return sess.Handle(r)
	}

	res := scrub(2, "80")
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, 400, sess.Info().Frame)

	tests := []struct {
		name     string
		position string
	}{
		{name: "missing position", position: ""},
		{name: "past the end", position: "100"},
		{name: "negative", position: "-5"},
		{name: "above range", position: "150"},
	}
	for i, tt := range tests {
		res := scrub(10+i, tt.position)
		require.NotNil(t, res, tt.name)
		assert.Equal(t, http.StatusInternalServerError, res.Code, tt.name)
		assert.Equal(t, 400, sess.Info().Frame, "%s leaves the cursor alone", tt.name)
		assert.Equal(t, StateReady, sess.Info().State, tt.name)
	}
}

func TestSessionMismatchIsDropped(t *testing.T) {
	t.Parallel()
	sess, name := newTestSession(t, 10, time.Hour)
	require.Equal(t, http.StatusOK, sess.Handle(setupRequest(name, 1)).Code)

	r := NewRequest(MethodPlay, name, 2)
	r.SetSession(654321)
	assert.Nil(t, sess.Handle(r))
	assert.Equal(t, StateReady, sess.Info().State)

	for i, method := range []Method{MethodPlay, MethodPause, MethodScrub, MethodTeardown} {
		assert.Nil(t, sess.Handle(NewRequest(method, name, 3+i)), "%s without a session", method)
	}
	assert.Equal(t, StateReady, sess.Info().State)
}

func TestSessionUnknownMethod(t *testing.T) {
	t.Parallel()
	sess, name := newTestSession(t, 10, time.Hour)

	res := sess.Handle(NewRequest(Method("RECORD"), name, 1))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
}

func TestSessionDescribe(t *testing.T) {
	t.Parallel()
	sess, name := newTestSession(t, 42, time.Hour)

	res := sess.Handle(NewRequest(MethodDescribe, name, 1))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/sdp", res.Header.Get(headerContentType))
	assert.Contains(t, string(res.Body), "a=x-totalframes:42")
	assert.Contains(t, string(res.Body), "a=rtpmap:26 JPEG/90000")
	assert.Equal(t, StateInit, sess.Info().State, "DESCRIBE does not change state")

	res = sess.Handle(NewRequest(MethodDescribe, "missing.cnt", 2))
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestSessionScrubWhilePlaying(t *testing.T) {
	t.Parallel()
	receiver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = receiver.Close() })

	sess, name := newTestSession(t, 500, 20*time.Millisecond)
	setup := NewRequest(MethodSetup, name, 1)
	setup.SetTransport(transport.ClientSpec(receiver.LocalAddr().(*net.UDPAddr).Port))
	require.Equal(t, http.StatusOK, sess.Handle(setup).Code)
	require.Equal(t, http.StatusOK, sess.Handle(sessionRequest(MethodPlay, name, 2)).Code)

	buf := make([]byte, packet.MaxDatagramSize)
	next := func() int {
		require.NoError(t, receiver.SetReadDeadline(time.Now().Add(5*time.Second)))
		n, _, err := receiver.ReadFromUDP(buf)
		require.NoError(t, err)
		p, err := packet.Unmarshal(buf[:n])
		require.NoError(t, err)
		return int(p.SequenceNumber)
	}
	assert.Equal(t, 0, next())

	r := sessionRequest(MethodScrub, name, 3)
	r.SetPosition(80)
	res := sess.Handle(r)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, StatePlaying, sess.Info().State)

	// frames sent before the scrub are still queued; skip them
	frame := next()
	for frame < 100 {
		frame = next()
	}
	assert.InDelta(t, 400, frame, ScrubTolerance-1)
}

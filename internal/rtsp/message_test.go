package rtsp

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/scrubcast/internal/rtsp/transport"
)

func TestRequestWrite(t *testing.T) {
	t.Parallel()

	setup := NewRequest(MethodSetup, "movie.cnt", 1)
	setup.SetTransport(transport.ClientSpec(25000))

	scrub := NewRequest(MethodScrub, "movie.cnt", 7)
	scrub.SetSession(123456)
	scrub.SetPosition(37.5)

	tests := []struct {
		name    string
		request *Request
		want    string
	}{
		{
			name:    "setup",
			request: setup,
			want:    "SETUP movie.cnt RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/UDP; client_port= 25000\r\n\r\n",
		},
		{
			name:    "scrub",
			request: scrub,
			want:    "SCRUB movie.cnt RTSP/1.0\r\nCSeq: 7\r\nSession: 123456\r\nPosition: 37.5\r\n\r\n",
		},
		{
			name:    "play",
			request: func() *Request { r := NewRequest(MethodPlay, "movie.cnt", 2); r.SetSession(123456); return r }(),
			want:    "PLAY movie.cnt RTSP/1.0\r\nCSeq: 2\r\nSession: 123456\r\n\r\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			require.NoError(t, tt.request.Write(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestResponseWrite(t *testing.T) {
	t.Parallel()
	res := NewResponse(200, 1)
	res.SetSession(123456)
	res.SetTotalFrames(500)

	buf := &bytes.Buffer{}
	require.NoError(t, res.Write(buf))
	assert.Equal(t, "RTSP/1.0 200 OK\r\nCSeq: 1\r\nSession: 123456\r\nTotalFrames: 500\r\n\r\n", buf.String())
}

func TestParseReply(t *testing.T) {
	t.Parallel()
	msg, err := ParseMessage([]byte("RTSP/1.0 200 OK\nCSeq: 1\nSession: 123456\nTotalFrames: 500\n"))
	require.NoError(t, err)

	res, ok := msg.(*Response)
	require.True(t, ok)
	assert.Equal(t, 200, res.Code)
	assert.Equal(t, "OK", res.Message)
	assert.Equal(t, 1, res.CSeq())

	id, ok := res.Session()
	assert.True(t, ok)
	assert.Equal(t, 123456, id)
	total, ok := res.TotalFrames()
	assert.True(t, ok)
	assert.Equal(t, 500, total)
}

func TestParseRequest(t *testing.T) {
	t.Parallel()
	msg, err := ParseMessage([]byte("SCRUB movie.cnt RTSP/1.0\r\nCSeq: 4\r\nSession: 123456\r\nPosition: 80\r\n\r\n"))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, MethodScrub, req.Method)
	assert.Equal(t, "movie.cnt", req.Url)
	assert.Equal(t, 4, req.CSeq())
	position, ok := req.Position()
	assert.True(t, ok)
	assert.Equal(t, 80.0, position)
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "missing cseq", raw: "PLAY movie.cnt RTSP/1.0\r\nSession: 1\r\n\r\n"},
		{name: "non numeric cseq", raw: "PLAY movie.cnt RTSP/1.0\r\nCSeq: one\r\n\r\n"},
		{name: "non numeric session", raw: "PLAY movie.cnt RTSP/1.0\r\nCSeq: 1\r\nSession: abc\r\n\r\n"},
		{name: "non numeric position", raw: "SCRUB movie.cnt RTSP/1.0\r\nCSeq: 1\r\nPosition: half\r\n\r\n"},
		{name: "bad status code", raw: "RTSP/1.0 OK\r\nCSeq: 1\r\n\r\n"},
		{name: "short request line", raw: "PLAY movie.cnt\r\nCSeq: 1\r\n\r\n"},
		{name: "header without colon", raw: "PLAY movie.cnt RTSP/1.0\r\nCSeq: 1\r\ngarbage\r\n\r\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseMessage([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestReadMessageSkipsPastMalformed(t *testing.T) {
	t.Parallel()
	stream := "PLAY movie.cnt RTSP/1.0\r\nCSeq: x\r\n\r\n" +
		"PAUSE movie.cnt RTSP/1.0\r\nCSeq: 3\r\nSession: 9\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(stream))

	_, err := ReadMessage(br)
	require.ErrorIs(t, err, ErrMalformedMessage)

	msg, err := ReadMessage(br)
	require.NoError(t, err)
	assert.Equal(t, 3, msg.CSeq())

	_, err = ReadMessage(br)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMessageBody(t *testing.T) {
	t.Parallel()
	res := NewResponse(200, 5)
	res.Header.Set(headerContentType, "application/sdp")
	res.Body = []byte("v=0\r\n")

	buf := &bytes.Buffer{}
	require.NoError(t, res.Write(buf))
	assert.Contains(t, buf.String(), "Content-Length: 5\r\n\r\nv=0\r\n")

	msg, err := ParseMessage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte("v=0\r\n"), msg.(*Response).Body)
}

func TestReadMessageOversizedBody(t *testing.T) {
	t.Parallel()
	for _, length := range []string{"9223372036854775807", "99999999999999999999", "2000000000", "65537"} {
		raw := "PLAY movie.cnt RTSP/1.0\r\nCSeq: 1\r\nContent-Length: " + length + "\r\n\r\n"
		var err error
		require.NotPanics(t, func() {
			_, err = ParseMessage([]byte(raw))
		}, length)
		assert.ErrorIs(t, err, ErrMessageTooLarge, length)
		assert.ErrorIs(t, err, ErrMalformedMessage, length)
	}

	body := strings.Repeat("x", MaxBodySize)
	msg, err := ParseMessage([]byte("PLAY movie.cnt RTSP/1.0\r\nCSeq: 1\r\nContent-Length: 65536\r\n\r\n" + body))
	require.NoError(t, err)
	assert.Len(t, msg.(*Request).Body, MaxBodySize)
}

package rtsp

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bilbercode/scrubcast/internal/rtsp/transport"
)

type Request struct {
	Version  string
	Url      string
	Sequence int
	Method   Method
	Header   http.Header
	Body     []byte
}

func NewRequest(method Method, url string, seq int) *Request {
	return &Request{
		Version:  "1.0",
		Url:      url,
		Sequence: seq,
		Method:   method,
		Header:   http.Header{},
	}
}

func (r *Request) CSeq() int {
	return r.Sequence
}

func (r *Request) Write(w io.Writer) error {
	startLine := fmt.Sprintf("%s %s RTSP/%s", r.Method, r.Url, r.Version)
	return writeMessage(w, startLine, r.Sequence, r.Header, r.Body)
}

func (r *Request) header() http.Header {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	return r.Header
}

func (r *Request) SetSession(id int) {
	r.header().Set(headerSession, strconv.Itoa(id))
}

func (r *Request) SetTransport(spec string) {
	r.header().Set(headerTransport, spec)
}

func (r *Request) SetPosition(percent float64) {
	r.header().Set(headerPosition, strconv.FormatFloat(percent, 'f', -1, 64))
}

func (r *Request) Session() (int, bool) {
	return intHeader(r.Header, headerSession)
}

func (r *Request) Position() (float64, bool) {
	return floatHeader(r.Header, headerPosition)
}

func (r *Request) Transport() (transport.Header, error) {
	return transport.Parse(r.Header.Values(headerTransport))
}

package rtsp

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
)

type Response struct {
	Version  string
	Code     int
	Message  string
	Sequence int
	Header   http.Header
	Body     []byte
}

func NewResponse(code int, seq int) *Response {
	return &Response{
		Version:  "1.0",
		Code:     code,
		Message:  http.StatusText(code),
		Sequence: seq,
		Header:   http.Header{},
	}
}

func (r *Response) CSeq() int {
	return r.Sequence
}

func (r *Response) Write(w io.Writer) error {
	statusLine := fmt.Sprintf("RTSP/%s %d %s", r.Version, r.Code, r.Message)
	return writeMessage(w, statusLine, r.Sequence, r.Header, r.Body)
}

func (r *Response) header() http.Header {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	return r.Header
}

func (r *Response) SetSession(id int) {
	r.header().Set(headerSession, strconv.Itoa(id))
}

func (r *Response) SetTotalFrames(n int) {
	r.header().Set(headerTotalFrames, strconv.Itoa(n))
}

func (r *Response) Session() (int, bool) {
	return intHeader(r.Header, headerSession)
}

func (r *Response) TotalFrames() (int, bool) {
	return intHeader(r.Header, headerTotalFrames)
}

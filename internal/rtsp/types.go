package rtsp

import (
	"context"
	"net"
)

type Server interface {
	Start(ctx context.Context, addr string) error
	Serve(ctx context.Context, listener net.Listener) error
	Sessions() []SessionInfo
}

// Conn is one control connection. Replies are matched to requests by CSeq and
// requests from the peer are handed to subscribers in arrival order.
type Conn interface {
	SendRequest(ctx context.Context, request *Request) (*Response, error)
	SendResponse(ctx context.Context, response *Response) error
	SubscribeRequests(h func(request *Request, c Conn) error) func()

	Conn() net.Conn
	Close() error

	Done() <-chan struct{}
	Err() error
}

type SessionInfo struct {
	ID       int
	Resource string
	State    State
	Frame    int
	Frames   int
}

package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type conn struct {
	sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	id string

	requestSubscribers map[string]func(request *Request, c Conn) error
	rtspSocket         net.Conn
	requestQueue       *requestQueue
	writeMu            sync.Mutex

	err error
}

type requestQueue struct {
	mu    sync.Mutex
	items map[int]func(response *Response)
}

// NewConnWithContextCancel wraps nc and starts its read loop. The connection is
// closed when ctx is done, and cancel is called when the read loop ends.
func NewConnWithContextCancel(nc net.Conn, ctx context.Context, cancel context.CancelFunc) Conn {
	c := &conn{
		ctx:                ctx,
		cancel:             cancel,
		id:                 uuid.NewString(),
		requestQueue:       newRequestQueue(),
		requestSubscribers: make(map[string]func(request *Request, c Conn) error),
		rtspSocket:         nc,
	}
	go func() {
		<-ctx.Done()
		_ = nc.Close()
	}()
	go c.readLoop()

	return c
}

func (c *conn) Conn() net.Conn {
	return c.rtspSocket
}

func (c *conn) Close() error {
	c.cancel()
	return c.rtspSocket.Close()
}

func (c *conn) SendRequest(ctx context.Context, request *Request) (*Response, error) {
	done := make(chan *Response, 1)
	err := c.requestQueue.Enqueue(request.Sequence, func(r *Response) {
		done <- r
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue request: %w", err)
	}

	c.writeMu.Lock()
	err = request.Write(c.rtspSocket)
	c.writeMu.Unlock()
	if err != nil {
		c.requestQueue.Remove(request.Sequence)
		return nil, fmt.Errorf("%w: failed to write %s request: %v", ErrSocket, request.Method, err)
	}

	select {
	case response := <-done:
		return response, nil
	case <-ctx.Done():
		c.requestQueue.Remove(request.Sequence)
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.requestQueue.Remove(request.Sequence)
		return nil, fmt.Errorf("%w: connection closed waiting for reply to %s", ErrSocket, request.Method)
	}
}

func (c *conn) SendResponse(ctx context.Context, response *Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := response.Write(c.rtspSocket)
	if err != nil {
		return fmt.Errorf("%w: failed to write response: %v", ErrSocket, err)
	}
	return nil
}

func (c *conn) SubscribeRequests(h func(request *Request, c Conn) error) func() {
	c.Lock()
	defer c.Unlock()
	id := uuid.NewString()
	c.requestSubscribers[id] = h
	return func() {
		c.Lock()
		defer c.Unlock()
		delete(c.requestSubscribers, id)
	}
}

func (c *conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *conn) readLoop() {
	defer c.cancel()
	entry := log.WithField("conn", c.id)
	br := bufio.NewReader(c.rtspSocket)
	for {
		msg, err := ReadMessage(br)
		switch {
		case errors.Is(err, ErrMessageTooLarge):
			entry.WithError(err).Warn("closing control connection")
			c.setErr(err)
			return
		case errors.Is(err, ErrMalformedMessage):
			entry.WithError(err).Warn("dropping malformed control message")
			continue
		case err != nil:
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				entry.WithError(err).Warn("control connection failed")
			}
			c.setErr(err)
			return
		}

		switch m := msg.(type) {
		case *Response:
			hf, ok := c.requestQueue.Dequeue(m.Sequence)
			if !ok {
				entry.WithError(ErrSequenceStale).Debugf("dropping reply with CSeq %d", m.Sequence)
				continue
			}
			hf(m)
		case *Request:
			c.RLock()
			handlers := make([]func(request *Request, c Conn) error, 0, len(c.requestSubscribers))
			for _, h := range c.requestSubscribers {
				handlers = append(handlers, h)
			}
			c.RUnlock()

			for _, h := range handlers {
				err = h(m, c)
				if err != nil {
					c.setErr(fmt.Errorf("handler function failed with: %w", err))
					return
				}
			}
		}
	}
}

func (c *conn) setErr(err error) {
	c.Lock()
	defer c.Unlock()
	c.err = err
}

func (c *conn) Err() error {
	c.RLock()
	defer c.RUnlock()
	return c.err
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		mu:    sync.Mutex{},
		items: make(map[int]func(response *Response)),
	}
}

func (r *requestQueue) Enqueue(key int, h func(response *Response)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return fmt.Errorf("duplicate CSeq %d", key)
	}
	r.items[key] = h
	return nil
}

func (r *requestQueue) Dequeue(key int) (func(response *Response), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.items[key]
	if ok {
		delete(r.items, key)
	}
	return h, ok
}

func (r *requestQueue) Remove(key int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

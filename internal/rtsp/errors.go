package rtsp

import (
	"errors"
	"fmt"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrMalformedMessage = errors.New("malformed message")
	ErrSessionMismatch  = errors.New("session mismatch")
	ErrSequenceStale    = errors.New("stale sequence")
	ErrSeekOutOfRange   = errors.New("seek out of range")
	ErrTransportBind    = errors.New("failed to bind transport")
	ErrSocket           = errors.New("socket failure")
	ErrInvalidState     = errors.New("method not valid in this state")
	ErrReplyTimeout     = errors.New("timed out waiting for reply")
	ErrScrubFailed      = errors.New("scrub failed")
)

// ErrMessageTooLarge is a malformed message whose body was not consumed, so
// the stream it came from can no longer be framed.
var ErrMessageTooLarge = fmt.Errorf("%w: body too large", ErrMalformedMessage)

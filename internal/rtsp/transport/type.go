package transport

import "errors"

type Protocol string

const (
	ProtocolUDP Protocol = "UDP"
	ProtocolTCP Protocol = "TCP"
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrMalformedTransport   = errors.New("malformed transport header")
)

type Header interface {
	Options() []Option
	// ClientPort returns the first client_port of the first option carrying one.
	ClientPort() (int, bool)
}

type Option interface {
	IsUnicast() bool
	Protocol() Protocol
	Parameters() []Parameter
	String() string
}

type Parameter interface {
	String() string
}

package transport

import "strings"

type header struct {
	options []Option
}

func (h *header) Options() []Option {
	return h.options
}

func (h *header) ClientPort() (int, bool) {
	for _, o := range h.options {
		for _, p := range o.Parameters() {
			if ports, ok := p.(ClientPort); ok && len(ports) > 0 {
				return ports[0], true
			}
		}
	}
	return 0, false
}

type option struct {
	unicast  bool
	protocol Protocol
	params   []Parameter
}

// NewOption builds a UDP option carrying params, as echoed in SETUP replies.
func NewOption(params ...Parameter) Option {
	return &option{unicast: true, protocol: ProtocolUDP, params: params}
}

func (o *option) Protocol() Protocol {
	return o.protocol
}

func (o *option) IsUnicast() bool {
	return o.unicast
}

func (o *option) Parameters() []Parameter {
	return o.params
}

func (o *option) String() string {
	segments := []string{"RTP/UDP"}
	if o.protocol == ProtocolTCP {
		segments[0] = "RTP/AVP/TCP"
	}
	if o.unicast {
		segments = append(segments, "unicast")
	}

	for _, param := range o.params {
		segments = append(segments, param.String())
	}

	return strings.Join(segments, ";")
}

// ClientSpec is the Transport value a client sends in SETUP.
func ClientSpec(port int) string {
	return "RTP/UDP; " + ClientPort{port}.spaced()
}

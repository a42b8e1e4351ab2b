package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads the values of one or more Transport lines. Whitespace around
// segments and after '=' is tolerated, so "RTP/UDP; client_port= 25000" and
// "RTP/AVP;unicast;client_port=25000-25001" are both accepted.
func Parse(options []string) (Header, error) {
	var opts []Option
	for _, line := range options {
		for _, spec := range strings.Split(line, ",") {
			o, err := parseOption(spec)
			if err != nil {
				return nil, err
			}
			opts = append(opts, o)
		}
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("%w: no transport options", ErrMalformedTransport)
	}

	return &header{options: opts}, nil
}

func parseOption(in string) (Option, error) {
	parts := strings.Split(in, ";")
	opt := &option{}
	switch strings.ToUpper(strings.TrimSpace(parts[0])) {
	case "RTP/UDP", "RTP/AVP", "RTP/AVP/UDP":
		opt.protocol = ProtocolUDP
	case "RTP/AVP/TCP":
		opt.protocol = ProtocolTCP
	case "":
		return nil, fmt.Errorf("%w: empty transport", ErrMalformedTransport)
	default:
		return nil, ErrUnsupportedTransport
	}

	for _, part := range parts[1:] {
		name, value, hasValue := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch {
		case name == "":
			continue
		case name == "unicast":
			opt.unicast = true
		case name == "multicast":
			continue
		case name == "destination":
			opt.params = append(opt.params, Destination(value))
		case name == "client_port":
			ports, err := parsePorts(name, value, hasValue)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, ClientPort(ports))
		case name == "server_port":
			ports, err := parsePorts(name, value, hasValue)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, ServerPort(ports))
		case name == "ssrc":
			if !hasValue {
				return nil, fmt.Errorf("%w: ssrc expected identifier", ErrMalformedTransport)
			}
			ssrc, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to parse ssrc value: %v", ErrMalformedTransport, err)
			}
			opt.params = append(opt.params, SSRC(ssrc))
		case name == "mode":
			if !hasValue {
				return nil, fmt.Errorf("%w: mode", ErrMalformedTransport)
			}
			opt.params = append(opt.params, Mode(strings.Trim(value, "\"")))
		default:
			// unknown parameters are ignored
			continue
		}
	}
	return opt, nil
}

func parsePorts(name, value string, hasValue bool) ([]int, error) {
	if !hasValue || value == "" {
		return nil, fmt.Errorf("%w: %s expected at least one port", ErrMalformedTransport, name)
	}
	var ports []int
	for _, raw := range strings.SplitN(value, "-", 2) {
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("%w: failed to parse %s, received %s", ErrMalformedTransport, name, raw)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

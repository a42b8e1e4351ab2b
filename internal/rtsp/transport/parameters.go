package transport

import (
	"fmt"
	"strconv"
)

type Destination string

func (p Destination) String() string {
	if p == "" {
		return "destination"
	}
	return "destination=" + string(p)
}

type ClientPort []int

func (p ClientPort) String() string {
	return portRange("client_port", p)
}

func (p ClientPort) spaced() string {
	if len(p) == 1 {
		return fmt.Sprintf("client_port= %d", p[0])
	}
	return fmt.Sprintf("client_port= %d-%d", p[0], p[1])
}

type ServerPort []int

func (p ServerPort) String() string {
	return portRange("server_port", p)
}

type SSRC uint32

func (p SSRC) String() string {
	return "ssrc=" + strconv.FormatUint(uint64(p), 10)
}

type Mode string

func (p Mode) String() string {
	return "mode=" + string(p)
}

func portRange(name string, p []int) string {
	if len(p) == 1 {
		return fmt.Sprintf("%s=%d", name, p[0])
	}
	return fmt.Sprintf("%s=%d-%d", name, p[0], p[1])
}

package rtsp

type Method string

const (
	MethodSetup    Method = "SETUP"
	MethodPlay     Method = "PLAY"
	MethodPause    Method = "PAUSE"
	MethodTeardown Method = "TEARDOWN"
	MethodScrub    Method = "SCRUB"
	MethodDescribe Method = "DESCRIBE"
)

func (m Method) String() string {
	return string(m)
}

type State int

const (
	StateInit State = iota
	StateReady
	StatePlaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StatePlaying:
		return "PLAYING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

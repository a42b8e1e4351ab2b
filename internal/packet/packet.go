// Package packet wraps container frames in RTP packets for the data plane.
//
// One frame travels in one packet. The RTP sequence number carries the frame
// number modulo 2^16 and receivers recover the full number with Unwrap. The
// timestamp field is always zero: delivery is paced by the sender and carries
// no presentation time.
package packet

import (
	"errors"
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	Version = 2
	// PayloadTypeJPEG is the static RTP payload type for JPEG video (RFC 3551).
	PayloadTypeJPEG = 26
	// MaxDatagramSize is the largest UDP payload the receivers read.
	MaxDatagramSize = 65536
)

var ErrNotRTP = errors.New("not an RTP packet")

// Packet is a decoded data-plane packet.
type Packet struct {
	SequenceNumber uint16
	SSRC           uint32
	Marker         bool
	PayloadType    uint8
	Payload        []byte
}

// Marshal wraps payload as frame number frame of the stream tagged ssrc.
func Marshal(frame int, ssrc uint32, payload []byte) ([]byte, error) {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        Version,
			Padding:        false,
			Extension:      false,
			Marker:         false,
			PayloadType:    PayloadTypeJPEG,
			SequenceNumber: uint16(frame),
			Timestamp:      0,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	b, err := p.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame %d: %w", frame, err)
	}
	return b, nil
}

func Unmarshal(b []byte) (*Packet, error) {
	if IsRTCP(b) {
		return nil, ErrNotRTP
	}
	p := &rtp.Packet{}
	err := p.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRTP, err)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrNotRTP, p.Version)
	}
	return &Packet{
		SequenceNumber: p.SequenceNumber,
		SSRC:           p.SSRC,
		Marker:         p.Marker,
		PayloadType:    p.PayloadType,
		Payload:        p.Payload,
	}, nil
}

// Unwrap extends a 16 bit sequence number to the frame number closest to
// reference.
func Unwrap(seq uint16, reference int) int {
	if reference < 0 {
		reference = 0
	}
	delta := int(int16(seq - uint16(reference)))
	frame := reference + delta
	if frame < 0 {
		frame += 1 << 16
	}
	return frame
}

// IsRTCP reports whether b looks like an RTCP packet multiplexed on the data
// port (RFC 5761: packet types 192-223 in the second octet).
func IsRTCP(b []byte) bool {
	return len(b) >= 2 && b[0]>>6 == Version && b[1] >= 192 && b[1] <= 223
}

// Goodbye builds the RTCP BYE sent when a stream runs out of frames.
func Goodbye(ssrc uint32) ([]byte, error) {
	bye := &rtcp.Goodbye{
		Sources: []uint32{ssrc},
		Reason:  "end of stream",
	}
	b, err := bye.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal goodbye: %w", err)
	}
	return b, nil
}

// GoodbyeSources returns the SSRCs said goodbye to in an RTCP compound packet.
func GoodbyeSources(b []byte) ([]uint32, error) {
	packets, err := rtcp.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal rtcp: %w", err)
	}
	var sources []uint32
	for _, p := range packets {
		if bye, ok := p.(*rtcp.Goodbye); ok {
			sources = append(sources, bye.Sources...)
		}
	}
	return sources, nil
}

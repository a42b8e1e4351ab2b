package rtsp

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/bilbercode/scrubcast/internal/packet"
)

const attributeTotalFrames = "x-totalframes"

// describe builds the SDP body of a DESCRIBE reply. The frame count travels in
// an x-totalframes attribute and the frame rate follows the send interval.
func describe(resource string, frames int, interval time.Duration) ([]byte, error) {
	payloadType := strconv.Itoa(packet.PayloadTypeJPEG)
	rate := "0"
	if interval > 0 {
		rate = strconv.FormatFloat(float64(time.Second)/float64(interval), 'f', -1, 64)
	}

	description := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: sdp.SessionName(resource),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address: &sdp.Address{
				Address: "0.0.0.0",
			},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{},
			},
		},
		Attributes: []sdp.Attribute{
			{
				Key:   "control",
				Value: "*",
			},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{payloadType},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: payloadType + " JPEG/90000"},
					{Key: "framerate", Value: rate},
					{Key: attributeTotalFrames, Value: strconv.Itoa(frames)},
					{Key: "control", Value: resource},
				},
			},
		},
	}
	return description.Marshal()
}

// TotalFramesOf reads the frame count advertised in a DESCRIBE body.
func TotalFramesOf(description *sdp.SessionDescription) (int, error) {
	for _, md := range description.MediaDescriptions {
		raw, ok := md.Attribute(attributeTotalFrames)
		if !ok {
			continue
		}
		frames, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", attributeTotalFrames, err)
		}
		return frames, nil
	}
	return 0, fmt.Errorf("no %s attribute in session description", attributeTotalFrames)
}

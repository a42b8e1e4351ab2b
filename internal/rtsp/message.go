package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

// MaxBodySize bounds the Content-Length a message may announce.
const MaxBodySize = 64 << 10

const (
	headerCSeq          = "CSeq"
	headerTransport     = "Transport"
	headerSession       = "Session"
	headerPosition      = "Position"
	headerTotalFrames   = "TotalFrames"
	headerContentType   = "Content-Type"
	headerContentBase   = "Content-Base"
	headerContentLength = "Content-Length"
)

// headers are written in this order, anything else follows sorted by name.
var headerOrder = []string{
	headerTransport,
	headerSession,
	headerPosition,
	headerTotalFrames,
	headerContentType,
	headerContentBase,
}

// Message is a parsed control request or reply.
type Message interface {
	CSeq() int
	Write(w io.Writer) error
}

func writeMessage(w io.Writer, startLine string, seq int, header http.Header, body []byte) error {
	writer := textproto.NewWriter(bufio.NewWriter(w))

	err := writer.PrintfLine("%s", startLine)
	if err != nil {
		return fmt.Errorf("failed to write start line: %w", err)
	}

	lines := []string{fmt.Sprintf("%s: %d", headerCSeq, seq)}
	written := map[string]bool{
		http.CanonicalHeaderKey(headerCSeq):          true,
		http.CanonicalHeaderKey(headerContentLength): true,
	}
	for _, name := range headerOrder {
		key := http.CanonicalHeaderKey(name)
		for _, v := range header[key] {
			lines = append(lines, name+": "+v)
		}
		written[key] = true
	}

	var rest []string
	for key := range header {
		if !written[http.CanonicalHeaderKey(key)] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		for _, v := range header[key] {
			lines = append(lines, key+": "+v)
		}
	}

	if len(body) > 0 {
		lines = append(lines, fmt.Sprintf("%s: %d", headerContentLength, len(body)))
	}

	for _, line := range lines {
		err = writer.PrintfLine("%s", line)
		if err != nil {
			return fmt.Errorf("failed to write header line: %w", err)
		}
	}
	err = writer.PrintfLine("")
	if err != nil {
		return err
	}

	if len(body) > 0 {
		_, err = writer.W.Write(body)
		if err != nil {
			return fmt.Errorf("failed to write body: %w", err)
		}
		return writer.W.Flush()
	}
	return nil
}

// ParseMessage parses a single request or reply held in b.
func ParseMessage(b []byte) (Message, error) {
	msg, err := ReadMessage(bufio.NewReader(bytes.NewReader(b)))
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}
	return msg, err
}

// ReadMessage reads one message from br. Lines run up to a blank line or EOF,
// and a malformed message is consumed in full so the next call starts on the
// following message. io.EOF is returned only when no message was started.
func ReadMessage(br *bufio.Reader) (Message, error) {
	reader := textproto.NewReader(br)

	var startLine string
	for {
		line, err := reader.ReadLine()
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) != "" {
			startLine = line
			break
		}
	}

	var lines []string
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read header line: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}

	header := http.Header{}
	var headerErr error
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			headerErr = fmt.Errorf("%w: header line %q", ErrMalformedMessage, line)
			continue
		}
		header.Add(name, strings.TrimSpace(value))
	}

	var body []byte
	if raw := header.Get(headerContentLength); raw != "" {
		length, err := strconv.Atoi(raw)
		switch {
		case errors.Is(err, strconv.ErrRange), length > MaxBodySize:
			return nil, fmt.Errorf("%w: content length %s", ErrMessageTooLarge, raw)
		case err != nil || length < 0:
			return nil, fmt.Errorf("%w: content length %q", ErrMalformedMessage, raw)
		}
		body = make([]byte, length)
		_, err = io.ReadFull(br, body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read body: %v", ErrMalformedMessage, err)
		}
	}
	if headerErr != nil {
		return nil, headerErr
	}

	seq, err := validateHeader(header)
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(startLine)
	if strings.HasPrefix(startLine, "RTSP/") {
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: status line %q", ErrMalformedMessage, startLine)
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: status code %q", ErrMalformedMessage, fields[1])
		}
		return &Response{
			Version:  strings.TrimPrefix(fields[0], "RTSP/"),
			Code:     code,
			Message:  strings.Join(fields[2:], " "),
			Sequence: seq,
			Header:   header,
			Body:     body,
		}, nil
	}

	if len(fields) != 3 || !strings.HasPrefix(fields[2], "RTSP/") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedMessage, startLine)
	}
	return &Request{
		Version:  strings.TrimPrefix(fields[2], "RTSP/"),
		Url:      fields[1],
		Sequence: seq,
		Method:   Method(strings.ToUpper(fields[0])),
		Header:   header,
		Body:     body,
	}, nil
}

func validateHeader(header http.Header) (int, error) {
	raw := header.Get(headerCSeq)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing CSeq", ErrMalformedMessage)
	}
	seq, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: CSeq %q", ErrMalformedMessage, raw)
	}

	for _, name := range []string{headerSession, headerTotalFrames} {
		if raw := header.Get(name); raw != "" {
			if _, err := strconv.Atoi(raw); err != nil {
				return 0, fmt.Errorf("%w: %s %q", ErrMalformedMessage, name, raw)
			}
		}
	}
	if raw := header.Get(headerPosition); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, fmt.Errorf("%w: %s %q", ErrMalformedMessage, headerPosition, raw)
		}
	}
	return seq, nil
}

func intHeader(header http.Header, name string) (int, bool) {
	raw := header.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func floatHeader(header http.Header, name string) (float64, bool) {
	raw := header.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

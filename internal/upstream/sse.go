package upstream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseEvent is one raw server-sent event block, kept byte-exact so the gateway
// forwards exactly what the provider sent.
type sseEvent struct {
	// Raw is the full wire form of the event including its terminating blank line.
	Raw []byte
	// Data is the joined payload of the event's data: lines.
	Data []byte
}

// IsData reports whether the event carries a JSON data payload.
// Comments, keep-alive pings and bare [DONE] markers are not data events.
func (e sseEvent) IsData() bool {
	return len(e.Data) > 0 && e.Data[0] == '{'
}

// IsDone reports whether the event is the OpenAI stream terminator.
func (e sseEvent) IsDone() bool {
	return strings.TrimSpace(string(e.Data)) == "[DONE]"
}

// sseReader reads SSE events one block at a time, preserving raw bytes.
// Reading event-by-event keeps backpressure on the upstream connection: at
// most one event is buffered between the provider and the caller.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReader(r)}
}

// Next returns the next event block. A non-nil event may accompany io.EOF when
// the stream ends without a trailing blank line.
func (s *sseReader) Next() (*sseEvent, error) {
	var (
		raw       bytes.Buffer
		dataLines [][]byte
	)

	for {
		line, err := s.r.ReadBytes('\n')
		raw.Write(line)

		trimmed := trimLineEndings(line)

		if len(trimmed) == 0 && raw.Len() > len(line) {
			// Blank line terminates a non-empty event block.
			return &sseEvent{Raw: raw.Bytes(), Data: bytes.Join(dataLines, []byte("\n"))}, err
		}

		if value, ok := bytes.CutPrefix(trimmed, []byte("data:")); ok {
			dataLines = append(dataLines, bytes.TrimPrefix(value, []byte(" ")))
		}

		if err != nil {
			if raw.Len() == 0 {
				return nil, err
			}
			return &sseEvent{Raw: raw.Bytes(), Data: bytes.Join(dataLines, []byte("\n"))}, err
		}
	}
}

func trimLineEndings(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

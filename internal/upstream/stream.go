package upstream

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Flusher pushes buffered bytes to the inbound caller after each event.
type Flusher interface {
	Flush()
}

// Stream is an open, committed upstream stream. The first data event has
// already been read and judged healthy by the client, so by the time a Stream
// exists the request counts as routed: any later failure is terminal and must
// not trigger fallback.
type Stream struct {
	provider string
	model    string
	preamble []*sseEvent
	reader   *sseReader
	body     io.ReadCloser
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// Forward copies the stream to w event by event, flushing after each write so
// output reaches the caller without buffering the body. It blocks until the
// upstream finishes, the context is canceled, or a side fails; every failure
// after the first write is reported as a *StreamCommittedError.
func (s *Stream) Forward(ctx context.Context, w io.Writer, flush Flusher) error {
	defer s.Close()

	forwarded := 0

	write := func(ev *sseEvent) error {
		if _, err := w.Write(ev.Raw); err != nil {
			return &StreamCommittedError{Provider: s.provider, Events: forwarded, Err: err}
		}
		forwarded++
		if flush != nil {
			flush.Flush()
		}
		return nil
	}

	for _, ev := range s.preamble {
		if err := write(ev); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return &StreamCommittedError{Provider: s.provider, Events: forwarded, Err: err}
		}

		ev, err := s.reader.Next()
		if ev != nil {
			s.observe(ev)
			if werr := write(ev); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &StreamCommittedError{Provider: s.provider, Events: forwarded, Err: err}
		}
	}
}

// observe inspects a data event for error markers and usage totals.
// Detection here is log-only: the stream is committed, nothing can be retried.
func (s *Stream) observe(ev *sseEvent) {
	if !ev.IsData() {
		return
	}

	data := string(ev.Data)
	if gjson.Get(data, "code").Exists() || gjson.Get(data, "error").Exists() {
		s.logger.Warn().
			Str("provider", s.provider).
			Str("model", s.model).
			Str("chunk", truncate(ev.Data, 500)).
			Msg("error chunk inside committed stream")
	}

	if usage := gjson.Get(data, "usage"); usage.Exists() && usage.IsObject() {
		s.logger.Debug().
			Str("provider", s.provider).
			Str("model", s.model).
			RawJSON("usage", []byte(usage.Raw)).
			Msg("stream token usage")
	}
}

// Close tears down the upstream connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.cancel != nil {
		defer s.cancel()
	}
	return s.body.Close()
}

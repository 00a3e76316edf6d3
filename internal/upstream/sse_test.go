package upstream

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReader_SingleEvent(t *testing.T) {
	t.Parallel()

	raw := "data: {\"id\":\"1\"}\n\n"
	reader := newSSEReader(strings.NewReader(raw))

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, raw, string(ev.Raw), "raw bytes must be preserved exactly")
	assert.Equal(t, `{"id":"1"}`, string(ev.Data))
	assert.True(t, ev.IsData())
	assert.False(t, ev.IsDone())
}

func TestSSEReader_MultipleEventsInOrder(t *testing.T) {
	t.Parallel()

	raw := "data: {\"n\":1}\n\n" +
		": keep-alive\n\n" +
		"data: {\"n\":2}\n\n" +
		"data: [DONE]\n\n"
	reader := newSSEReader(strings.NewReader(raw))

	var rebuilt strings.Builder
	var events []*sseEvent
	for {
		ev, err := reader.Next()
		if ev != nil {
			events = append(events, ev)
			rebuilt.Write(ev.Raw)
		}
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}

	require.Len(t, events, 4)
	assert.Equal(t, raw, rebuilt.String(), "concatenated raw events must reproduce the wire bytes")

	assert.True(t, events[0].IsData())
	assert.False(t, events[1].IsData(), "comments are not data events")
	assert.True(t, events[2].IsData())
	assert.False(t, events[3].IsData())
	assert.True(t, events[3].IsDone())
}

func TestSSEReader_CRLFAndMultilineData(t *testing.T) {
	t.Parallel()

	raw := "event: delta\r\ndata: {\"a\":\r\ndata: 1}\r\n\r\n"
	reader := newSSEReader(strings.NewReader(raw))

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, raw, string(ev.Raw))
	assert.Equal(t, "{\"a\":\n1}", string(ev.Data), "data lines join with newline per SSE spec")
}

func TestSSEReader_DataWithoutSpaceAfterColon(t *testing.T) {
	t.Parallel()

	reader := newSSEReader(strings.NewReader("data:{\"x\":1}\n\n"))

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(ev.Data))
}

func TestSSEReader_TruncatedFinalEvent(t *testing.T) {
	t.Parallel()

	// Stream cut mid-event: the partial block comes back alongside EOF.
	reader := newSSEReader(strings.NewReader("data: {\"n\":1}\n\ndata: {\"n\":"))

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(ev.Data))

	ev, err = reader.Next()
	require.ErrorIs(t, err, io.EOF)
	require.NotNil(t, ev)
	assert.Equal(t, "data: {\"n\":", string(ev.Raw))
}

func TestSSEReader_EmptyStream(t *testing.T) {
	t.Parallel()

	reader := newSSEReader(strings.NewReader(""))

	ev, err := reader.Next()
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, io.EOF)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
		status    int
	}{
		{name: "transport", err: &TransportError{Provider: "p", Err: errors.New("refused")}, retryable: true},
		{name: "status", err: &StatusError{Provider: "p", Status: 429}, retryable: true, status: 429},
		{name: "error body", err: &BodyError{Provider: "p", Detail: "overloaded"}, retryable: true},
		{name: "stream committed", err: &StreamCommittedError{Provider: "p", Events: 7, Err: errors.New("reset")}, retryable: false},
		{name: "plain", err: errors.New("boom"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.status, StatusOf(tt.err))
		})
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	t.Parallel()

	err := &StatusError{Provider: "p", Status: 500, Body: []byte(strings.Repeat("x", 1000))}
	assert.LessOrEqual(t, len(err.Error()), 300)
}

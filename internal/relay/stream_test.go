package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	*httptest.ResponseRecorder
	flushes int
}

func (f *flushRecorder) Flush() {
	f.flushes++
}

func TestStreamReaderSkipsNonDataLines(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		": keepalive\n\ndata: {\"a\":1}\n\nevent: ping\ndata: {\"b\":2}\n\ndata: [DONE]\n\n",
	))
	reader := NewStreamReader(body)

	event, err := reader.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(event.Data))

	event, err = reader.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(event.Data))

	event, err = reader.Read()
	assert.Equal(t, io.EOF, err)
	assert.True(t, event.Done)
}

func TestStreamReaderEOFWithoutDone(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {\"a\":1}\n\n"))
	reader := NewStreamReader(body)

	_, err := reader.Read()
	require.NoError(t, err)

	event, err := reader.Read()
	assert.Equal(t, io.EOF, err)
	assert.True(t, event.Done)
}

func TestPumpSSEForwardsChunksAndCapturesUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"chunk %d\"}}]}\n\n", i)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":20,\"completion_tokens\":15}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL, 5*time.Second)
	resp, err := c.Forward(context.Background(), "POST", "/v1/chat/completions",
		[]byte(`{"stream":true}`), "sk-upstream", true)
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)

	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	usage, events, err := PumpSSE(rec, rec, resp.Stream)
	require.NoError(t, err)

	assert.Equal(t, 6, events, "five content chunks plus the usage chunk")
	assert.True(t, usage.Seen)
	assert.Equal(t, 20, usage.PromptTokens)
	assert.Equal(t, 15, usage.CompletionTokens)
	assert.Greater(t, rec.flushes, 0)

	out := rec.Body.String()
	assert.Contains(t, out, "chunk 0")
	assert.Contains(t, out, "chunk 4")
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"), "terminal marker must be passed through")
}

type brokenPipe struct {
	writes    int
	failAfter int
}

func (b *brokenPipe) Write(p []byte) (int, error) {
	if b.writes >= b.failAfter {
		return 0, errors.New("broken pipe")
	}
	b.writes++
	return len(p), nil
}

func (b *brokenPipe) Flush() {}

func TestPumpSSEClientDisconnectKeepsObservedUsage(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
			"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":3}}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n" +
			"data: [DONE]\n\n",
	))

	w := &brokenPipe{failAfter: 2}
	usage, events, err := PumpSSE(w, w, body)

	require.Error(t, err)
	assert.Equal(t, 2, events)
	assert.True(t, usage.Seen, "usage observed before the disconnect is kept")
	assert.Equal(t, 7, usage.PromptTokens)
	assert.Equal(t, 3, usage.CompletionTokens)
}

func TestPumpSSEWithoutUsage(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n",
	))

	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	usage, events, err := PumpSSE(rec, rec, body)
	require.NoError(t, err)

	assert.Equal(t, 1, events)
	assert.False(t, usage.Seen, "no usage chunk means usage stays unseen")
}

package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clipbot/pkg/bus"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsPipelineEvents(t *testing.T) {
	c := New()

	c.Observe(bus.Event{Type: bus.EventMediaReceived, Payload: map[string]string{"kind": "video"}})
	c.Observe(bus.Event{Type: bus.EventMediaReceived, Payload: map[string]string{"kind": "video"}})
	c.Observe(bus.Event{Type: bus.EventFetchStarted})
	c.Observe(bus.Event{Type: bus.EventFetchCompleted, Payload: map[string]string{"size_bytes": "2048"}})
	c.Observe(bus.Event{Type: bus.EventClipCreated})
	c.Observe(bus.Event{Type: bus.EventClipCreated})
	c.Observe(bus.Event{Type: bus.EventClipFailed})
	c.Observe(bus.Event{Type: bus.EventCallbackHandled, Payload: map[string]string{"action": "discard"}})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.mediaReceived.WithLabelValues("video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.downloads.WithLabelValues("ok")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.downloadedBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.downloadsRunning))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.clips.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.clips.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callbacks.WithLabelValues("discard")))
}

func TestObserveUnlabeledEventsUseUnknown(t *testing.T) {
	c := New()
	c.Observe(bus.Event{Type: bus.EventCallbackHandled})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callbacks.WithLabelValues("unknown")))
}

func TestRunConsumesBusEvents(t *testing.T) {
	c := New()
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, mb)
	}()

	require.Eventually(t, func() bool {
		mb.PublishEvent(ctx, bus.Event{Type: bus.EventFetchFailed})
		return testutil.ToFloat64(c.downloads.WithLabelValues("error")) >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.Observe(bus.Event{Type: bus.EventClipCreated})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `clipbot_clips_total{result="ok"} 1`))
}

func TestParseBytes(t *testing.T) {
	n, ok := parseBytes("12")
	assert.True(t, ok)
	assert.Equal(t, 12.0, n)

	_, ok = parseBytes("-1")
	assert.False(t, ok)
	_, ok = parseBytes("")
	assert.False(t, ok)
}

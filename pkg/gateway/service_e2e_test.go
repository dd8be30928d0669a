package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/config"
	"clipbot/pkg/logger"
	"clipbot/pkg/metrics"

	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundEvent
	runErr  error
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, event := range a.inbound {
		handler(ctx, event)
	}
	if a.runErr != nil {
		return a.runErr
	}

	<-ctx.Done()
	return nil
}

type recordingHandler struct {
	mu     sync.Mutex
	events []bus.InboundEvent
	seen   chan struct{}
}

func newRecordingHandler(expected int) *recordingHandler {
	return &recordingHandler{seen: make(chan struct{}, expected)}
}

func (h *recordingHandler) handle(_ context.Context, event bus.InboundEvent) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func (h *recordingHandler) wait(t *testing.T, n int) []bus.InboundEvent {
	t.Helper()

	for range n {
		select {
		case <-h.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatched events")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]bus.InboundEvent, len(h.events))
	copy(out, h.events)
	return out
}

type toggledCheck struct {
	mu  sync.Mutex
	err error
}

func (c *toggledCheck) run(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *toggledCheck) set(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func TestGatewayServiceRunDispatchesAdapterEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mb := bus.NewMessageBus()
	messages := newRecordingHandler(2)
	callbacks := newRecordingHandler(1)
	mb.RegisterHandler(bus.KindMessage, messages.handle)
	mb.RegisterHandler(bus.KindCallback, callbacks.handle)

	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundEvent{
			{Kind: bus.KindMessage, Channel: "telegram", ChatID: 100, MessageID: 1},
			{Kind: bus.KindCallback, Channel: "telegram", ChatID: 100, MessageID: 2, CallbackData: "discard"},
			{Kind: bus.KindMessage, Channel: "telegram", ChatID: 200, MessageID: 3},
		},
	}

	port := freeTCPPort(t)
	svc, err := NewService(config.GatewayConfig{Host: "127.0.0.1", Port: port}, mb, []channel.Adapter{adapter}, Options{
		Metrics: metrics.New(),
	}, logger.Discard())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	got := messages.wait(t, 2)
	for _, event := range got {
		require.NotEmpty(t, event.ID, "bus assigns request ids")
		require.False(t, event.ReceivedAt.IsZero())
	}
	cb := callbacks.wait(t, 1)
	require.Equal(t, "discard", cb[0].CallbackData)

	metricsURL := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, metricsURL, 2*time.Second))

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestGatewayServiceRunReturnsAdapterFailure(t *testing.T) {
	adapter := &scriptedAdapter{name: "telegram", runErr: errors.New("unauthorized")}

	svc, err := NewService(config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t)}, bus.NewMessageBus(), []channel.Adapter{adapter}, Options{}, logger.Discard())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		require.ErrorContains(t, err, "run telegram channel: unauthorized")
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestGatewayServiceRunFailsOnInitialCheck(t *testing.T) {
	check := &toggledCheck{err: errors.New("file is not a database")}
	svc, err := NewService(config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t)}, bus.NewMessageBus(), []channel.Adapter{&scriptedAdapter{name: "telegram"}}, Options{
		Checks: []Check{{Name: "index", Run: check.run}},
	}, logger.Discard())
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "index health check failed")
}

func TestGatewayServiceReadyzTransitionsOnCheckRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	check := &toggledCheck{}
	port := freeTCPPort(t)
	svc, err := NewService(config.GatewayConfig{Host: "127.0.0.1", Port: port}, bus.NewMessageBus(), []channel.Adapter{&scriptedAdapter{name: "telegram"}}, Options{
		Checks: []Check{{Name: "index", Run: check.run}},
	}, logger.Discard())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	check.set(fmt.Errorf("disk I/O error"))
	require.Error(t, svc.runChecks(context.Background()))
	require.Equal(t, http.StatusServiceUnavailable, waitHTTPStatus(t, readyURL, 2*time.Second))

	check.set(nil)
	require.NoError(t, svc.runChecks(context.Background()))
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

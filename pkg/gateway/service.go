package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"clipbot/pkg/bus"
	"clipbot/pkg/channel"
	"clipbot/pkg/config"
	"clipbot/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790

	checkInterval = 30 * time.Second
)

// Check probes one dependency, for example the file index database.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

type Service struct {
	cfg      config.GatewayConfig
	log      *slog.Logger
	bus      *bus.MessageBus
	metrics  *metrics.Collector
	channels []channel.Adapter
	checks   []Check

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
	checkStates   map[string]checkState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type checkState struct {
	LastOKAt time.Time `json:"-"`
	Error    string    `json:"error,omitempty"`
}

type checkStatus struct {
	LastOKAt string `json:"last_ok_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Channels      map[string]channelState `json:"channels"`
	Checks        map[string]checkStatus  `json:"checks,omitempty"`
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Metrics *metrics.Collector
	Checks  []Check
}

func NewService(cfg config.GatewayConfig, mb *bus.MessageBus, adapters []channel.Adapter, opts Options, log *slog.Logger) (*Service, error) {
	if mb == nil {
		return nil, errors.New("message bus is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		bus:           mb,
		metrics:       opts.Metrics,
		channels:      adapters,
		checks:        opts.Checks,
		channelStates: channelStates,
		checkStates:   make(map[string]checkState, len(opts.Checks)),
	}, nil
}

// Run starts the dispatch loop, the channel adapters and the status server,
// and blocks until ctx is cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.runChecks(ctx); err != nil {
		return err
	}

	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.bus.Run(groupCtx, s.log)
	})
	if s.metrics != nil {
		group.Go(func() error {
			s.metrics.Run(groupCtx, s.bus)
			return nil
		})
	}
	group.Go(func() error {
		return s.runStatusServer(groupCtx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				_ = s.runChecks(groupCtx)
			}
		}
	})

	for _, adapter := range s.channels {
		group.Go(func() error {
			err := adapter.Run(groupCtx, s.publishInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	err := group.Wait()
	s.bus.Close()
	return err
}

func (s *Service) publishInbound(ctx context.Context, event bus.InboundEvent) {
	if !s.bus.PublishInbound(ctx, event) {
		s.log.Warn("Inbound event dropped", "kind", event.Kind, "chat_id", event.ChatID)
	}
}

func (s *Service) runStatusServer(ctx context.Context) error {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start status server: %w", err)
	}
	return nil
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	checks := make(map[string]checkStatus, len(s.checkStates))
	for name, state := range s.checkStates {
		entry := checkStatus{Error: state.Error}
		if !state.LastOKAt.IsZero() {
			entry.LastOKAt = state.LastOKAt.Format(time.RFC3339)
		}
		checks[name] = entry
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
		Checks:        checks,
	}
}

// isReady requires one running channel and every check passing on its last run.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	for _, check := range s.checks {
		state, ok := s.checkStates[check.Name]
		if !ok || state.LastOKAt.IsZero() || state.Error != "" {
			return false
		}
	}

	return true
}

// runChecks runs every dependency check and returns the first failure.
func (s *Service) runChecks(ctx context.Context) error {
	var firstErr error
	for _, check := range s.checks {
		err := check.Run(ctx)

		s.mu.Lock()
		state := s.checkStates[check.Name]
		if err != nil {
			state.Error = err.Error()
		} else {
			state.Error = ""
			state.LastOKAt = time.Now().UTC()
		}
		s.checkStates[check.Name] = state
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("Health check failed", "check", check.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s health check failed: %w", check.Name, err)
			}
		}
	}
	return firstErr
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

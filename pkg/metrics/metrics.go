// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"clipbot/pkg/bus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipbot"

// Collector owns a private registry fed from bus pipeline events.
type Collector struct {
	registry *prometheus.Registry

	mediaReceived    *prometheus.CounterVec
	downloads        *prometheus.CounterVec
	downloadedBytes  prometheus.Counter
	clips            *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	downloadsRunning prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		mediaReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_received_total",
			Help:      "Inbound messages by classified kind.",
		}, []string{"kind"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished downloads by result.",
		}, []string{"result"}),
		downloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written by successful downloads.",
		}),
		clips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_total",
			Help:      "Clip extraction attempts by result.",
		}, []string{"result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Handled button callbacks by action.",
		}, []string{"action"}),
		downloadsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_progress",
			Help:      "Downloads currently streaming.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.mediaReceived,
		c.downloads,
		c.downloadedBytes,
		c.clips,
		c.callbacks,
		c.downloadsRunning,
	)

	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe updates counters for one pipeline event.
func (c *Collector) Observe(event bus.Event) {
	switch event.Type {
	case bus.EventMediaReceived:
		c.mediaReceived.WithLabelValues(label(event.Payload["kind"])).Inc()
	case bus.EventFetchStarted:
		c.downloadsRunning.Inc()
	case bus.EventFetchCompleted:
		c.downloadsRunning.Dec()
		c.downloads.WithLabelValues("ok").Inc()
		if size, ok := parseBytes(event.Payload["size_bytes"]); ok {
			c.downloadedBytes.Add(size)
		}
	case bus.EventFetchFailed:
		c.downloadsRunning.Dec()
		c.downloads.WithLabelValues("error").Inc()
	case bus.EventClipCreated:
		c.clips.WithLabelValues("ok").Inc()
	case bus.EventClipFailed:
		c.clips.WithLabelValues("error").Inc()
	case bus.EventCallbackHandled:
		c.callbacks.WithLabelValues(label(event.Payload["action"])).Inc()
	}
}

// Run consumes bus events until ctx is done or the subscription closes.
func (c *Collector) Run(ctx context.Context, mb *bus.MessageBus) {
	events, unsubscribe := mb.SubscribeEvents(ctx, 256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.Observe(event)
		}
	}
}

// Package metrics stellt die Prometheus-Metriken des Dienstes bereit.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aws-face-recognition-go/internal/integrations/rekognition"
	"aws-face-recognition-go/internal/server/sse"
)

// Metrics bündelt alle Kollektoren in einer eigenen Registry
type Metrics struct {
	registry *prometheus.Registry

	frames        *prometheus.CounterVec
	frameDuration *prometheus.HistogramVec
	apiCalls      *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New erstellt die Metriken; subscribers liefert die aktuelle Anzahl verbundener Clients
func New(subscribers func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afr_frames_total",
			Help: "Processed frames by camera and outcome",
		}, []string{"camera", "outcome"}),
		frameDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "afr_frame_duration_seconds",
			Help:    "Frame processing time including all AWS calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		}, []string{"camera"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afr_aws_calls_total",
			Help: "AWS Rekognition calls by operation and error kind",
		}, []string{"op", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afr_events_published_total",
			Help: "Published change notifications by type",
		}, []string{"type"}),
	}

	m.registry.MustRegister(m.frames, m.frameDuration, m.apiCalls, m.events)
	if subscribers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "afr_event_subscribers",
			Help: "Connected event subscribers",
		}, func() float64 { return float64(subscribers()) }))
	}
	return m
}

// ObserveFrame zählt einen Frame und seine Dauer
func (m *Metrics) ObserveFrame(camera string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.frames.WithLabelValues(camera, outcome).Inc()
	m.frameDuration.WithLabelValues(camera).Observe(elapsed.Seconds())
}

// ObserveCall zählt einen AWS-Aufruf
func (m *Metrics) ObserveCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(rekognition.KindOf(err))
	}
	m.apiCalls.WithLabelValues(op, result).Inc()
}

// ObserveEvent zählt eine veröffentlichte Benachrichtigung
func (m *Metrics) ObserveEvent(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}

// Consume zählt alle Ereignisse des Hubs, bis ctx beendet wird oder der Hub stoppt
func (m *Metrics) Consume(ctx context.Context, events sse.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.ObserveEvent(evt.Type)
		}
	}
}

// Handler liefert den HTTP-Handler für /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry liefert die zugrunde liegende Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

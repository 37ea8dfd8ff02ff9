// Package usage zählt Scans und AWS-Aufrufe pro Kalendermonat.
package usage

import (
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/db/repository"
	"aws-face-recognition-go/internal/util/timezone"
)

// Store ist der persistente Speicher der Zähler
type Store interface {
	Get(key string, out any) (bool, error)
	Put(key string, v any) error
}

// Sink übernimmt neue Zählerstände in den Anwendungszustand
type Sink interface {
	SetUsage(usage models.UsageCounters)
}

// Service verwaltet die monatlichen Nutzungszähler
type Service struct {
	mu       sync.Mutex
	store    Store
	sink     Sink
	counters models.UsageCounters
	now      func() time.Time
}

// NewService erstellt einen Service; store und sink dürfen nil sein
func NewService(store Store, sink Sink) *Service {
	return &Service{store: store, sink: sink, now: timezone.Now}
}

// Load liest die gespeicherten Zähler, wendet den Monatswechsel an und überträgt sie in den Zustand
func (s *Service) Load() models.UsageCounters {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		var stored models.UsageCounters
		found, err := s.store.Get(repository.KeyUsage, &stored)
		if err != nil {
			log.WithError(err).Warn("Failed to load usage counters, starting from zero")
		} else if found {
			s.counters = stored
		}
	}
	if s.rollover() {
		s.persist()
	}
	s.push()
	return s.counters
}

// Record erhöht die Zähler um die angegebenen Werte
func (s *Service) Record(scans, apiCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollover()
	s.counters.ScansMonth += scans
	s.counters.AWSCallsMonth += apiCalls
	s.persist()
	s.push()
}

// RecordScan zählt einen begonnenen Scan
func (s *Service) RecordScan() {
	s.Record(1, 0)
}

// ObserveCall zählt jeden ausgeführten Dienstaufruf, unabhängig vom Ergebnis
func (s *Service) ObserveCall(_ string, _ error) {
	s.Record(0, 1)
}

// Counters liefert eine Kopie der aktuellen Zähler
func (s *Service) Counters() models.UsageCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// rollover archiviert den laufenden Monat, sobald sich der Kalendermonat geändert hat
func (s *Service) rollover() bool {
	current := timezone.Month(s.now())
	if s.counters.Month == current {
		return false
	}
	if s.counters.Month != "" {
		log.Infof("Usage month changed from %s to %s", s.counters.Month, current)
	}
	s.counters = models.UsageCounters{
		Month:             current,
		LastMonthScans:    s.counters.ScansMonth,
		LastMonthAPICalls: s.counters.AWSCallsMonth,
	}
	return true
}

func (s *Service) persist() {
	if s.store == nil {
		return
	}
	if err := s.store.Put(repository.KeyUsage, s.counters); err != nil {
		log.WithError(err).Debug("Failed to persist usage counters")
	}
}

func (s *Service) push() {
	if s.sink != nil {
		s.sink.SetUsage(s.counters)
	}
}

// Report liefert die Attribute des Nutzungssensors inklusive Kostenschätzung
func Report(u models.UsageCounters, apiCost float64) map[string]any {
	current := roundTo(float64(u.AWSCallsMonth)*apiCost, 6)
	last := roundTo(float64(u.LastMonthAPICalls)*apiCost, 6)
	return map[string]any{
		"month":                  u.Month,
		"last_month_scans":       u.LastMonthScans,
		"current_month_scans":    u.ScansMonth,
		"current_month_api_call": u.AWSCallsMonth,
		"last_month_api_call":    u.LastMonthAPICalls,
		"aws_api_cost":           apiCost,
		"current_month_cost":     fmt.Sprintf("%.2f$", current),
		"last_month_cost":        fmt.Sprintf("%.2f$", last),
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

package state

import (
	"context"

	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/server/sse"
)

const (
	// DefaultIndexLimit ist die Anzahl Indexeinträge ohne explizites Limit
	DefaultIndexLimit = 20
	// MaxIndexLimit begrenzt die Anzahl ausgelieferter Indexeinträge
	MaxIndexLimit = 500
)

// Broadcaster verteilt Ereignisse an Abonnenten
type Broadcaster interface {
	Broadcast(event sse.Event)
}

// RecognitionUpdate ist die Nutzlast eines Erkennungsereignisses
type RecognitionUpdate struct {
	LastResult models.LastResult `json:"last_result"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

// Publisher ist der einzige Schreibzugang zum gemeinsamen Zustand
type Publisher struct {
	loop   *Loop
	events Broadcaster
}

// NewPublisher erstellt einen Publisher über einer laufenden Schleife
func NewPublisher(loop *Loop, events Broadcaster) *Publisher {
	return &Publisher{loop: loop, events: events}
}

// PublishUpdate übernimmt das Ergebnis eines Frames und sendet genau ein Ereignis.
// idx ist nil, wenn der Index unverändert blieb.
func (p *Publisher) PublishUpdate(last models.LastResult, idx *models.RecognitionIndex) {
	err := p.loop.Submit(func(s *AppState) {
		s.LastResult = last
		if idx != nil {
			s.Index = *idx
		}
		p.broadcast(sse.Event{
			Type: sse.EventRecognitionUpdated,
			Data: RecognitionUpdate{LastResult: s.LastResult, UpdatedAt: s.Index.UpdatedAt},
		})
	})
	if err != nil {
		log.WithError(err).Warn("Dropped recognition update")
	}
}

// PublishFacesUpdate ersetzt die Galerie-Zusammenfassung und sendet ein Ereignis
func (p *Publisher) PublishFacesUpdate(faces models.FacesIndex) {
	if faces.Persons == nil {
		faces.Persons = map[string]models.PersonSummary{}
	}
	err := p.loop.Submit(func(s *AppState) {
		s.Faces = faces
		p.broadcast(sse.Event{Type: sse.EventFacesUpdated, Data: faces})
	})
	if err != nil {
		log.WithError(err).Warn("Dropped faces update")
	}
}

// BootstrapFaces setzt die gespeicherte Galerie ohne Ereignis
func (p *Publisher) BootstrapFaces(faces models.FacesIndex) {
	if faces.Persons == nil {
		faces.Persons = map[string]models.PersonSummary{}
	}
	if err := p.loop.Submit(func(s *AppState) { s.Faces = faces }); err != nil {
		log.WithError(err).Warn("Failed to bootstrap gallery")
	}
}

// SetUsage übernimmt die Nutzungszähler ohne Ereignis
func (p *Publisher) SetUsage(usage models.UsageCounters) {
	if err := p.loop.Submit(func(s *AppState) { s.Usage = usage }); err != nil {
		log.WithError(err).Debug("Dropped usage update")
	}
}

// Bootstrap setzt Startwerte ohne Ereignis
func (p *Publisher) Bootstrap(last models.LastResult, idx models.RecognitionIndex) {
	if last.Recognized == nil {
		last.Recognized = []string{}
	}
	if last.Objects == nil {
		last.Objects = map[string]int{}
	}
	if idx.Items == nil {
		idx.Items = []models.RecognitionIndexEntry{}
	}
	if err := p.loop.Submit(func(s *AppState) {
		s.LastResult = last
		s.Index = idx
	}); err != nil {
		log.WithError(err).Warn("Failed to bootstrap state")
	}
}

// ReplaceIndex übernimmt einen bereinigten Index ohne Ereignis
func (p *Publisher) ReplaceIndex(idx models.RecognitionIndex) {
	if idx.Items == nil {
		idx.Items = []models.RecognitionIndexEntry{}
	}
	if err := p.loop.Submit(func(s *AppState) { s.Index = idx }); err != nil {
		log.WithError(err).Warn("Failed to replace index")
	}
}

func (p *Publisher) broadcast(event sse.Event) {
	if p.events != nil {
		p.events.Broadcast(event)
	}
}

// LastResult liefert das letzte Ergebnis
func (p *Publisher) LastResult(ctx context.Context) (models.LastResult, error) {
	var out models.LastResult
	err := p.loop.Read(ctx, func(s *AppState) { out = s.LastResult })
	return out, err
}

// Index liefert die neuesten limit Einträge (1..500)
func (p *Publisher) Index(ctx context.Context, limit int) (models.RecognitionIndex, error) {
	limit = ClampLimit(limit)
	var out models.RecognitionIndex
	err := p.loop.Read(ctx, func(s *AppState) {
		items := s.Index.Items
		if len(items) > limit {
			items = items[:limit]
		}
		out = models.RecognitionIndex{
			UpdatedAt: s.Index.UpdatedAt,
			Items:     append([]models.RecognitionIndexEntry{}, items...),
		}
	})
	return out, err
}

// FacesIndex liefert die Galerie-Zusammenfassung
func (p *Publisher) FacesIndex(ctx context.Context) (models.FacesIndex, error) {
	var out models.FacesIndex
	err := p.loop.Read(ctx, func(s *AppState) { out = s.Faces })
	return out, err
}

// Usage liefert die Nutzungszähler
func (p *Publisher) Usage(ctx context.Context) (models.UsageCounters, error) {
	var out models.UsageCounters
	err := p.loop.Read(ctx, func(s *AppState) { out = s.Usage })
	return out, err
}

// Snapshot liefert eine Kopie des gesamten Zustands
func (p *Publisher) Snapshot(ctx context.Context) (AppState, error) {
	var out AppState
	err := p.loop.Read(ctx, func(s *AppState) { out = *s })
	return out, err
}

// ClampLimit begrenzt ein Indexlimit auf 1..500
func ClampLimit(limit int) int {
	return max(1, min(limit, MaxIndexLimit))
}

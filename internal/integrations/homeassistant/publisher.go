package homeassistant

import (
	"context"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/core/state"
	"aws-face-recognition-go/internal/server/sse"
	"aws-face-recognition-go/internal/services/usage"
)

const (
	// DefaultResetAfter ist die Anzeigedauer des zuletzt erkannten Namens
	DefaultResetAfter = 15 * time.Second

	StateIdle          = "idle"
	StateOK            = "ok"
	StateError         = "error"
	StateUnknownPerson = "unknown person"
)

// UsageSource liefert die aktuellen Nutzungszähler
type UsageSource interface {
	Counters() models.UsageCounters
}

// Publisher veröffentlicht die Sensorzustände. Ereignisse kommen vom Hub,
// Frame-Fehler über ObserveFrame.
type Publisher struct {
	client  MessagePublisher
	topics  Topics
	usage   UsageSource
	apiCost func() float64

	resetAfter time.Duration

	mu         sync.Mutex
	generation uint64
	resetTimer *time.Timer
	transient  string
}

// NewPublisher erstellt einen neuen MQTT-Publisher für Home Assistant
func NewPublisher(client MessagePublisher, topics Topics, usageSource UsageSource, apiCost func() float64) *Publisher {
	if apiCost == nil {
		apiCost = func() float64 { return 0 }
	}
	return &Publisher{
		client:     client,
		topics:     topics,
		usage:      usageSource,
		apiCost:    apiCost,
		resetAfter: DefaultResetAfter,
		transient:  StateIdle,
	}
}

// Run verarbeitet Hub-Ereignisse, bis ctx beendet wird oder der Hub stoppt
func (p *Publisher) Run(ctx context.Context, events sse.Client) {
	defer p.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			p.HandleEvent(evt)
		}
	}
}

// HandleEvent aktualisiert die Sensoren für ein einzelnes Ereignis
func (p *Publisher) HandleEvent(evt sse.Event) {
	switch evt.Type {
	case sse.EventRecognitionUpdated:
		update, ok := evt.Data.(state.RecognitionUpdate)
		if !ok {
			log.Warnf("Unexpected payload for %s", evt.Type)
			return
		}
		p.publishRecognition(update.LastResult)
		p.publishUsage()
	case sse.EventFacesUpdated:
		faces, ok := evt.Data.(models.FacesIndex)
		if !ok {
			log.Warnf("Unexpected payload for %s", evt.Type)
			return
		}
		p.PublishFaces(faces)
	}
}

// ObserveFrame setzt den Status nach einem abgebrochenen Frame auf "error"
func (p *Publisher) ObserveFrame(camera string, _ time.Duration, err error) {
	if err == nil {
		return
	}
	p.publish(SensorStatus, StateError, map[string]any{"camera_entity": camera, "error": err.Error()})
	p.publishUsage()
}

// Bootstrap veröffentlicht die Startwerte aller Sensoren
func (p *Publisher) Bootstrap(last models.LastResult, faces models.FacesIndex) {
	status := StateIdle
	if !last.IsEmpty() {
		status = StateOK
	}
	p.publish(SensorStatus, status, nil)

	p.mu.Lock()
	p.publish(SensorLastRecognized, p.transient, lastRecognizedAttributes(last, persistentNames(last)))
	p.mu.Unlock()

	p.PublishFaces(faces)
	p.publishUsage()
}

func (p *Publisher) publishRecognition(last models.LastResult) {
	p.publish(SensorStatus, StateOK, map[string]any{"camera_entity": last.CameraEntity, "timestamp": last.Timestamp})

	p.mu.Lock()
	defer p.mu.Unlock()

	p.transient = TransientState(last)
	p.publish(SensorLastRecognized, p.transient, lastRecognizedAttributes(last, persistentNames(last)))

	// Jedes Ereignis verwirft den laufenden Timer und startet einen neuen
	if p.resetTimer != nil {
		p.resetTimer.Stop()
	}
	p.generation++
	gen := p.generation
	p.resetTimer = time.AfterFunc(p.resetAfter, func() { p.reset(gen) })
}

func (p *Publisher) reset(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return
	}
	p.transient = StateIdle
	p.resetTimer = nil
	if err := p.client.PublishRetain(p.topics.StateTopic(SensorLastRecognized), StateIdle); err != nil {
		log.WithError(err).Debug("Failed to reset last recognized sensor")
	}
}

// PublishFaces veröffentlicht die Galerie-Zusammenfassung
func (p *Publisher) PublishFaces(faces models.FacesIndex) {
	persons := faces.Persons
	if persons == nil {
		persons = map[string]models.PersonSummary{}
	}
	p.publish(SensorPersonsInCollection, len(persons), map[string]any{
		"persons":     persons,
		"updated_at":  faces.UpdatedAt,
		"total_faces": faces.TotalFaces(),
	})
}

func (p *Publisher) publishUsage() {
	if p.usage == nil {
		return
	}
	counters := p.usage.Counters()
	p.publish(SensorAWSCallsMonth, counters.AWSCallsMonth, usage.Report(counters, p.apiCost()))
}

// publish schreibt Zustand und Attribute eines Sensors (retained)
func (p *Publisher) publish(key string, value any, attributes map[string]any) {
	if err := p.client.PublishRetain(p.topics.StateTopic(key), value); err != nil {
		log.WithError(err).Debugf("Failed to publish %s state", key)
		return
	}
	if attributes == nil {
		return
	}
	if err := p.client.PublishRetain(p.topics.AttributesTopic(key), attributes); err != nil {
		log.WithError(err).Debugf("Failed to publish %s attributes", key)
	}
}

// Stop bricht einen ausstehenden Reset ab
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	if p.resetTimer != nil {
		p.resetTimer.Stop()
		p.resetTimer = nil
	}
}

// TransientState liefert den kurzzeitig angezeigten Zustand von "last_recognized"
func TransientState(last models.LastResult) string {
	names := cleanNames(last.Recognized)
	switch {
	case last.UnknownPersonFound && len(names) == 0:
		return StateUnknownPerson
	case len(names) > 0:
		return strings.Join(names, ", ")
	default:
		return StateIdle
	}
}

func persistentNames(last models.LastResult) []string {
	names := cleanNames(last.Recognized)
	if last.UnknownPersonFound && len(names) == 0 {
		return []string{StateUnknownPerson}
	}
	return names
}

func lastRecognizedAttributes(last models.LastResult, scanned []string) map[string]any {
	objects := last.Objects
	if objects == nil {
		objects = map[string]int{}
	}
	unknown := last.UnknownPersonFound
	return map[string]any{
		"last_persons_scanned": scanned,
		"timestamp":            last.Timestamp,
		"file":                 last.File,
		"image_url":            last.ImageURL,
		"latest_url":           last.LatestURL,
		"objects":              objects,
		"camera_entity":        last.CameraEntity,
		"unknown_person_found": unknown,
		"alert":                last.Alert || (unknown && len(cleanNames(last.Recognized)) == 0),
	}
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

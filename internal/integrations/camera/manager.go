package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/processor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// triggerTimeout begrenzt einen über MQTT ausgelösten Scan
const triggerTimeout = 2 * time.Minute

var (
	// ErrUnknownCamera wird für nicht konfigurierte Kameras geliefert
	ErrUnknownCamera = errors.New("unknown camera")
	// ErrNoSnapshotURL wird geliefert, wenn die Kamera keine Snapshot-URL hat
	ErrNoSnapshotURL = errors.New("camera has no snapshot url")
)

// Scanner verarbeitet ein Einzelbild einer Kamera
type Scanner interface {
	ProcessImage(ctx context.Context, camera string, raw []byte) (*processor.Result, error)
}

// Fetcher lädt ein Einzelbild
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Manager kennt die konfigurierten Kameras und löst Scans aus
type Manager struct {
	cameras map[string]config.CameraConfig
	fetcher Fetcher
	scanner Scanner
}

// NewManager erstellt einen Manager für die konfigurierten Kameras
func NewManager(cameras []config.CameraConfig, fetcher Fetcher, scanner Scanner) *Manager {
	byName := make(map[string]config.CameraConfig, len(cameras))
	for _, cam := range cameras {
		byName[cam.Name] = cam
	}
	return &Manager{cameras: byName, fetcher: fetcher, scanner: scanner}
}

// Cameras liefert die konfigurierten Kameras sortiert nach Namen
func (m *Manager) Cameras() []config.CameraConfig {
	out := make([]config.CameraConfig, 0, len(m.cameras))
	for _, cam := range m.cameras {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Scan lädt den aktuellen Snapshot einer Kamera und verarbeitet ihn
func (m *Manager) Scan(ctx context.Context, name string) (*processor.Result, error) {
	cam, ok := m.cameras[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, name)
	}
	if cam.SnapshotURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshotURL, name)
	}

	raw, err := m.fetcher.Fetch(ctx, cam.SnapshotURL)
	if err != nil {
		return nil, err
	}
	return m.scanner.ProcessImage(ctx, name, raw)
}

// Run startet einen Poller pro Kamera mit Intervall und wartet, bis ctx beendet wird
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, cam := range m.Cameras() {
		if cam.IntervalSeconds <= 0 || cam.SnapshotURL == "" {
			continue
		}
		wg.Add(1)
		go func(cam config.CameraConfig) {
			defer wg.Done()
			m.poll(ctx, cam)
		}(cam)
	}
	wg.Wait()
}

func (m *Manager) poll(ctx context.Context, cam config.CameraConfig) {
	interval := time.Duration(cam.IntervalSeconds) * time.Second
	logger := log.WithField("camera", cam.Name)
	logger.Infof("Polling snapshots every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Scan(ctx, cam.Name); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("Scheduled scan failed")
			}
		}
	}
}

// HandleMessage verarbeitet eine Nachricht des Auslöse-Topics
func (m *Manager) HandleMessage(topic string, payload []byte) {
	name, ok := ParseTrigger(payload)
	if !ok {
		log.Debugf("Ignoring trigger message on %s", topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()
	if _, err := m.Scan(ctx, name); err != nil {
		log.WithField("camera", name).WithError(err).Warn("Triggered scan failed")
	}
}

// triggerMessage deckt einfache JSON-Auslöser und Frigate-Ereignisse ab
type triggerMessage struct {
	Camera   string `json:"camera"`
	EntityID string `json:"entity_id"`
	Type     string `json:"type"`
	After    *struct {
		Label string `json:"label"`
	} `json:"after,omitempty"`
}

// ParseTrigger liest den Kameranamen aus einer Auslöse-Nachricht. Erlaubt sind ein
// reiner Name, {"camera": ...}, {"entity_id": ...} oder ein Frigate-Ereignis mit Label "person".
func ParseTrigger(payload []byte) (string, bool) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return "", false
	}
	if !strings.HasPrefix(text, "{") {
		return text, true
	}

	var msg triggerMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		log.Errorf("Failed to parse trigger message: %v", err)
		return "", false
	}
	if msg.After != nil && msg.After.Label != "person" {
		return "", false
	}
	if msg.Type == "end" {
		return "", false
	}
	name := strings.TrimSpace(msg.Camera)
	if name == "" {
		name = strings.TrimSpace(msg.EntityID)
	}
	return name, name != ""
}

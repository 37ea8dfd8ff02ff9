// Package gallery hält die Zusammenfassung der registrierten Gesichter aktuell
// und kapselt die Verwaltung der Collection.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"aws-face-recognition-go/internal/core/index"
	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/db/repository"
	"aws-face-recognition-go/internal/integrations/rekognition"
)

// ErrInvalidName wird bei leeren oder ungültigen Namen geliefert
var ErrInvalidName = errors.New("invalid person name")

// ErrNotFound wird geliefert, wenn keine passenden Gesichter existieren
var ErrNotFound = errors.New("no matching faces")

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_.\-:]`)

// Collection ist der Ausschnitt des Rekognition-Clients, den die Galerie braucht
type Collection interface {
	ListAllFaces(ctx context.Context) ([]models.EnrolledFace, error)
	EnrollFace(ctx context.Context, img []byte, name string) (string, error)
	DeleteFaces(ctx context.Context, faceIDs []string) (int, error)
}

// Store ist der persistente Speicher der Galerie
type Store interface {
	Get(key string, out any) (bool, error)
	Put(key string, v any) error
}

// Publisher übernimmt die Galerie in den Anwendungszustand
type Publisher interface {
	PublishFacesUpdate(faces models.FacesIndex)
	BootstrapFaces(faces models.FacesIndex)
}

// Service verwaltet die Galerie
type Service struct {
	collection Collection
	store      Store
	publisher  Publisher

	// refreshMu serialisiert Änderungen an der Collection mit der anschließenden Aktualisierung
	refreshMu sync.Mutex
	now       func() time.Time
}

// NewService erstellt einen Galerie-Service; store darf nil sein
func NewService(collection Collection, store Store, publisher Publisher) *Service {
	return &Service{collection: collection, store: store, publisher: publisher, now: time.Now}
}

// Load überträgt die gespeicherte Galerie ohne Benachrichtigung in den Zustand
func (s *Service) Load() models.FacesIndex {
	faces := models.FacesIndex{Persons: map[string]models.PersonSummary{}}
	if s.store != nil {
		if _, err := s.store.Get(repository.KeyGallery, &faces); err != nil {
			log.WithError(err).Warn("Failed to load gallery, starting empty")
			faces = models.FacesIndex{}
		}
	}
	if faces.Persons == nil {
		faces.Persons = map[string]models.PersonSummary{}
	}
	s.publisher.BootstrapFaces(faces)
	return faces
}

// Refresh liest die komplette Collection und ersetzt die Galerie.
// Schlägt das Auflisten fehl, bleibt die bisherige Galerie unverändert.
func (s *Service) Refresh(ctx context.Context) (models.FacesIndex, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.refresh(ctx)
}

func (s *Service) refresh(ctx context.Context) (models.FacesIndex, error) {
	faces, err := s.collection.ListAllFaces(ctx)
	if err != nil {
		log.WithError(err).Warn("Gallery refresh failed")
		return models.FacesIndex{}, fmt.Errorf("gallery refresh failed: %w", err)
	}

	summary := Summarize(faces, s.now())
	if s.store != nil {
		if err := s.store.Put(repository.KeyGallery, summary); err != nil {
			log.WithError(err).Debug("Failed to persist gallery")
		}
	}
	s.publisher.PublishFacesUpdate(summary)
	log.WithFields(log.Fields{"persons": len(summary.Persons), "faces": len(faces)}).Info("Gallery refreshed")
	return summary, nil
}

// Summarize fasst die Gesichter pro Name zusammen
func Summarize(faces []models.EnrolledFace, at time.Time) models.FacesIndex {
	persons := make(map[string]models.PersonSummary)
	for name, count := range rekognition.CountByName(faces) {
		persons[name] = models.PersonSummary{Count: count}
	}
	return models.FacesIndex{UpdatedAt: index.Timestamp(at), Persons: persons}
}

// Enroll registriert ein Gesicht unter dem bereinigten Namen
func (s *Service) Enroll(ctx context.Context, img []byte, name string) (string, string, error) {
	clean, err := NormalizeName(name)
	if err != nil {
		return "", "", err
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	faceID, err := s.collection.EnrollFace(ctx, img, clean)
	if err != nil {
		return "", clean, fmt.Errorf("failed to enroll %s: %w", clean, err)
	}
	log.WithFields(log.Fields{"name": clean, "face_id": faceID}).Info("Face enrolled")
	s.refreshAfterChange(ctx)
	return faceID, clean, nil
}

// DeleteByID löscht ein einzelnes Gesicht
func (s *Service) DeleteByID(ctx context.Context, faceID string) (int, error) {
	faceID = strings.TrimSpace(faceID)
	if faceID == "" {
		return 0, ErrNotFound
	}
	return s.delete(ctx, func([]models.EnrolledFace) []string { return []string{faceID} }, false)
}

// DeleteByName löscht alle Gesichter einer Person
func (s *Service) DeleteByName(ctx context.Context, name string) (int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrInvalidName
	}
	return s.delete(ctx, func(faces []models.EnrolledFace) []string {
		return rekognition.FaceIDsByName(faces, name)
	}, true)
}

// DeleteAll leert die Collection
func (s *Service) DeleteAll(ctx context.Context) (int, error) {
	return s.delete(ctx, func(faces []models.EnrolledFace) []string {
		ids := make([]string, 0, len(faces))
		for _, f := range faces {
			ids = append(ids, f.FaceID)
		}
		return ids
	}, true)
}

func (s *Service) delete(ctx context.Context, selectIDs func([]models.EnrolledFace) []string, needsListing bool) (int, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	var faces []models.EnrolledFace
	if needsListing {
		var err error
		faces, err = s.collection.ListAllFaces(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list faces: %w", err)
		}
	}
	ids := selectIDs(faces)
	if len(ids) == 0 {
		return 0, ErrNotFound
	}

	deleted, err := s.collection.DeleteFaces(ctx, ids)
	if deleted > 0 {
		log.Infof("Deleted %d face(s) from collection", deleted)
	}
	s.refreshAfterChange(ctx)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete faces: %w", err)
	}
	return deleted, nil
}

func (s *Service) refreshAfterChange(ctx context.Context) {
	if _, err := s.refresh(ctx); err != nil {
		log.WithError(err).Debug("Gallery refresh after change failed")
	}
}

// Run aktualisiert die Galerie periodisch, bis ctx beendet wird
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Refresh(ctx)
		}
	}
}

// NormalizeName bereinigt einen Personennamen für die Collection:
// Leerzeichen werden zusammengefasst, Wörter großgeschrieben und mit "_" verbunden.
func NormalizeName(name string) (string, error) {
	words := strings.Fields(name)
	if len(words) == 0 {
		return "", ErrInvalidName
	}
	titled := cases.Title(language.Und).String(strings.Join(words, " "))
	clean := invalidNameChars.ReplaceAllString(strings.ReplaceAll(titled, " ", "_"), "")
	if clean == "" {
		return "", ErrInvalidName
	}
	return clean, nil
}

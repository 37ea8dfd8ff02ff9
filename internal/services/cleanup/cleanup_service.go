package cleanup

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/index"
	"aws-face-recognition-go/internal/core/models"
)

// IndexSink übernimmt einen bereinigten Index
type IndexSink interface {
	ReplaceIndex(idx models.RecognitionIndex)
}

// Result fasst einen Bereinigungslauf zusammen
type Result struct {
	RemovedFiles int
	PrunedItems  int
}

// CleanupService setzt die Aufbewahrung gespeicherter Bilder und des Index durch
type CleanupService struct {
	options       func() config.ProcessingConfig
	sink          IndexSink
	checkInterval time.Duration
}

// NewCleanupService erstellt einen neuen Cleanup-Service. options liefert die aktuellen Verarbeitungsoptionen.
func NewCleanupService(options func() config.ProcessingConfig, sink IndexSink, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupService{
		options:       options,
		sink:          sink,
		checkInterval: interval,
	}
}

// Start startet den Bereinigungsdienst und blockiert bis ctx beendet wird
func (s *CleanupService) Start(ctx context.Context) {
	log.Infof("Cleanup service started (interval %s)", s.checkInterval)

	// Sofort eine erste Bereinigung durchführen
	if _, err := s.RunCleanup(); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunCleanup(); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup löscht überzählige Bilder und entfernt Indexeinträge ohne Datei.
// Der Index wird nur neu geschrieben, wenn sich etwas geändert hat.
func (s *CleanupService) RunCleanup() (Result, error) {
	cfg := s.options()
	dir := cfg.SaveFileFolder
	if dir == "" {
		return Result{}, nil
	}
	keep := max(1, cfg.MaxSavedFiles)

	var res Result
	res.RemovedFiles = index.CleanupOldFiles(dir, keep, index.FilePrefix, index.FixedFiles()...)

	path := index.Path(dir)
	current := index.Load(path)
	existing := index.ExistingFiles(dir, index.FilePrefix, index.FixedFiles()...)

	stale := 0
	for _, it := range current.Items {
		if !existing[it.File] {
			stale++
		}
	}
	overflow := max(0, len(current.Items)-stale-keep)
	if stale == 0 && overflow == 0 {
		return res, nil
	}

	idx, err := index.UpsertAndSave(path, models.RecognitionIndexEntry{}, keep, existing)
	if err != nil {
		return res, fmt.Errorf("failed to rewrite recognition index: %w", err)
	}
	res.PrunedItems = len(current.Items) - len(idx.Items)
	if s.sink != nil {
		s.sink.ReplaceIndex(idx)
	}
	log.Infof("Cleanup completed: removed %d files, pruned %d index entries", res.RemovedFiles, res.PrunedItems)
	return res, nil
}

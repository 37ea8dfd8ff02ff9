package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/core/models"
)

const (
	// FileName ist der Name der Indexdatei im Speicherordner
	FileName = "recognition_index.json"
	// FilePrefix ist das Präfix aller gespeicherten Erkennungsbilder
	FilePrefix = "recognition_"
	// LatestFile wird bei jedem Frame überschrieben und nie aufgeräumt
	LatestFile = "recognition_latest.jpg"

	timestampLayout = "2006-01-02T15:04:05Z"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// nowFunc ist in Tests austauschbar
var nowFunc = time.Now

// pathLocks serialisiert Schreibzugriffe auf dieselbe Indexdatei innerhalb des Prozesses
var pathLocks sync.Map

// FixedFiles liefert die Dateinamen, die von der Bereinigung ausgenommen sind
func FixedFiles() []string {
	return []string{LatestFile, "recognition.jpg", "recognition.png"}
}

// Timestamp formatiert einen Zeitpunkt im Indexformat (UTC, Sekundengenauigkeit)
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Empty liefert einen leeren Index mit aktuellem Zeitstempel
func Empty() models.RecognitionIndex {
	return models.RecognitionIndex{
		UpdatedAt: Timestamp(nowFunc()),
		Items:     []models.RecognitionIndexEntry{},
	}
}

// Path liefert den Pfad der Indexdatei in einem Speicherordner
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load liest den Index. Eine fehlende oder beschädigte Datei ergibt einen leeren Index.
func Load(path string) models.RecognitionIndex {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Failed to read recognition index %s", path)
		}
		return Empty()
	}

	var idx models.RecognitionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		log.WithError(err).Warnf("Recognition index %s is malformed, starting with an empty index", path)
		return Empty()
	}
	if idx.UpdatedAt == "" {
		idx.UpdatedAt = Timestamp(nowFunc())
	}
	if idx.Items == nil {
		idx.Items = []models.RecognitionIndexEntry{}
	}
	return idx
}

// UpsertAndSave fügt einen Eintrag hinzu bzw. ersetzt den Eintrag derselben Datei,
// entfernt Einträge ohne Datei auf der Platte, sortiert absteigend nach (Zeitstempel, Datei),
// kürzt auf keep Einträge und schreibt den Index atomar.
func UpsertAndSave(path string, entry models.RecognitionIndexEntry, keep int, existing map[string]bool) (models.RecognitionIndex, error) {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	keep = max(1, keep)
	current := Load(path)

	byFile := make(map[string]models.RecognitionIndexEntry, len(current.Items)+1)
	for _, it := range current.Items {
		if it.File == "" {
			continue
		}
		byFile[it.File] = it
	}
	if entry.File != "" {
		byFile[entry.File] = entry
	}

	items := make([]models.RecognitionIndexEntry, 0, len(byFile))
	for file, it := range byFile {
		if !existing[file] {
			continue
		}
		items = append(items, it)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp > items[j].Timestamp
		}
		return items[i].File > items[j].File
	})
	if len(items) > keep {
		items = items[:keep]
	}

	idx := models.RecognitionIndex{
		UpdatedAt: Timestamp(nowFunc()),
		Items:     items,
	}
	if err := WriteAtomic(path, idx); err != nil {
		return idx, err
	}
	return idx, nil
}

// WriteAtomic schreibt den Index in eine temporäre Nachbardatei und benennt sie anschließend um
func WriteAtomic(path string, idx models.RecognitionIndex) error {
	if idx.Items == nil {
		idx.Items = []models.RecognitionIndexEntry{}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode recognition index: %w", err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic schreibt data über eine temporäre Nachbardatei (fsync, rename).
// Leser sehen entweder den alten oder den neuen Inhalt, nie eine halbe Datei.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Nach erfolgreichem Rename existiert die Datei nicht mehr
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		log.WithError(err).Debug("Failed to set file permissions")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ExistingFiles liefert alle Bilddateien mit Präfix im Ordner, ohne die ausgeschlossenen Namen
func ExistingFiles(dir, prefix string, exclude ...string) map[string]bool {
	files := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Debugf("Failed to list directory %s", dir)
		return files
	}
	skip := toSet(exclude)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || skip[name] || !isImageFile(name) {
			continue
		}
		files[name] = true
	}
	return files
}

// CleanupOldFiles löscht Dateien mit Präfix, die über die neuesten keep (nach Änderungszeit) hinausgehen.
// Fehler beim Löschen einzelner Dateien werden ignoriert. Liefert die Anzahl gelöschter Dateien.
func CleanupOldFiles(dir string, keep int, prefix string, exclude ...string) int {
	keep = max(1, keep)
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Debugf("Cleanup skipped, cannot list %s", dir)
		return 0
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	skip := toSet(exclude)
	var files []candidate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || skip[name] || !isImageFile(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: name, modTime: info.ModTime()})
	}
	if len(files) <= keep {
		return 0
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].name > files[j].name
	})

	removed := 0
	for _, f := range files[keep:] {
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil {
			log.WithError(err).Debugf("Failed to remove old snapshot %s", f.name)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Debugf("Removed %d old snapshots from %s", removed, dir)
	}
	return removed
}

func lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	mu, _ := pathLocks.LoadOrStore(abs, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

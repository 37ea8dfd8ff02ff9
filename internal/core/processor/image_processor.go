package processor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/annotate"
	"aws-face-recognition-go/internal/core/geometry"
	"aws-face-recognition-go/internal/core/index"
	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/integrations/rekognition"
	"aws-face-recognition-go/internal/util/timezone"
)

// FaceService sind die Dienstaufrufe, die ein Frame benötigt
type FaceService interface {
	HasCollection() bool
	DetectLabels(ctx context.Context, img []byte) ([]models.DetectedObject, []models.SceneLabel, error)
	DetectFaces(ctx context.Context, img []byte) ([]geometry.BoundingBox, error)
	SearchFace(ctx context.Context, crop []byte, threshold float64) (*rekognition.FaceMatch, error)
}

// Archiver sichert gespeicherte Bilder zusätzlich extern
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) error
}

// Mark ist eine gezeichnete Markierung im gespeicherten Bild
type Mark struct {
	Box   geometry.BoundingBox
	Text  string
	Color color.RGBA
}

// Frame enthält die Zwischenergebnisse eines verarbeiteten Bildes
type Frame struct {
	Width        int
	Height       int
	Objects      []models.DetectedObject
	Labels       []models.SceneLabel
	Targets      []models.DetectedObject
	PersonFound  bool
	Faces        []models.DetectedFace
	Associations []models.PersonAssociation
	Unmatched    []models.DetectedObject
	Marks        []Mark
	SavedFile    string
}

// Result ist das Ergebnis eines Frames für die Veröffentlichung
type Result struct {
	LastResult models.LastResult
	// Index ist nil, wenn der Index nicht verändert wurde
	Index *models.RecognitionIndex
	Frame *Frame
}

// ImageProcessor führt die Erkennungspipeline für einzelne Kamerabilder aus
type ImageProcessor struct {
	faces       FaceService
	annotator   *annotate.Annotator
	archiver    Archiver
	snapshotURL string
	opts        atomic.Pointer[options]
	now         func() time.Time
}

// NewImageProcessor erstellt einen neuen Bildverarbeitungsprozessor
func NewImageProcessor(faces FaceService, annotator *annotate.Annotator, cfg config.ProcessingConfig, snapshotURL string) *ImageProcessor {
	if annotator == nil {
		annotator = annotate.New()
	}
	p := &ImageProcessor{
		faces:       faces,
		annotator:   annotator,
		snapshotURL: strings.TrimRight(snapshotURL, "/"),
		now:         time.Now,
	}
	p.opts.Store(newOptions(cfg))
	return p
}

// SetArchiver aktiviert die externe Sicherung gespeicherter Bilder
func (p *ImageProcessor) SetArchiver(a Archiver) {
	p.archiver = a
}

// UpdateOptions ersetzt den Optionssatz. Laufende Frames verwenden weiter ihren alten Satz.
func (p *ImageProcessor) UpdateOptions(cfg config.ProcessingConfig) {
	p.opts.Store(newOptions(cfg))
	log.WithField("font_level", cfg.LabelFontLevel).Info("Processing options updated")
}

// Options liefert den aktuellen Optionssatz
func (p *ImageProcessor) Options() config.ProcessingConfig {
	return p.opts.Load().cfg
}

// SnapshotURL liefert die URL-Basis der gespeicherten Bilder
func (p *ImageProcessor) SnapshotURL() string {
	return p.snapshotURL
}

// Process verarbeitet ein Kamerabild. Fehler beim Dekodieren oder bei der Objekterkennung
// brechen den Frame ab; es wird dann nichts gespeichert.
func (p *ImageProcessor) Process(ctx context.Context, camera string, raw []byte) (*Result, error) {
	opts := p.opts.Load()
	logger := log.WithField("camera", camera)

	// 1. Dekodieren und ROI
	src, format, err := decodeImage(raw)
	if err != nil {
		logger.WithError(err).Error("Frame aborted")
		return nil, err
	}
	work := cropToROI(src, opts.roi())

	// 2. Skalieren
	if opts.cfg.Scale < 1 {
		work = scaleImage(work, opts.cfg.Scale)
	}
	upstream, err := p.upstreamBytes(raw, format, src, work)
	if err != nil {
		logger.WithError(err).Error("Frame aborted, cannot encode image for detection")
		return nil, err
	}

	frame := &Frame{Width: work.Bounds().Dx(), Height: work.Bounds().Dy()}

	// 3. Objekterkennung
	frame.Objects, frame.Labels, err = p.faces.DetectLabels(ctx, upstream)
	if err != nil {
		logger.WithError(err).Error("Frame aborted, label detection failed")
		return nil, fmt.Errorf("label detection failed: %w", err)
	}

	// 4. Ziele filtern
	frame.Targets = filterTargets(frame.Objects, opts)
	people := persons(frame.Targets)
	frame.PersonFound = len(people) > 0

	// 5./6. Gesichter nur bei erkannter Person
	if frame.PersonFound {
		frame.Faces = p.recognizeFaces(ctx, logger, upstream, work)
	}

	// 7. Zuordnung Person -> Gesicht
	frame.Associations, frame.Unmatched = associate(people, frame.Faces)

	recognized := recognizedNames(frame.Faces)
	unknownFaces := 0
	for _, f := range frame.Faces {
		if !f.Identified() {
			unknownFaces++
		}
	}
	unknownPersonFound := len(frame.Unmatched) > 0 || unknownFaces > 0
	alert := len(frame.Unmatched) > 0 && len(recognized) == 0
	objects := objectSummary(frame.Targets, recognized, opts)

	// 8./9. Markieren und speichern
	output := image.Image(work)
	if opts.cfg.ShowBoxes {
		output, frame.Marks = p.annotate(work, frame, opts)
	}
	now := p.now()
	frame.SavedFile = p.save(ctx, logger, output, now, opts)

	// 10./11. Index und Ergebnis
	ts := index.Timestamp(now)
	result := &Result{Frame: frame}
	if frame.SavedFile != "" && opts.cfg.SaveTimestampedFile {
		dir := opts.cfg.SaveFileFolder
		existing := index.ExistingFiles(dir, index.FilePrefix, index.FixedFiles()...)
		existing[frame.SavedFile] = true
		idx, err := index.UpsertAndSave(index.Path(dir), models.RecognitionIndexEntry{
			File:               frame.SavedFile,
			Timestamp:          ts,
			Recognized:         recognized,
			UnknownPersonFound: unknownPersonFound,
			Objects:            objects,
		}, opts.cfg.MaxSavedFiles, existing)
		if err != nil {
			logger.WithError(err).Error("Failed to update recognition index")
		} else {
			result.Index = &idx
		}
	}

	result.LastResult = models.LastResult{
		ID:                 uuid.NewString(),
		Timestamp:          ts,
		Recognized:         recognized,
		UnknownPersonFound: unknownPersonFound,
		Alert:              alert,
		File:               frame.SavedFile,
		Objects:            objects,
		CameraEntity:       camera,
		FontLevel:          opts.cfg.LabelFontLevel,
		FontScale:          opts.fontScale,
	}
	if frame.SavedFile != "" {
		result.LastResult.ID = strings.TrimSuffix(frame.SavedFile, filepath.Ext(frame.SavedFile))
		result.LastResult.ImageURL = p.snapshotURL + "/" + frame.SavedFile
	}
	if opts.cfg.AlwaysSaveLatestFile {
		result.LastResult.LatestURL = p.snapshotURL + "/" + index.LatestFile
	}

	logger.WithFields(log.Fields{
		"recognized":    recognized,
		"unknown":       unknownPersonFound,
		"alert":         alert,
		"faces":         len(frame.Faces),
		"targets":       len(frame.Targets),
		"file":          frame.SavedFile,
		"index_updated": result.Index != nil,
	}).Info("Frame processed")
	return result, nil
}

// upstreamBytes liefert die Bilddaten für die Dienstaufrufe. Unveränderte JPEG/PNG-Bilder
// werden direkt weitergegeben, alles andere wird als JPEG kodiert.
func (p *ImageProcessor) upstreamBytes(raw []byte, format string, src image.Image, work *image.RGBA) ([]byte, error) {
	unchanged := work.Bounds().Dx() == src.Bounds().Dx() && work.Bounds().Dy() == src.Bounds().Dy()
	if unchanged && (format == "jpeg" || format == "png") {
		return raw, nil
	}
	return encodeJPEG(work, upstreamJPEGQuality)
}

// recognizeFaces erkennt Gesichter und sucht sie in der Galerie. Fehler einzelner Aufrufe
// führen nur dazu, dass Gesichter fehlen oder unbekannt bleiben.
func (p *ImageProcessor) recognizeFaces(ctx context.Context, logger *log.Entry, upstream []byte, work *image.RGBA) []models.DetectedFace {
	boxes, err := p.faces.DetectFaces(ctx, upstream)
	if err != nil {
		logger.WithError(err).Warn("Face detection failed, continuing without faces")
		return nil
	}

	faces := make([]models.DetectedFace, 0, len(boxes))
	for _, box := range boxes {
		face := models.DetectedFace{BoundingBox: box, Name: models.UnknownName}
		if p.faces.HasCollection() {
			if match := p.searchFace(ctx, logger, work, box); match != nil {
				face.Name = match.Name
				face.Confidence = match.Similarity
			}
		}
		faces = append(faces, face)
	}
	return faces
}

func (p *ImageProcessor) searchFace(ctx context.Context, logger *log.Entry, work *image.RGBA, box geometry.BoundingBox) *rekognition.FaceMatch {
	crop, err := encodeJPEG(cropFace(work, box), upstreamJPEGQuality)
	if err != nil {
		logger.WithError(err).Warn("Failed to encode face crop")
		return nil
	}
	match, err := p.faces.SearchFace(ctx, crop, rekognition.DefaultMatchThreshold)
	if err != nil {
		logger.WithError(err).Warn("Face search failed, treating face as unknown")
		return nil
	}
	return match
}

// annotate zeichnet erkannte Gesichter gelb und Personen ohne erkanntes Gesicht rot
func (p *ImageProcessor) annotate(work *image.RGBA, frame *Frame, opts *options) (image.Image, []Mark) {
	var marks []Mark
	for _, f := range frame.Faces {
		if f.Identified() {
			marks = append(marks, Mark{Box: f.BoundingBox, Text: f.Name, Color: annotate.Yellow})
		}
	}
	for _, person := range redBoxCandidates(frame.Unmatched, opts) {
		marks = append(marks, Mark{Box: person.BoundingBox, Text: personLabel, Color: annotate.Red})
	}

	style := opts.style()
	var out image.Image = work
	for _, m := range marks {
		out = p.annotator.Draw(out, m.Box, m.Text, m.Color, style)
	}
	return out, marks
}

// save schreibt das Bild und optional die Latest-Datei. Fehler liefern einen leeren Dateinamen.
func (p *ImageProcessor) save(ctx context.Context, logger *log.Entry, img image.Image, now time.Time, opts *options) string {
	dir := opts.cfg.SaveFileFolder
	ext := opts.cfg.SaveFileFormat

	filename := "recognition." + ext
	if opts.cfg.SaveTimestampedFile {
		filename = index.FilePrefix + timezone.FileStamp(now) + "." + ext
	}

	data, err := encodeAs(img, ext)
	if err != nil {
		logger.WithError(err).Error("Failed to encode snapshot")
		return ""
	}
	if err := index.WriteFileAtomic(filepath.Join(dir, filename), data); err != nil {
		logger.WithError(err).Error("Failed to save snapshot")
		return ""
	}

	if opts.cfg.AlwaysSaveLatestFile {
		latest := data
		if ext != "jpg" {
			latest, err = encodeJPEG(img, savedJPEGQuality)
		}
		if err == nil {
			err = index.WriteFileAtomic(filepath.Join(dir, index.LatestFile), latest)
		}
		if err != nil {
			logger.WithError(err).Warn("Failed to write latest snapshot")
		}
	}

	index.CleanupOldFiles(dir, opts.cfg.MaxSavedFiles, index.FilePrefix, index.FixedFiles()...)

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, filename, data); err != nil {
			logger.WithError(err).Warn("Failed to archive snapshot")
		}
	}
	return filename
}

// Bootstrap lädt den Index eines Speicherordners und rekonstruiert das letzte Ergebnis
// aus dem neuesten Eintrag.
func Bootstrap(cfg config.ProcessingConfig, snapshotURL string) (models.RecognitionIndex, models.LastResult) {
	idx := index.Load(index.Path(cfg.SaveFileFolder))
	base := strings.TrimRight(snapshotURL, "/")

	var latest *models.RecognitionIndexEntry
	for i := range idx.Items {
		it := &idx.Items[i]
		if it.File == "" {
			continue
		}
		if latest == nil || it.Timestamp > latest.Timestamp ||
			(it.Timestamp == latest.Timestamp && it.File > latest.File) {
			latest = it
		}
	}
	if latest == nil {
		return idx, models.LastResult{}
	}

	last := models.LastResult{
		ID:                 strings.TrimSuffix(latest.File, filepath.Ext(latest.File)),
		Timestamp:          latest.Timestamp,
		Recognized:         latest.Recognized,
		UnknownPersonFound: latest.UnknownPersonFound,
		Alert:              latest.UnknownPersonFound && len(latest.Recognized) == 0,
		File:               latest.File,
		ImageURL:           base + "/" + latest.File,
		Objects:            latest.Objects,
	}
	if last.Recognized == nil {
		last.Recognized = []string{}
	}
	if last.Objects == nil {
		last.Objects = map[string]int{}
	}
	if cfg.AlwaysSaveLatestFile {
		last.LatestURL = base + "/" + index.LatestFile
	}
	return idx, last
}

package processor

import (
	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/annotate"
	"aws-face-recognition-go/internal/core/geometry"
)

const (
	personLabel = "person"

	// facePadding vergrößert jede Gesichtsbox vor dem Zuschnitt
	facePadding = 0.15
	// minFaceSide ist die Mindestkantenlänge eines Gesichtsausschnitts für die Suche
	minFaceSide = 160

	upstreamJPEGQuality = 90
	savedJPEGQuality    = 85
)

// options ist der aufbereitete Optionssatz eines Frames. Er wird nach dem Erstellen nicht verändert.
type options struct {
	cfg            config.ProcessingConfig
	excludedLabels map[string]bool
	excludeTargets map[string]bool
	fontScale      float64
}

func newOptions(cfg config.ProcessingConfig) *options {
	cfg.Normalize()
	if cfg.SaveFileFormat != "png" {
		cfg.SaveFileFormat = "jpg"
	}
	if cfg.Scale <= 0 || cfg.Scale > 1 {
		cfg.Scale = 1
	}
	if cfg.MaxSavedFiles < 1 {
		cfg.MaxSavedFiles = 1
	}
	if cfg.MaxRedBoxes < 0 {
		cfg.MaxRedBoxes = 0
	}

	return &options{
		cfg:            cfg,
		excludedLabels: toSet(cfg.ExcludedObjectLabels),
		excludeTargets: toSet(cfg.ExcludeTargets),
		fontScale:      annotate.FontLevelToScale(cfg.LabelFontLevel),
	}
}

// threshold liefert die Mindestkonfidenz für ein Label
func (o *options) threshold(label string) float64 {
	if t, ok := o.cfg.TargetsConfidence[label]; ok {
		return t
	}
	return o.cfg.DefaultMinConfidence
}

func (o *options) roi() geometry.BoundingBox {
	return geometry.BoundingBox{
		XMin: o.cfg.ROIXMin,
		YMin: o.cfg.ROIYMin,
		XMax: o.cfg.ROIXMax,
		YMax: o.cfg.ROIYMax,
	}.Clamp()
}

func (o *options) style() annotate.Style {
	s := annotate.DefaultStyle(o.cfg.LabelFontLevel)
	s.FontScale = o.fontScale
	return s
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

package processor

import (
	"sort"
	"strings"

	"aws-face-recognition-go/internal/core/models"
)

// filterTargets behält Objekte, die nicht ausgeschlossen sind und ihre Schwelle erreichen (inklusive)
func filterTargets(objects []models.DetectedObject, opts *options) []models.DetectedObject {
	targets := make([]models.DetectedObject, 0, len(objects))
	for _, obj := range objects {
		name := strings.ToLower(strings.TrimSpace(obj.Name))
		if name == "" || opts.excludeTargets[name] {
			continue
		}
		if obj.Confidence >= opts.threshold(name) {
			obj.Name = name
			targets = append(targets, obj)
		}
	}
	return targets
}

func persons(targets []models.DetectedObject) []models.DetectedObject {
	var out []models.DetectedObject
	for _, t := range targets {
		if t.Name == personLabel {
			out = append(out, t)
		}
	}
	return out
}

// associate ordnet jeder Person das identifizierte Gesicht mit der höchsten Ähnlichkeit zu,
// dessen Mittelpunkt in der Personenbox liegt. Ein Gesicht kann mehreren Personen zugeordnet werden.
// Personen ohne identifiziertes Gesicht werden zusätzlich getrennt geliefert.
func associate(people []models.DetectedObject, faces []models.DetectedFace) ([]models.PersonAssociation, []models.DetectedObject) {
	associations := make([]models.PersonAssociation, 0, len(people))
	var unmatched []models.DetectedObject

	for _, p := range people {
		var best *models.DetectedFace
		for i := range faces {
			f := &faces[i]
			if !f.Identified() || !p.BoundingBox.Contains(f.BoundingBox.Center()) {
				continue
			}
			if best == nil || f.Confidence > best.Confidence {
				best = f
			}
		}

		assoc := models.PersonAssociation{
			BoundingBox:      p.BoundingBox,
			PersonConfidence: p.Confidence,
		}
		if best != nil {
			name, sim := best.Name, best.Confidence
			assoc.MatchedName = &name
			assoc.MatchedSimilarity = &sim
		} else {
			unmatched = append(unmatched, p)
		}
		associations = append(associations, assoc)
	}
	return associations, unmatched
}

// redBoxCandidates wählt die auffälligsten Personen ohne erkanntes Gesicht aus.
// Zu kleine oder unsichere Boxen werden verworfen, sortiert wird nach (Fläche, Konfidenz) absteigend.
func redBoxCandidates(unmatched []models.DetectedObject, opts *options) []models.DetectedObject {
	minConf := opts.threshold(personLabel)
	candidates := make([]models.DetectedObject, 0, len(unmatched))
	for _, p := range unmatched {
		if p.BoundingBox.Area() < opts.cfg.MinRedBoxArea || p.Confidence < minConf {
			continue
		}
		candidates = append(candidates, p)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ai, aj := candidates[i].BoundingBox.Area(), candidates[j].BoundingBox.Area()
		if ai != aj {
			return ai > aj
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > opts.cfg.MaxRedBoxes {
		candidates = candidates[:opts.cfg.MaxRedBoxes]
	}
	return candidates
}

// recognizedNames liefert die sortierten, eindeutigen Namen identifizierter Gesichter
func recognizedNames(faces []models.DetectedFace) []string {
	seen := make(map[string]bool)
	names := []string{}
	for _, f := range faces {
		if f.Identified() && !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names
}

// objectSummary zählt die Ziele ohne Personen-Synonyme, ausgeschlossene Ziele und erkannte Namen
func objectSummary(targets []models.DetectedObject, recognized []string, opts *options) map[string]int {
	names := make(map[string]bool, len(recognized))
	for _, n := range recognized {
		names[strings.ToLower(strings.TrimSpace(n))] = true
	}

	out := make(map[string]int)
	for _, t := range targets {
		if t.Name == "" || opts.excludedLabels[t.Name] || opts.excludeTargets[t.Name] || names[t.Name] {
			continue
		}
		out[t.Name]++
	}
	return out
}

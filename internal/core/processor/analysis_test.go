package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/geometry"
	"aws-face-recognition-go/internal/core/models"
)

func obj(name string, conf float64, box geometry.BoundingBox) models.DetectedObject {
	return models.DetectedObject{Name: name, Confidence: conf, BoundingBox: box, Centroid: box.Center()}
}

func analysisOptions(mutate func(*config.ProcessingConfig)) *options {
	cfg := config.DefaultProcessing()
	cfg.DefaultMinConfidence = 50
	if mutate != nil {
		mutate(&cfg)
	}
	return newOptions(cfg)
}

func TestFilterTargetsThresholdIsInclusive(t *testing.T) {
	opts := analysisOptions(func(c *config.ProcessingConfig) {
		c.TargetsConfidence = map[string]float64{"dog": 70}
		c.ExcludeTargets = []string{"cat"}
	})
	box := geometry.FromLTWH(0, 0, 0.5, 0.5)

	targets := filterTargets([]models.DetectedObject{
		obj("dog", 70, box),
		obj("dog", 69.999, box),
		obj("car", 50, box),
		obj("car", 49.9, box),
		obj("cat", 99, box),
		obj("", 99, box),
	}, opts)

	require.Len(t, targets, 2)
	assert.Equal(t, "dog", targets[0].Name)
	assert.Equal(t, 70.0, targets[0].Confidence)
	assert.Equal(t, "car", targets[1].Name)
}

func TestAssociatePicksBestIdentifiedFace(t *testing.T) {
	person := obj("person", 90, geometry.FromLTWH(0, 0, 0.5, 1))
	faces := []models.DetectedFace{
		{BoundingBox: geometry.FromLTWH(0.1, 0.1, 0.1, 0.1), Name: "Bob", Confidence: 85},
		{BoundingBox: geometry.FromLTWH(0.2, 0.3, 0.1, 0.1), Name: "Alice", Confidence: 95},
		{BoundingBox: geometry.FromLTWH(0.2, 0.5, 0.1, 0.1), Name: models.UnknownName},
		{BoundingBox: geometry.FromLTWH(0.8, 0.1, 0.1, 0.1), Name: "Carol", Confidence: 99},
	}

	assocs, unmatched := associate([]models.DetectedObject{person}, faces)
	require.Len(t, assocs, 1)
	require.NotNil(t, assocs[0].MatchedName)
	assert.Equal(t, "Alice", *assocs[0].MatchedName)
	assert.Equal(t, 95.0, *assocs[0].MatchedSimilarity)
	assert.Empty(t, unmatched)
}

func TestAssociateAllowsSharedFace(t *testing.T) {
	a := obj("person", 90, geometry.FromLTWH(0, 0, 0.6, 1))
	b := obj("person", 80, geometry.FromLTWH(0.4, 0, 0.6, 1))
	faces := []models.DetectedFace{{BoundingBox: geometry.FromLTWH(0.45, 0.1, 0.1, 0.1), Name: "Alice", Confidence: 90}}

	assocs, unmatched := associate([]models.DetectedObject{a, b}, faces)
	require.Len(t, assocs, 2)
	assert.Equal(t, "Alice", *assocs[0].MatchedName)
	assert.Equal(t, "Alice", *assocs[1].MatchedName)
	assert.Empty(t, unmatched)
}

func TestAssociateUnknownFaceDoesNotCount(t *testing.T) {
	p := obj("person", 90, geometry.FromLTWH(0, 0, 1, 1))
	faces := []models.DetectedFace{{BoundingBox: geometry.FromLTWH(0.4, 0.4, 0.1, 0.1), Name: models.UnknownName}}

	assocs, unmatched := associate([]models.DetectedObject{p}, faces)
	require.Len(t, assocs, 1)
	assert.Nil(t, assocs[0].MatchedName)
	assert.Nil(t, assocs[0].MatchedSimilarity)
	assert.Len(t, unmatched, 1)
}

func TestRedBoxCandidates(t *testing.T) {
	opts := analysisOptions(func(c *config.ProcessingConfig) {
		c.MaxRedBoxes = 2
		c.MinRedBoxArea = 0.05
		c.TargetsConfidence = map[string]float64{"person": 60}
	})

	small := obj("person", 99, geometry.FromLTWH(0, 0, 0.1, 0.1))
	unsure := obj("person", 55, geometry.FromLTWH(0, 0, 0.5, 0.5))
	medium := obj("person", 70, geometry.FromLTWH(0, 0, 0.3, 0.3))
	largeLow := obj("person", 65, geometry.FromLTWH(0, 0, 0.5, 0.5))
	largeHigh := obj("person", 90, geometry.FromLTWH(0.5, 0.5, 0.5, 0.5))

	got := redBoxCandidates([]models.DetectedObject{small, unsure, medium, largeLow, largeHigh}, opts)
	require.Len(t, got, 2)
	assert.Equal(t, 90.0, got[0].Confidence)
	assert.Equal(t, 65.0, got[1].Confidence)

	opts = analysisOptions(func(c *config.ProcessingConfig) { c.MaxRedBoxes = 0 })
	assert.Empty(t, redBoxCandidates([]models.DetectedObject{largeHigh}, opts))
}

func TestObjectSummaryExcludesPersonsAndNames(t *testing.T) {
	opts := analysisOptions(func(c *config.ProcessingConfig) { c.ExcludeTargets = []string{"cat"} })
	box := geometry.FromLTWH(0, 0, 0.2, 0.2)
	targets := []models.DetectedObject{
		obj("person", 90, box),
		obj("woman", 90, box),
		obj("dog", 90, box),
		obj("dog", 80, box),
		obj("car", 80, box),
		obj("alice", 80, box),
	}

	got := objectSummary(targets, []string{"Alice"}, opts)
	assert.Equal(t, map[string]int{"dog": 2, "car": 1}, got)
}

func TestRecognizedNamesSortedUnique(t *testing.T) {
	faces := []models.DetectedFace{
		{Name: "Bob", Confidence: 90},
		{Name: models.UnknownName},
		{Name: "Alice", Confidence: 85},
		{Name: "Bob", Confidence: 82},
	}
	assert.Equal(t, []string{"Alice", "Bob"}, recognizedNames(faces))
	assert.Equal(t, []string{}, recognizedNames(nil))
}

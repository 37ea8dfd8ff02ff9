package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/internal/core/geometry"
)

func grayImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 100, G: 100, B: 100, A: 255}), image.Point{}, draw.Src)
	return img
}

func TestFontLevelToScale(t *testing.T) {
	assert.Equal(t, 0.026, FontLevelToScale(6))
	assert.Equal(t, 0.010, FontLevelToScale(1))
	assert.Equal(t, 0.100, FontLevelToScale(20))
	assert.Equal(t, 0.010, FontLevelToScale(-3))
	assert.Equal(t, 0.100, FontLevelToScale(99))

	prev := 0.0
	for level := 1; level <= 20; level++ {
		s := FontLevelToScale(level)
		assert.GreaterOrEqual(t, s, prev, "level %d", level)
		prev = s
	}
}

func TestDrawOutlineOnly(t *testing.T) {
	src := grayImage(200, 200)
	a := New()

	out := a.Draw(src, geometry.BoundingBox{XMin: 0.25, YMin: 0.25, XMax: 0.75, YMax: 0.75}, "", Red, DefaultStyle(6))
	require.Equal(t, src.Bounds(), out.Bounds())

	edge := out.RGBAAt(50, 100)
	assert.Greater(t, edge.R, edge.G, "outline is reddish")
	assert.Equal(t, color.RGBA{R: 100, G: 100, B: 100, A: 255}, out.RGBAAt(100, 100), "inside untouched")
	assert.Equal(t, color.RGBA{R: 100, G: 100, B: 100, A: 255}, out.RGBAAt(52, 30), "no label background without text")

	assert.Equal(t, color.RGBA{R: 100, G: 100, B: 100, A: 255}, src.RGBAAt(50, 100), "input is not modified")
}

func TestDrawLabelAboveBox(t *testing.T) {
	src := grayImage(400, 400)
	out := New().Draw(src, geometry.BoundingBox{XMin: 0.25, YMin: 0.5, XMax: 0.75, YMax: 0.9}, "Alice", Yellow, DefaultStyle(10))

	// Hintergrund direkt über der Box ist abgedunkelt
	above := out.RGBAAt(101, 198)
	assert.Less(t, above.R, uint8(100))
}

func TestDrawLabelFlipsBelowTopEdge(t *testing.T) {
	src := grayImage(400, 400)
	out := New().Draw(src, geometry.BoundingBox{XMin: 0.25, YMin: 0, XMax: 0.75, YMax: 0.5}, "Bob\nUnknown", Yellow, DefaultStyle(10))

	// Label liegt innerhalb der Box, direkt unter der Oberkante
	inside := out.RGBAAt(103, 4)
	assert.Less(t, inside.R, uint8(100))
}

func TestDrawFallsBackToFixedFont(t *testing.T) {
	src := grayImage(120, 120)
	a := NewWithFont([]byte("not a font"))

	out := a.Draw(src, geometry.BoundingBox{XMin: 0.2, YMin: 0.5, XMax: 0.8, YMax: 0.9}, "person", Red, DefaultStyle(6))
	assert.Equal(t, src.Bounds(), out.Bounds())
}

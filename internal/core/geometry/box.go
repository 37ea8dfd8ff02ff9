package geometry

import (
	"image"
	"math"
)

// Point ist ein Punkt in normalisierten Bildkoordinaten (0..1)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox beschreibt ein Rechteck in normalisierten Bildkoordinaten
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Clamp01 begrenzt einen Wert auf das Intervall [0,1]. NaN wird zu 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FromLTWH erzeugt eine Box aus Left/Top/Width/Height, wie sie Rekognition liefert
func FromLTWH(left, top, width, height float64) BoundingBox {
	return BoundingBox{
		XMin: left,
		YMin: top,
		XMax: left + width,
		YMax: top + height,
	}.Clamp()
}

// Clamp begrenzt alle Koordinaten auf [0,1] und stellt min <= max sicher.
// Vertauschte Kanten ergeben eine Box mit Fläche 0.
func (b BoundingBox) Clamp() BoundingBox {
	out := BoundingBox{
		XMin: Clamp01(b.XMin),
		YMin: Clamp01(b.YMin),
		XMax: Clamp01(b.XMax),
		YMax: Clamp01(b.YMax),
	}
	if out.XMax < out.XMin {
		out.XMax = out.XMin
	}
	if out.YMax < out.YMin {
		out.YMax = out.YMin
	}
	return out
}

func (b BoundingBox) Width() float64 {
	return math.Max(0, b.XMax-b.XMin)
}

func (b BoundingBox) Height() float64 {
	return math.Max(0, b.YMax-b.YMin)
}

func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center liefert den Mittelpunkt der Box
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.XMin + b.XMax) / 2,
		Y: (b.YMin + b.YMax) / 2,
	}
}

// Contains prüft, ob der Punkt innerhalb der Box liegt (Ränder eingeschlossen)
func (b BoundingBox) Contains(p Point) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Expand vergrößert die Box um pad ihrer eigenen Breite/Höhe auf jeder Seite
func (b BoundingBox) Expand(pad float64) BoundingBox {
	b = b.Clamp()
	dx := b.Width() * pad
	dy := b.Height() * pad
	return BoundingBox{
		XMin: b.XMin - dx,
		YMin: b.YMin - dy,
		XMax: b.XMax + dx,
		YMax: b.YMax + dy,
	}.Clamp()
}

// ToPixels rechnet die Box in ein Pixelrechteck um. Das Ergebnis ist mindestens
// 1 Pixel breit und hoch und liegt vollständig im Bild.
func (b BoundingBox) ToPixels(width, height int) image.Rectangle {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}
	}
	b = b.Clamp()

	left := clampInt(int(b.XMin*float64(width)), 0, width-1)
	top := clampInt(int(b.YMin*float64(height)), 0, height-1)
	right := clampInt(int(b.XMax*float64(width)), 1, width)
	bottom := clampInt(int(b.YMax*float64(height)), 1, height)

	if right <= left {
		right = min(width, left+1)
	}
	if bottom <= top {
		bottom = min(height, top+1)
	}
	return image.Rect(left, top, right, bottom)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

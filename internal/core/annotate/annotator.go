package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"aws-face-recognition-go/internal/core/geometry"
)

const (
	// MinFontScale und MaxFontScale begrenzen den Anteil der kürzeren Bildseite für die Schriftgröße
	MinFontScale = 0.005
	MaxFontScale = 0.10

	minFontPx    = 6
	minThickness = 2
)

// Farben für die Markierungen
var (
	Red    = color.RGBA{R: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
)

// fontScaleTable ordnet den Stufen 1..20 einen Anteil der kürzeren Bildseite zu
var fontScaleTable = [20]float64{
	0.010, 0.012, 0.014, 0.016, 0.018,
	0.026, 0.030, 0.034, 0.038, 0.042,
	0.046, 0.050, 0.055, 0.060, 0.066,
	0.072, 0.078, 0.085, 0.092, 0.100,
}

// FontLevelToScale wandelt eine Schriftstufe (1..20) in einen Skalierungsfaktor um.
// Stufen außerhalb des Bereichs werden begrenzt.
func FontLevelToScale(level int) float64 {
	if level < 1 {
		level = 1
	}
	if level > len(fontScaleTable) {
		level = len(fontScaleTable)
	}
	return fontScaleTable[level-1]
}

// Style steuert Deckkraft und Schriftgröße einer Markierung
type Style struct {
	BoxOpacity   float64
	LabelOpacity float64
	FontScale    float64
	// Thickness überschreibt die berechnete Linienstärke, wenn > 0
	Thickness int
}

// DefaultStyle liefert die Standarddarstellung für eine Schriftstufe
func DefaultStyle(fontLevel int) Style {
	return Style{
		BoxOpacity:   0.5,
		LabelOpacity: 0.5,
		FontScale:    FontLevelToScale(fontLevel),
	}
}

// Annotator zeichnet halbtransparente Boxen und Beschriftungen in Bilder
type Annotator struct {
	font *opentype.Font
}

// New erstellt einen Annotator mit der eingebetteten Go-Regular-Schrift
func New() *Annotator {
	return NewWithFont(goregular.TTF)
}

// NewWithFont erstellt einen Annotator mit einer eigenen TrueType/OpenType-Schrift.
// Kann die Schrift nicht gelesen werden, wird die feste Ersatzschrift verwendet.
func NewWithFont(ttf []byte) *Annotator {
	f, err := opentype.Parse(ttf)
	if err != nil {
		log.WithError(err).Warn("Failed to parse scalable font, falling back to fixed-size font")
		return &Annotator{}
	}
	return &Annotator{font: f}
}

// Draw zeichnet eine Box mit optionaler Beschriftung und liefert ein neues Bild.
// Das Eingabebild wird nicht verändert.
func (a *Annotator) Draw(img image.Image, box geometry.BoundingBox, text string, c color.RGBA, style Style) *image.RGBA {
	bounds := img.Bounds()
	base := image.NewRGBA(bounds)
	draw.Draw(base, bounds, img, bounds.Min, draw.Src)

	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return base
	}
	minSide := min(w, h)

	overlay := image.NewNRGBA(bounds)

	thickness := style.Thickness
	if thickness <= 0 {
		thickness = max(minThickness, int(float64(minSide)*0.004))
	}

	rect := box.ToPixels(w, h).Add(bounds.Min)
	boxColor := color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha(style.BoxOpacity)}
	for i := 0; i < thickness; i++ {
		ring := image.Rect(rect.Min.X-i, rect.Min.Y-i, rect.Max.X+i, rect.Max.Y+i)
		strokeRect(overlay, ring, boxColor)
	}

	if strings.TrimSpace(text) != "" {
		a.drawLabel(overlay, rect, text, minSide, style)
	}

	draw.Draw(base, bounds, overlay, bounds.Min, draw.Over)
	return base
}

// drawLabel zeichnet den Textblock mit Hintergrund über die Box bzw. unter die Oberkante
func (a *Annotator) drawLabel(overlay *image.NRGBA, rect image.Rectangle, text string, minSide int, style Style) {
	scale := math.Min(MaxFontScale, math.Max(MinFontScale, style.FontScale))
	px := max(minFontPx, int(scale*float64(minSide)))

	face, closeFace := a.face(px)
	defer closeFace()

	lines := strings.Split(text, "\n")
	metrics := face.Metrics()
	lineHeight := (metrics.Ascent + metrics.Descent).Ceil()
	pad := max(3, int(float64(px)*0.25))
	lineGap := max(2, int(float64(px)*0.20))

	textW := 0
	for _, line := range lines {
		textW = max(textW, font.MeasureString(face, line).Ceil())
	}
	textH := lineHeight*len(lines) + lineGap*(len(lines)-1)

	blockW := textW + 2*pad
	blockH := textH + 2*pad

	x0 := rect.Min.X
	y0 := rect.Min.Y - blockH
	if y0 < overlay.Bounds().Min.Y {
		y0 = rect.Min.Y
	}
	bg := image.Rect(x0, y0, x0+blockW, y0+blockH).Intersect(overlay.Bounds())
	draw.Draw(overlay, bg, image.NewUniform(color.NRGBA{A: alpha(style.LabelOpacity)}), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  overlay,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	y := y0 + pad
	for _, line := range lines {
		d.Dot = fixed.P(x0+pad, y+metrics.Ascent.Ceil())
		d.DrawString(line)
		y += lineHeight + lineGap
	}
}

// face liefert eine Schrift in der gewünschten Pixelgröße oder die feste Ersatzschrift
func (a *Annotator) face(px int) (font.Face, func()) {
	if a.font != nil {
		f, err := opentype.NewFace(a.font, &opentype.FaceOptions{
			Size:    float64(px),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return f, func() { _ = f.Close() }
		}
		log.WithError(err).Warnf("Failed to create font face with size %d, using fixed-size font", px)
	}
	return basicfont.Face7x13, func() {}
}

// strokeRect zeichnet den 1 Pixel breiten Rand eines Rechtecks (Max exklusiv)
func strokeRect(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y+1, r.Min.X+1, r.Max.Y-1),
		image.Rect(r.Max.X-1, r.Min.Y+1, r.Max.X, r.Max.Y-1),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

func alpha(opacity float64) uint8 {
	if opacity <= 0 {
		return 0
	}
	if opacity >= 1 {
		return 255
	}
	return uint8(math.Round(opacity * 255))
}

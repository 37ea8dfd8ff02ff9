package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"aws-face-recognition-go/internal/core/geometry"
)

// ErrDecode wird geliefert, wenn die Bilddaten nicht gelesen werden können
var ErrDecode = errors.New("failed to decode image")

// decodeImage liest JPEG, PNG, GIF oder WebP
func decodeImage(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, format, nil
}

// cropToROI schneidet den ROI-Bereich aus. Das Ergebnis beginnt immer bei (0,0).
func cropToROI(img image.Image, roi geometry.BoundingBox) *image.RGBA {
	b := img.Bounds()
	rect := roi.ToPixels(b.Dx(), b.Dy()).Add(b.Min)
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// scaleImage verkleinert das Bild um factor (0 < factor < 1)
func scaleImage(img *image.RGBA, factor float64) *image.RGBA {
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*factor))
	h := max(1, int(float64(b.Dy())*factor))
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, b, xdraw.Src, nil)
	return out
}

// cropFace schneidet ein Gesicht mit Rand aus und vergrößert kleine Ausschnitte
// unter Beibehaltung des Seitenverhältnisses auf mindestens minFaceSide Pixel.
func cropFace(img *image.RGBA, face geometry.BoundingBox) *image.RGBA {
	b := img.Bounds()
	rect := face.Expand(facePadding).ToPixels(b.Dx(), b.Dy()).Add(b.Min)
	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	w, h := rect.Dx(), rect.Dy()
	if w >= minFaceSide && h >= minFaceSide {
		return crop
	}
	factor := max(float64(minFaceSide)/float64(w), float64(minFaceSide)/float64(h))
	nw := max(minFaceSide, int(float64(w)*factor+0.5))
	nh := max(minFaceSide, int(float64(h)*factor+0.5))
	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(out, out.Bounds(), crop, crop.Bounds(), xdraw.Src, nil)
	return out
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeAs kodiert im Speicherformat (jpg oder png)
func encodeAs(img image.Image, format string) ([]byte, error) {
	if format == "png" {
		return encodePNG(img)
	}
	return encodeJPEG(img, savedJPEGQuality)
}

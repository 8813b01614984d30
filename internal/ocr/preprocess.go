package ocr

import (
	"image"

	"github.com/disintegration/imaging"
)

// Preprocess prepares a scan for recognition: grayscale, contrast boost,
// mild sharpening and a width cap.
func Preprocess(img image.Image, maxWidth int) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 20)
	out = imaging.Sharpen(out, 0.5)
	if maxWidth > 0 && out.Bounds().Dx() > maxWidth {
		out = imaging.Resize(out, maxWidth, 0, imaging.Lanczos)
	}
	return out
}

package tactile

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	previewBackground = color.RGBA{20, 24, 40, 255}
	previewText       = color.RGBA{255, 255, 0, 255}
)

// previewHeader is the height of the caption band above the image.
const previewHeader = 18

// RenderFramePreview draws the height map of a frame as grayscale inside
// the contact mask, with non-contact pixels dark. A caption names the frame,
// its contact count and an optional note such as "reset".
func RenderFramePreview(f *SurfaceFrame, note string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height+previewHeader))
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < f.Width; x++ {
			img.SetRGBA(x, y, previewBackground)
		}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i, c := range f.Contact {
		if c {
			lo = math.Min(lo, f.Heights[i])
			hi = math.Max(hi, f.Heights[i])
		}
	}
	span := hi - lo
	if span <= 0 || math.IsInf(span, 0) {
		span = 1
	}

	for v := 0; v < f.Height; v++ {
		for u := 0; u < f.Width; u++ {
			i := v*f.Width + u
			if !f.Contact[i] {
				continue
			}
			g := uint8(40 + 215*(f.Heights[i]-lo)/span)
			img.SetRGBA(u, v+previewHeader, color.RGBA{g, g, g, 255})
		}
	}

	caption := fmt.Sprintf("frame %d  contact %d", f.Index, f.ContactCount())
	if note != "" {
		caption += "  " + note
	}
	drawText(img, 4, 13, caption, previewText)
	return img
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// SavePreviewPNG writes a preview image to path.
func SavePreviewPNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating preview file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding preview PNG: %w", err)
	}
	return f.Close()
}

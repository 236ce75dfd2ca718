package scene

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	xdraw "golang.org/x/image/draw"
)

// Texture owns a flat array of RGB float samples expanded from an 8-bit
// image. It is shared read-only across all render workers; no reference
// counting is needed because it outlives the frame.
type Texture struct {
	Width  int
	Height int
	// Pix is row-major RGB, 3 floats per texel.
	Pix []float32
}

// LoadTexture decodes an image file and expands it to floating-point
// color space. A failed load is a setup-time error and should be treated
// as fatal by the caller.
func LoadTexture(path string) (*Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open texture: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode texture %s: %w", path, err)
	}

	// Приводим любой формат декодера к RGBA перед разворачиванием в float.
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), src, b.Min, xdraw.Src)

	return TextureFromRGBA(rgba), nil
}

// TextureFromRGBA expands an 8-bit RGBA raster into a float texture.
func TextureFromRGBA(img *image.RGBA) *Texture {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	t := &Texture{
		Width:  w,
		Height: h,
		Pix:    make([]float32, w*h*3),
	}
	const inv255 = 1.0 / 255.0
	for y := 0; y < h; y++ {
		srcRow := img.Pix[y*img.Stride:]
		dstRow := t.Pix[y*w*3:]
		for x := 0; x < w; x++ {
			dstRow[x*3+0] = float32(srcRow[x*4+0]) * inv255
			dstRow[x*3+1] = float32(srcRow[x*4+1]) * inv255
			dstRow[x*3+2] = float32(srcRow[x*4+2]) * inv255
		}
	}
	return t
}

// At performs a nearest-neighbor lookup at UV coordinates. Out-of-range
// UV is clamped into [0,1] before indexing, never wrapped.
func (t *Texture) At(u, v float64) (r, g, b float32) {
	if t == nil || t.Width == 0 || t.Height == 0 {
		return 0, 0, 0
	}
	if u < 0 {
		u = 0
	} else if u > 1 {
		u = 1
	}
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}

	x := int(u * float64(t.Width-1))
	y := int(v * float64(t.Height-1))
	i := (y*t.Width + x) * 3
	return t.Pix[i], t.Pix[i+1], t.Pix[i+2]
}

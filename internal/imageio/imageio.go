// Package imageio turns decoded NCHW pixel buffers into encoded images.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format is an output image encoding.
type Format string

const (
	PNG  Format = "png"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// ParseFormat accepts a format name case-insensitively. The empty string
// selects PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return PNG, nil
	case "bmp":
		return BMP, nil
	case "tif", "tiff":
		return TIFF, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

// Ext is the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

// ContentType is the MIME type of the encoding.
func (f Format) ContentType() string { return "image/" + string(f) }

// FromNCHW builds an opaque RGBA image from a [3,height,width] planar
// buffer of values in [0,1]. Out of range values are clamped.
func FromNCHW(pixels []float32, width, height int) (*image.RGBA, error) {
	plane := width * height
	if width <= 0 || height <= 0 || len(pixels) != 3*plane {
		return nil, fmt.Errorf("imageio: %d values do not form a 3x%dx%d image", len(pixels), height, width)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			img.SetRGBA(x, y, color.RGBA{
				R: to8(pixels[i]),
				G: to8(pixels[plane+i]),
				B: to8(pixels[2*plane+i]),
				A: 0xff,
			})
		}
	}
	return img, nil
}

func to8(v float32) uint8 {
	if v != v || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(math.Round(float64(v) * 255))
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case PNG:
		return png.Encode(w, img)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("unsupported image format %q", f)
}

// EncodeNCHW is FromNCHW followed by Encode.
func EncodeNCHW(pixels []float32, width, height int, f Format) ([]byte, error) {
	img, err := FromNCHW(pixels, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

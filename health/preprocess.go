package health

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
)

// InputSize is the square resolution the scorer was calibrated on
const InputSize = 300

// DefaultMaxPixels bounds the decoded size of an image (about 100 MiB as RGBA)
const DefaultMaxPixels = 25_000_000

// Per channel normalization constants, RGB order
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a single image in NCHW layout
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Decode reads the source as an image. The header is checked first: images
// larger than maxPixels are rejected before any pixel is decoded. A
// non-positive maxPixels disables the check.
func Decode(src ImageSource, maxPixels int) (image.Image, error) {
	rc, err := src.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer rc.Close()

	// the bytes consumed by DecodeConfig are replayed to the full decode
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(rc, &header))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, src.Identifier(), err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s: %dx%d exceeds the %d pixel limit",
			ErrDecode, src.Identifier(), cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(io.MultiReader(&header, rc))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, src.Identifier(), err)
	}
	return img, nil
}

// Preprocess resizes img to InputSize x InputSize with bilinear filtering,
// scales RGB to [0, 1] and normalizes each channel with Mean and Std. Alpha is
// dropped.
func Preprocess(img image.Image) Tensor {
	dst := image.NewNRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	const plane = InputSize * InputSize
	t := Tensor{
		Shape: [4]int{1, 3, InputSize, InputSize},
		Data:  make([]float32, 3*plane),
	}
	for y := 0; y < InputSize; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < InputSize; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				t.Data[c*plane+y*InputSize+x] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return t
}

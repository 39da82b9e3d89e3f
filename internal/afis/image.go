package afis

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/jtejido/go-wsq"
	_ "github.com/spakin/netpbm"
)

// wsqMagic is the WSQ start-of-image marker.
const wsqMagic = "\xff\xa0"

func init() {
	image.RegisterFormat("wsq", wsqMagic, wsq.Decode, decodeWSQConfig)
}

// decodeWSQConfig decodes the whole image; the WSQ package has no header-only
// reader.
func decodeWSQConfig(r io.Reader) (image.Config, error) {
	img, err := wsq.Decode(r)
	if err != nil {
		return image.Config{}, err
	}
	b := img.Bounds()
	return image.Config{ColorModel: img.ColorModel(), Width: b.Dx(), Height: b.Dy()}, nil
}

// MinImageSide is the smallest width or height accepted for feature
// extraction.
const MinImageSide = 32

// DecodeImage decodes a PNG, JPEG, GIF, Netpbm or WSQ image.
func DecodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported image format - must be PNG, JPEG, GIF, PGM or WSQ: %w", err)
	}
	b := img.Bounds()
	if b.Dx() < MinImageSide || b.Dy() < MinImageSide {
		return nil, fmt.Errorf("%s image too small: %dx%d", format, b.Dx(), b.Dy())
	}
	return img, nil
}

// ToGray converts img to 8-bit grayscale, reusing it when it already is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

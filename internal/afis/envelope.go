package afis

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/fxamacker/cbor/v2"
	"github.com/spakin/netpbm"
)

const envelopeVersion = 1

// DefaultDPI is the resolution frames are assumed to have.
const DefaultDPI = 500

// envelope is the wire form of a template: the normalized grayscale frame
// as binary PGM.
type envelope struct {
	Version int     `cbor:"v"`
	Width   int     `cbor:"w"`
	Height  int     `cbor:"h"`
	DPI     float64 `cbor:"dpi,omitempty"`
	Image   []byte  `cbor:"img"`
}

var errBadEnvelope = errors.New("malformed template envelope")

func sealEnvelope(gray *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	err := netpbm.Encode(&buf, gray, &netpbm.EncodeOptions{
		Format:   netpbm.PGM,
		MaxValue: 255,
	})
	if err != nil {
		return nil, fmt.Errorf("encode pgm: %w", err)
	}
	b := gray.Bounds()
	return cbor.Marshal(envelope{
		Version: envelopeVersion,
		Width:   b.Dx(),
		Height:  b.Dy(),
		DPI:     DefaultDPI,
		Image:   buf.Bytes(),
	})
}

func openEnvelope(data []byte) (*image.Gray, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errBadEnvelope, env.Version)
	}
	img, err := DecodeImage(env.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	gray := ToGray(img)
	if b := gray.Bounds(); b.Dx() != env.Width || b.Dy() != env.Height {
		return nil, fmt.Errorf("%w: image is %dx%d, header says %dx%d", errBadEnvelope, b.Dx(), b.Dy(), env.Width, env.Height)
	}
	return gray, nil
}

// Package afis implements fingerprint.TemplateMatcher on top of SourceAFIS.
//
// A template travels as a CBOR envelope holding the normalized grayscale
// frame. SourceAFIS features are extracted from it when scoring, so the
// envelope stays valid across SourceAFIS versions.
package afis

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/jtejido/sourceafis"
	"github.com/jtejido/sourceafis/config"
	"go.uber.org/zap"

	"github.com/high-horse/fingerprint-server/internal/fingerprint"
)

var loadConfig sync.Once

// discardTransparency drops SourceAFIS transparency data; the service has no
// use for intermediate extraction artifacts.
type discardTransparency struct{}

func (c *discardTransparency) Accepts(key string) bool {
	return false
}

func (c *discardTransparency) Accept(key, mime string, data []byte) error {
	return nil
}

// Matcher encodes and scores templates with SourceAFIS.
type Matcher struct {
	logger *zap.Logger
}

// NewMatcher loads the SourceAFIS defaults once per process. workers <= 0
// uses one extraction worker per CPU.
func NewMatcher(workers int, logger *zap.Logger) *Matcher {
	loadConfig.Do(func() {
		config.LoadDefaultConfig()
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		config.Config.Workers = workers
	})
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{logger: logger.Named("afis")}
}

// Encode checks that features can be extracted from img and seals it into a
// template envelope.
func (m *Matcher) Encode(img image.Image) ([]byte, error) {
	gray := ToGray(img)
	if b := gray.Bounds(); b.Dx() < MinImageSide || b.Dy() < MinImageSide {
		return nil, fmt.Errorf("image too small: %dx%d", b.Dx(), b.Dy())
	}

	l := sourceafis.NewTransparencyLogger(new(discardTransparency))
	tc := sourceafis.NewTemplateCreator(l)
	afisImg, err := sourceafis.NewFromGray(gray)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if _, err := tc.Template(afisImg); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return sealEnvelope(gray)
}

// Score returns the SourceAFIS similarity of probe and candidate. Envelopes
// that cannot be opened or yield no template wrap fingerprint.ErrUndecodable.
func (m *Matcher) Score(ctx context.Context, probe, candidate []byte) (float64, error) {
	now := time.Now()

	probeGray, err := openEnvelope(probe)
	if err != nil {
		return 0, fmt.Errorf("probe: %w: %v", fingerprint.ErrUndecodable, err)
	}
	candidateGray, err := openEnvelope(candidate)
	if err != nil {
		return 0, fmt.Errorf("candidate: %w: %v", fingerprint.ErrUndecodable, err)
	}

	l := sourceafis.NewTransparencyLogger(new(discardTransparency))
	tc := sourceafis.NewTemplateCreator(l)

	probeImg, err := sourceafis.NewFromGray(probeGray)
	if err != nil {
		return 0, fmt.Errorf("failed to load probe image: %w: %v", fingerprint.ErrUndecodable, err)
	}
	probeTemplate, err := tc.Template(probeImg)
	if err != nil {
		return 0, fmt.Errorf("failed to create template for probe image: %w: %v", fingerprint.ErrUndecodable, err)
	}

	candidateImg, err := sourceafis.NewFromGray(candidateGray)
	if err != nil {
		return 0, fmt.Errorf("failed to load candidate image: %w: %v", fingerprint.ErrUndecodable, err)
	}
	candidateTemplate, err := tc.Template(candidateImg)
	if err != nil {
		return 0, fmt.Errorf("failed to create template for candidate image: %w: %v", fingerprint.ErrUndecodable, err)
	}

	matcher, err := sourceafis.NewMatcher(l, probeTemplate)
	if err != nil {
		return 0, fmt.Errorf("failed to create matcher: %w", err)
	}
	score := matcher.Match(ctx, candidateTemplate)

	m.logger.Debug("templates scored", zap.Float64("score", score), zap.Duration("elapsed", time.Since(now)))
	return score, nil
}

var _ fingerprint.TemplateMatcher = (*Matcher)(nil)

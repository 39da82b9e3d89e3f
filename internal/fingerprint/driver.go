package fingerprint

import (
	"context"
	"errors"
	"image"
	"time"
)

// Transient capture conditions. A ReaderDriver wraps one of these when the
// frame request should simply be retried; every other CaptureFrame error is
// treated as fatal for the reader.
var (
	ErrNoFinger = errors.New("no finger on sensor")
	ErrTimeout  = errors.New("capture timeout")
)

// ErrNoDevice is returned by ReaderDriver.Open when no reader is attached.
var ErrNoDevice = errors.New("no fingerprint reader attached")

// ErrUndecodable is wrapped by TemplateMatcher.Score when a template cannot be
// decoded.
var ErrUndecodable = errors.New("undecodable template")

// Frame is one image pulled from a sensor.
type Frame struct {
	// Quality is the driver-reported image quality, 0..100.
	Quality int
	Image   image.Image
}

// ReaderDriver wraps one physical fingerprint sensor. Only the DeviceSession
// that opened it calls into it, and only its CaptureWorker calls CaptureFrame.
type ReaderDriver interface {
	Open(ctx context.Context) error
	Close() error
	FingerPresent(ctx context.Context) (bool, error)
	CaptureFrame(ctx context.Context) (Frame, error)
	// Cancel aborts a CaptureFrame in flight. It must be safe to call from
	// any goroutine and when nothing is in flight.
	Cancel()
}

// DriverFactory builds a ReaderDriver for a profile.
type DriverFactory func(p DeviceProfile) (ReaderDriver, error)

// TemplateMatcher encodes images into templates and scores template pairs.
type TemplateMatcher interface {
	Encode(img image.Image) ([]byte, error)
	Score(ctx context.Context, probe, candidate []byte) (float64, error)
}

// CapturedTemplate is the product of one successful capture. It is never
// mutated after the worker hands it over.
type CapturedTemplate struct {
	Data       []byte
	Device     string
	CapturedAt time.Time
}

// MatchResult is the outcome of one comparison.
type MatchResult struct {
	Matched bool    `json:"matched"`
	Score   float64 `json:"score"`
}

// Recorder receives capture and match outcomes, typically for metrics.
type Recorder interface {
	CaptureFinished(device, outcome string, elapsed time.Duration)
	MatchEvaluated(device string, matched bool, score float64)
}

type nopRecorder struct{}

func (nopRecorder) CaptureFinished(string, string, time.Duration) {}
func (nopRecorder) MatchEvaluated(string, bool, float64)          {}

// Capture outcomes reported to Recorder.
const (
	OutcomeCaptured  = "captured"
	OutcomeCancelled = "cancelled"
	OutcomeExhausted = "exhausted"
	OutcomeFailed    = "failed"
)

func isTransient(err error) bool {
	return errors.Is(err, ErrNoFinger) || errors.Is(err, ErrTimeout)
}

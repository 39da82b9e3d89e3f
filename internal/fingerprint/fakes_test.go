package fingerprint

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeDriver is a scriptable ReaderDriver. It records how many CaptureFrame
// calls overlap, which is how tests observe concurrently running workers.
type fakeDriver struct {
	mu      sync.Mutex
	openErr error
	present func() (bool, error)
	frame   func(ctx context.Context, call int) (Frame, error)
	calls   int

	opens       atomic.Int32
	closes      atomic.Int32
	cancels     atomic.Int32
	presence    atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (d *fakeDriver) Open(context.Context) error {
	d.opens.Add(1)
	return d.openErr
}

func (d *fakeDriver) Close() error {
	d.closes.Add(1)
	return nil
}

func (d *fakeDriver) FingerPresent(context.Context) (bool, error) {
	d.presence.Add(1)
	if d.present == nil {
		return false, nil
	}
	return d.present()
}

func (d *fakeDriver) CaptureFrame(ctx context.Context) (Frame, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.maxInFlight.Load()
		if n <= peak || d.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	d.mu.Lock()
	d.calls++
	call := d.calls
	fn := d.frame
	d.mu.Unlock()

	if fn == nil {
		return goodFrame(1), nil
	}
	return fn(ctx, call)
}

func (d *fakeDriver) Cancel() { d.cancels.Add(1) }

func (d *fakeDriver) frameCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// goodFrame returns a qualifying frame whose width identifies it.
func goodFrame(width int) Frame {
	return Frame{Quality: 80, Image: image.NewGray(image.Rect(0, 0, width, 1))}
}

// fakeMatcher encodes a frame as "w<width>" and scores a fixed value.
// Templates starting with "bad" are undecodable.
type fakeMatcher struct {
	score     float64
	encodeErr error
}

func (m *fakeMatcher) Encode(img image.Image) ([]byte, error) {
	if m.encodeErr != nil {
		return nil, m.encodeErr
	}
	return []byte("w" + strconv.Itoa(img.Bounds().Dx())), nil
}

func (m *fakeMatcher) Score(_ context.Context, probe, candidate []byte) (float64, error) {
	for _, t := range [][]byte{probe, candidate} {
		if strings.HasPrefix(string(t), "bad") {
			return 0, fmt.Errorf("decode %q: %w", t, ErrUndecodable)
		}
	}
	return m.score, nil
}

type recordedCapture struct {
	device, outcome string
}

type fakeRecorder struct {
	mu       sync.Mutex
	captures []recordedCapture
	matches  int
}

func (r *fakeRecorder) CaptureFinished(device, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, recordedCapture{device, outcome})
}

func (r *fakeRecorder) MatchEvaluated(string, bool, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches++
}

func (r *fakeRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.captures))
	for _, c := range r.captures {
		out = append(out, c.outcome)
	}
	return out
}

// blockUntilCancelled is a frame script that parks until the worker is
// cancelled, signalling entered first.
func blockUntilCancelled(entered chan<- struct{}) func(ctx context.Context, call int) (Frame, error) {
	return func(ctx context.Context, _ int) (Frame, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return Frame{}, ErrNoFinger
	}
}

func testProfile() DeviceProfile {
	p := DefaultProfiles()[0]
	p.Capture = CaptureSettings{
		PollInterval:    time.Millisecond,
		DebounceTimeout: 20 * time.Millisecond,
		RetryInterval:   time.Millisecond,
		MaxDuration:     5 * time.Second,
	}
	return p
}

func newTestSession(t *testing.T, d *fakeDriver, m *fakeMatcher, opts SessionOptions) *Session {
	t.Helper()
	return newTestSessionWithProfile(t, testProfile(), d, m, opts)
}

func newTestSessionWithProfile(t *testing.T, p DeviceProfile, d *fakeDriver, m *fakeMatcher, opts SessionOptions) *Session {
	t.Helper()
	if m == nil {
		m = &fakeMatcher{}
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = time.Second
	}
	s := NewSession(p, d, m, opts)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// Package reader provides ReaderDriver adapters for the supported hardware
// families.
//
// Vendor SDKs are not available to the service, so each family is served by
// a replay reader: a directory of image files stands in for the sensor and
// every frame request returns the next file, as if a finger had been placed.
// Dropping files into the directory while the service runs simulates new
// touches; removing the directory simulates unplugging the reader.
package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/high-horse/fingerprint-server/internal/afis"
	"github.com/high-horse/fingerprint-server/internal/fingerprint"
)

// PresenceMarker is the file whose presence in a frames directory reports a
// finger resting on the sensor.
const PresenceMarker = "finger.present"

var frameExtensions = []string{".gif", ".jpeg", ".jpg", ".pbm", ".pgm", ".png", ".pnm", ".ppm", ".wsq"}

var errClosed = errors.New("reader is not open")

// Options tunes the replay readers.
type Options struct {
	// FramesDir holds one sub-directory per family. It is used for profiles
	// that do not name their own source.
	FramesDir string
	// Exposure is how long a frame takes on the sensor.
	Exposure time.Duration
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// Replay is a ReaderDriver reading frames from a directory.
type Replay struct {
	dir      string
	exposure time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	mu     sync.Mutex
	opened bool
	next   int
	// abort is closed by Cancel to interrupt the exposure in flight.
	abort chan struct{}
}

// New returns a closed replay reader over dir.
func New(dir, device string, opts Options) *Replay {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Replay{
		dir:      dir,
		exposure: opts.Exposure,
		clock:    opts.Clock,
		logger:   opts.Logger.Named("reader").With(zap.String("device", device), zap.String("dir", dir)),
		abort:    make(chan struct{}),
	}
}

// Open attaches the reader. A missing frames directory means no reader is
// plugged in.
func (r *Replay) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(r.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", fingerprint.ErrNoDevice, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", fingerprint.ErrNoDevice, r.dir)
	}

	r.mu.Lock()
	r.opened = true
	r.next = 0
	r.mu.Unlock()

	r.logger.Info("reader opened")
	return nil
}

func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return nil
	}
	r.opened = false
	r.logger.Info("reader closed")
	return nil
}

// FingerPresent reports whether the presence marker exists.
func (r *Replay) FingerPresent(ctx context.Context) (bool, error) {
	if !r.isOpen() {
		return false, errClosed
	}
	_, err := os.Stat(filepath.Join(r.dir, PresenceMarker))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("reader disconnected: %w", err)
	}
}

// CaptureFrame waits one exposure and returns the next frame in file name
// order, wrapping around at the end. An empty directory reports no finger.
func (r *Replay) CaptureFrame(ctx context.Context) (fingerprint.Frame, error) {
	r.mu.Lock()
	if !r.opened {
		r.mu.Unlock()
		return fingerprint.Frame{}, errClosed
	}
	abort := r.abort
	r.mu.Unlock()

	names, err := r.frames()
	if err != nil {
		return fingerprint.Frame{}, fmt.Errorf("reader disconnected: %w", err)
	}
	if err := r.expose(ctx, abort); err != nil {
		return fingerprint.Frame{}, err
	}
	if len(names) == 0 {
		return fingerprint.Frame{}, fingerprint.ErrNoFinger
	}

	r.mu.Lock()
	name := names[r.next%len(names)]
	r.next++
	r.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fingerprint.Frame{}, fmt.Errorf("%w: %s vanished", fingerprint.ErrNoFinger, name)
	}
	if err != nil {
		return fingerprint.Frame{}, fmt.Errorf("reader disconnected: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		r.logger.Warn("skipping undecodable frame", zap.String("file", name), zap.Error(err))
		return fingerprint.Frame{}, fmt.Errorf("%w: %s is not an image", fingerprint.ErrNoFinger, name)
	}
	gray := afis.ToGray(img)
	quality := Quality(gray)

	r.logger.Debug("frame read",
		zap.String("file", name),
		zap.String("format", format),
		zap.Int("quality", quality),
	)
	return fingerprint.Frame{Quality: quality, Image: gray}, nil
}

// Cancel interrupts the exposure of the frame in flight, if any.
func (r *Replay) Cancel() {
	r.mu.Lock()
	close(r.abort)
	r.abort = make(chan struct{})
	r.mu.Unlock()
}

func (r *Replay) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened
}

func (r *Replay) expose(ctx context.Context, abort <-chan struct{}) error {
	if r.exposure <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-abort:
		return fmt.Errorf("%w: exposure aborted", fingerprint.ErrTimeout)
	case <-r.clock.After(r.exposure):
		return nil
	}
}

// frames lists the image files in the directory, sorted by name.
func (r *Replay) frames() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(frameExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

var _ fingerprint.ReaderDriver = (*Replay)(nil)

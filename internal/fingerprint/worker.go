package fingerprint

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// captureResult is what a worker hands back to its session on exit.
type captureResult struct {
	template *CapturedTemplate
	err      error
	// fatal marks the reader as lost; the session moves to StateErrored.
	fatal   bool
	outcome string
}

// captureWorker runs one capture cycle: debounce, then request frames until
// one qualifies. It is the only goroutine that calls driver.CaptureFrame.
type captureWorker struct {
	driver  ReaderDriver
	matcher TemplateMatcher
	profile DeviceProfile
	clock   clockwork.Clock
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	// done is closed exactly once, after the session has seen the result.
	done    chan struct{}
	started time.Time
}

func newCaptureWorker(parent context.Context, driver ReaderDriver, matcher TemplateMatcher, profile DeviceProfile, clock clockwork.Clock, logger *zap.Logger) *captureWorker {
	ctx, cancel := context.WithCancel(parent)
	return &captureWorker{
		driver:  driver,
		matcher: matcher,
		profile: profile,
		clock:   clock,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: clock.Now(),
	}
}

// run executes the cycle and reports through complete before signalling done.
func (w *captureWorker) run(complete func(*captureWorker, captureResult)) {
	defer close(w.done)
	defer w.cancel()

	res := w.capture()
	complete(w, res)
}

// alive reports whether run has not returned yet.
func (w *captureWorker) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// wait blocks until the worker exits or timeout elapses. It returns false on
// timeout.
func (w *captureWorker) wait(timeout time.Duration) bool {
	timer := w.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.Chan():
		return false
	}
}

func (w *captureWorker) capture() captureResult {
	settings := w.profile.Capture

	if err := w.debounce(settings); err != nil {
		if w.ctx.Err() != nil {
			return captureResult{outcome: OutcomeCancelled}
		}
		return w.fatal(err)
	}

	deadline := w.clock.Now().Add(settings.MaxDuration)
	for attempt := 1; ; attempt++ {
		if w.ctx.Err() != nil {
			return captureResult{outcome: OutcomeCancelled}
		}
		if settings.MaxAttempts > 0 && attempt > settings.MaxAttempts {
			return w.exhausted(attempt - 1)
		}
		if !w.clock.Now().Before(deadline) {
			return w.exhausted(attempt - 1)
		}

		frame, err := w.driver.CaptureFrame(w.ctx)
		if w.ctx.Err() != nil {
			return captureResult{outcome: OutcomeCancelled}
		}

		switch {
		case err == nil && frame.Image != nil && frame.Quality > settings.MinQuality:
			data, encErr := w.matcher.Encode(frame.Image)
			if encErr == nil {
				if w.ctx.Err() != nil {
					return captureResult{outcome: OutcomeCancelled}
				}
				w.logger.Debug("fingerprint captured",
					zap.Int("attempt", attempt),
					zap.Int("quality", frame.Quality),
					zap.Duration("elapsed", w.clock.Since(w.started)),
				)
				return captureResult{
					template: &CapturedTemplate{
						Data:       data,
						Device:     w.profile.Name,
						CapturedAt: w.clock.Now(),
					},
					outcome: OutcomeCaptured,
				}
			}
			w.logger.Debug("frame rejected by encoder", zap.Int("attempt", attempt), zap.Error(encErr))
		case err == nil:
			w.logger.Debug("frame below quality",
				zap.Int("attempt", attempt),
				zap.Int("quality", frame.Quality),
				zap.Int("min_quality", settings.MinQuality),
			)
		case isTransient(err):
			w.logger.Debug("transient capture condition", zap.Int("attempt", attempt), zap.Error(err))
		default:
			return w.fatal(err)
		}

		if w.sleep(settings.RetryInterval) != nil {
			return captureResult{outcome: OutcomeCancelled}
		}
	}
}

// debounce waits for the sensor to be clear of a finger. It gives up waiting
// after the debounce timeout and lets the capture proceed.
func (w *captureWorker) debounce(settings CaptureSettings) error {
	deadline := w.clock.Now().Add(settings.DebounceTimeout)
	for {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		present, err := w.driver.FingerPresent(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return w.ctx.Err()
			}
			if !isTransient(err) {
				return err
			}
			present = true
		}
		if !present {
			return nil
		}
		if !w.clock.Now().Before(deadline) {
			w.logger.Warn("sensor not clear after debounce timeout, capturing anyway",
				zap.Duration("timeout", settings.DebounceTimeout),
			)
			return nil
		}
		if err := w.sleep(settings.PollInterval); err != nil {
			return err
		}
	}
}

func (w *captureWorker) sleep(d time.Duration) error {
	select {
	case <-w.ctx.Done():
		return w.ctx.Err()
	case <-w.clock.After(d):
		return nil
	}
}

func (w *captureWorker) fatal(err error) captureResult {
	w.logger.Error("reader failed during capture", zap.Error(err))
	return captureResult{
		err:     NewError(CodeCaptureFailed, "Capture failed", err),
		fatal:   true,
		outcome: OutcomeFailed,
	}
}

func (w *captureWorker) exhausted(attempts int) captureResult {
	w.logger.Info("capture budget exhausted",
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", w.clock.Since(w.started)),
	)
	return captureResult{
		err:     NewError(CodeCaptureFailed, "No fingerprint captured", nil),
		outcome: OutcomeExhausted,
	}
}

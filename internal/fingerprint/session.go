package fingerprint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// SessionOptions tunes a Session. Zero values fall back to defaults.
type SessionOptions struct {
	// StopTimeout bounds how long StopCapture waits for the worker to exit.
	StopTimeout time.Duration
	// ShutdownTimeout is the hard ceiling Shutdown waits for the worker before
	// releasing the reader anyway.
	ShutdownTimeout time.Duration
	Clock           clockwork.Clock
	Logger          *zap.Logger
	Recorder        Recorder
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.StopTimeout <= 0 {
		o.StopTimeout = 3 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 3 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID string `json:"session_id"`
	ProfileID int    `json:"model_id"`
	Device    string `json:"device"`
	State     State  `json:"state"`
	Captured  bool   `json:"captured"`
	LastError string `json:"last_error,omitempty"`
}

// Session owns one opened reader and its capture worker.
//
// Lifecycle operations (Initialize, StartCapture, StopCapture, Shutdown) are
// serialized by opMu. State and the captured-template slot are guarded by mu,
// which worker completion also takes; readers only need mu.RLock.
type Session struct {
	id      string
	profile DeviceProfile
	driver  ReaderDriver
	matcher TemplateMatcher
	opts    SessionOptions
	logger  *zap.Logger

	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	opened   bool
	worker   *captureWorker
	// releasing is a cancelled worker that outlived the stop timeout. No new
	// worker starts until it has exited.
	releasing *captureWorker
	captured  *CapturedTemplate
	lastErr   error
	// retired is set once the registry has released the session. A retired
	// session never opens the reader again.
	retired bool
}

// NewSession creates an uninitialized session for profile.
func NewSession(profile DeviceProfile, driver ReaderDriver, matcher TemplateMatcher, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:      id,
		profile: profile,
		driver:  driver,
		matcher: matcher,
		opts:    opts,
		logger: opts.Logger.Named("session").With(
			zap.String("session_id", id),
			zap.String("device", profile.Name),
		),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Profile returns the device profile the session was opened for.
func (s *Session) Profile() DeviceProfile { return s.profile }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a consistent snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		SessionID: s.id,
		ProfileID: s.profile.ID,
		Device:    s.profile.Name,
		State:     s.state,
		Captured:  s.captured != nil,
	}
	if s.lastErr != nil {
		st.LastError = string(CodeOf(s.lastErr))
	}
	return st
}

// Initialize opens the reader. It is a no-op when the session is already
// Ready or Capturing.
func (s *Session) Initialize(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return NewError(CodeReaderNotConnected, "Session was released, open the reader again", nil)
	}
	switch s.state {
	case StateReady, StateCapturing:
		s.mu.Unlock()
		return nil
	case StateErrored:
		cause := s.lastErr
		s.mu.Unlock()
		return NewError(CodeReaderNotConnected, "Reader is in error state, shut it down first", cause)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	err := s.driver.Open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateErrored
		if errors.Is(err, ErrNoDevice) {
			s.lastErr = NewError(CodeSdkInitFailed, "Fingerprint device not connected", err)
		} else {
			s.lastErr = NewError(CodeSdkInitFailed, "Unable to initialize fingerprint reader", err)
		}
		s.logger.Error("reader initialization failed", zap.Error(err))
		return s.lastErr
	}
	s.opened = true
	s.state = StateReady
	s.lastErr = nil
	s.logger.Info("reader initialized", zap.String("family", s.profile.Family))
	return nil
}

// StartCapture clears the template slot and spawns a capture worker. It is a
// no-op while a capture is already running.
func (s *Session) StartCapture() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateCapturing:
		s.mu.Unlock()
		return nil
	case StateReady:
	default:
		s.mu.Unlock()
		return NewError(CodeReaderNotConnected, "Unable to connect to reader", nil)
	}
	releasing := s.releasing
	s.mu.Unlock()

	if releasing != nil {
		if !releasing.wait(s.opts.StopTimeout) {
			return NewError(CodeReaderNotConnected, "Previous capture is still releasing the reader", nil)
		}
		s.mu.Lock()
		s.releasing = nil
		s.mu.Unlock()
	}

	w := newCaptureWorker(context.Background(), s.driver, s.matcher, s.profile, s.opts.Clock, s.logger.Named("worker"))

	s.mu.Lock()
	s.worker = w
	s.captured = nil
	s.lastErr = nil
	s.state = StateCapturing
	s.mu.Unlock()

	go w.run(s.complete)
	s.logger.Debug("capture started")
	return nil
}

// complete is called by a worker right before it signals done. Results from
// a worker that is no longer current are dropped.
func (s *Session) complete(w *captureWorker, res captureResult) {
	s.mu.Lock()
	current := s.worker == w
	if current {
		s.worker = nil
		if res.template != nil {
			s.captured = res.template
		}
		s.lastErr = res.err
		if res.fatal {
			s.state = StateErrored
		} else if s.state == StateCapturing {
			s.state = StateReady
		}
	}
	s.mu.Unlock()

	outcome := res.outcome
	if !current {
		outcome = OutcomeCancelled
		s.logger.Debug("dropping result of cancelled capture", zap.String("outcome", res.outcome))
	}
	s.opts.Recorder.CaptureFinished(s.profile.Name, outcome, s.opts.Clock.Since(w.started))
}

// StopCapture cancels a running capture and clears the template slot. It is a
// no-op when nothing is being captured.
func (s *Session) StopCapture() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	return s.stopLocked(w)
}

// stopWorker stops w if it is still the current worker.
func (s *Session) stopWorker(w *captureWorker) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(w)
}

func (s *Session) stopLocked(w *captureWorker) error {
	s.mu.Lock()
	if w == nil || s.worker != w {
		s.mu.Unlock()
		return nil
	}
	s.worker = nil
	s.captured = nil
	s.mu.Unlock()

	w.cancel()
	s.driver.Cancel()
	exited := w.wait(s.opts.StopTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !exited {
		s.logger.Warn("capture worker did not stop in time", zap.Duration("timeout", s.opts.StopTimeout))
		s.releasing = w
	}
	if s.state == StateCapturing {
		s.state = StateReady
	}
	s.logger.Debug("capture stopped")
	return nil
}

// Await blocks until the running capture, if any, has finished or ctx ends.
func (s *Session) Await(ctx context.Context) error {
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()
	return awaitWorker(ctx, w)
}

func awaitWorker(ctx context.Context, w *captureWorker) error {
	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasCapture reports whether a template is waiting to be taken.
func (s *Session) HasCapture() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captured != nil
}

// TakeCapture hands over the captured template and empties the slot.
func (s *Session) TakeCapture() (CapturedTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured != nil {
		t := *s.captured
		s.captured = nil
		return t, nil
	}
	if s.lastErr != nil {
		return CapturedTemplate{}, s.lastErr
	}
	switch s.state {
	case StateReady, StateCapturing:
		return CapturedTemplate{}, NewError(CodeCaptureFailed, "No fingerprint captured", nil)
	default:
		return CapturedTemplate{}, NewError(CodeReaderNotConnected, "Unable to connect to reader", nil)
	}
}

// Capture runs a full capture cycle and returns its template. When ctx ends
// first the capture is stopped and CAPTURE_FAILED is returned. A capture
// started by someone else in the meantime is left running.
func (s *Session) Capture(ctx context.Context) (CapturedTemplate, error) {
	if err := s.StartCapture(); err != nil {
		return CapturedTemplate{}, err
	}
	s.mu.RLock()
	w := s.worker
	s.mu.RUnlock()

	if err := awaitWorker(ctx, w); err != nil {
		if stopErr := s.stopWorker(w); stopErr != nil {
			s.logger.Warn("stop after abandoned capture failed", zap.Error(stopErr))
		}
		return CapturedTemplate{}, NewError(CodeCaptureFailed, "Capture timed out", err)
	}
	return s.TakeCapture()
}

// Match scores captured against stored and applies the profile policy.
func (s *Session) Match(ctx context.Context, captured, stored []byte) (MatchResult, error) {
	if s.State() == StateErrored {
		return MatchResult{}, NewError(CodeReaderNotConnected, "Reader is in error state", nil)
	}
	if len(captured) == 0 || len(stored) == 0 {
		return MatchResult{}, NewError(CodeMatchFailed, "Fingerprint match failed", ErrUndecodable)
	}
	score, err := s.matcher.Score(ctx, captured, stored)
	if err != nil {
		s.logger.Info("match failed", zap.Error(err))
		return MatchResult{}, NewError(CodeMatchFailed, "Fingerprint match failed", err)
	}
	res := MatchResult{Matched: s.profile.Policy.Accept(score), Score: score}
	s.opts.Recorder.MatchEvaluated(s.profile.Name, res.Matched, score)
	s.logger.Debug("match evaluated",
		zap.Float64("score", score),
		zap.Float64("threshold", s.profile.Policy.Threshold()),
		zap.Bool("matched", res.Matched),
	)
	return res, nil
}

// Shutdown cancels any capture, waits for the worker up to the shutdown
// timeout and releases the reader. Calling it on an uninitialized session is
// a no-op.
func (s *Session) Shutdown(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.shutdownLocked(ctx)
}

// retire shuts the session down for good. Initialize fails afterwards, so a
// caller still holding the session cannot reopen the reader behind the
// registry's back.
func (s *Session) retire(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.retired = true
	s.mu.Unlock()
	return s.shutdownLocked(ctx)
}

func (s *Session) shutdownLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	workers := make([]*captureWorker, 0, 2)
	if s.worker != nil {
		workers = append(workers, s.worker)
	}
	if s.releasing != nil {
		workers = append(workers, s.releasing)
	}
	s.worker = nil
	s.releasing = nil
	s.captured = nil
	opened := s.opened
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	if opened {
		s.driver.Cancel()
	}

	timer := s.opts.Clock.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()
wait:
	for _, w := range workers {
		select {
		case <-w.done:
		case <-timer.Chan():
			s.logger.Warn("shutdown timeout exceeded, releasing reader with capture still running",
				zap.Duration("timeout", s.opts.ShutdownTimeout),
			)
			break wait
		case <-ctx.Done():
			s.logger.Warn("shutdown abandoned, releasing reader with capture still running", zap.Error(ctx.Err()))
			break wait
		}
	}

	if opened {
		if err := s.driver.Close(); err != nil {
			s.logger.Error("failed to release reader", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.state = StateUninitialized
	s.opened = false
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("reader released")
	return nil
}

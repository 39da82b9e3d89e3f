package fingerprint

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebounceGivesUpOnStuckFinger(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d := &fakeDriver{present: func() (bool, error) { return true, nil }}
	p := testProfile()
	p.Capture.PollInterval = 50 * time.Millisecond
	p.Capture.DebounceTimeout = time.Second
	s := newTestSessionWithProfile(t, p, d, nil, SessionOptions{Clock: fc})
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.StartCapture())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	assert.Zero(t, d.frameCalls(), "no frame is requested while the finger is still down")

	fc.Advance(time.Second)
	require.NoError(t, s.Await(ctx))

	tmpl, err := s.TakeCapture()
	require.NoError(t, err)
	assert.Equal(t, []byte("w1"), tmpl.Data)
	assert.Equal(t, int32(2), d.presence.Load())
}

func TestDebounceWaitsForClearSensor(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d := &fakeDriver{}
	polls := 0
	d.present = func() (bool, error) {
		polls++
		return polls < 3, nil
	}
	p := testProfile()
	p.Capture.PollInterval = 50 * time.Millisecond
	p.Capture.DebounceTimeout = time.Minute
	s := newTestSessionWithProfile(t, p, d, nil, SessionOptions{Clock: fc})
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.StartCapture())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(50 * time.Millisecond)
	}
	require.NoError(t, s.Await(ctx))

	assert.True(t, s.HasCapture())
	assert.Equal(t, int32(3), d.presence.Load())
}

func TestCaptureTimeBudget(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d := &fakeDriver{frame: func(context.Context, int) (Frame, error) {
		return Frame{}, ErrNoFinger
	}}
	p := testProfile()
	p.Capture.RetryInterval = 100 * time.Millisecond
	p.Capture.MaxDuration = time.Second
	s := newTestSessionWithProfile(t, p, d, nil, SessionOptions{Clock: fc})
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.StartCapture())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(time.Second)
	require.NoError(t, s.Await(ctx))

	_, err := s.TakeCapture()
	require.ErrorIs(t, err, ErrCaptureFailed)
	assert.Equal(t, 1, d.frameCalls())
	assert.Equal(t, StateReady, s.State())
}

func TestCancelDuringDebounce(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d := &fakeDriver{present: func() (bool, error) { return true, nil }}
	rec := &fakeRecorder{}
	s := newTestSession(t, d, nil, SessionOptions{Clock: fc, Recorder: rec})
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.StartCapture())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	require.NoError(t, s.StopCapture())

	assert.Zero(t, d.frameCalls())
	assert.Equal(t, []string{OutcomeCancelled}, rec.outcomes())
	assert.Equal(t, StateReady, s.State())
}

// stuckFrame parks CaptureFrame until release is closed, ignoring
// cancellation the way a wedged vendor call does.
func stuckFrame(entered chan<- struct{}, release <-chan struct{}) func(context.Context, int) (Frame, error) {
	return func(context.Context, int) (Frame, error) {
		entered <- struct{}{}
		<-release
		return Frame{}, ErrNoFinger
	}
}

func TestStopTimeoutFollowsClock(t *testing.T) {
	fc := clockwork.NewFakeClock()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	d := &fakeDriver{frame: stuckFrame(entered, release)}
	s := newTestSession(t, d, nil, SessionOptions{Clock: fc, StopTimeout: time.Second})
	t.Cleanup(func() { close(release) })
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.StartCapture())
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.StopCapture() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	select {
	case <-stopped:
		t.Fatal("stop returned before its timeout elapsed")
	default:
	}

	fc.Advance(time.Second)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("stop did not return after its timeout elapsed")
	}
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, int32(1), d.cancels.Load())
}

func TestShutdownTimeoutFollowsClock(t *testing.T) {
	fc := clockwork.NewFakeClock()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	d := &fakeDriver{frame: stuckFrame(entered, release)}
	s := newTestSession(t, d, nil, SessionOptions{Clock: fc, ShutdownTimeout: 5 * time.Second})
	t.Cleanup(func() { close(release) })
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.StartCapture())
	<-entered

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	assert.Zero(t, d.closes.Load(), "reader stays open while the worker may still exit")

	fc.Advance(5 * time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("shutdown did not return after its timeout elapsed")
	}
	assert.Equal(t, StateUninitialized, s.State())
	assert.Equal(t, int32(1), d.closes.Load())
}

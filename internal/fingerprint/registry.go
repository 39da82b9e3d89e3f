package fingerprint

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry holds the single active Session of the process. It is created at
// startup and closed at shutdown; nothing else keeps a reference to the
// session between requests.
type Registry struct {
	catalog *Catalog
	matcher TemplateMatcher
	opts    SessionOptions
	logger  *zap.Logger

	mu      sync.Mutex
	drivers map[string]DriverFactory
	active  *Session
}

// NewRegistry creates a registry over catalog. Drivers are added with
// RegisterDriver.
func NewRegistry(catalog *Catalog, matcher TemplateMatcher, opts SessionOptions) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		catalog: catalog,
		matcher: matcher,
		opts:    opts,
		logger:  opts.Logger.Named("registry"),
		drivers: make(map[string]DriverFactory),
	}
}

// RegisterDriver makes a hardware family available. Registering the same
// family twice replaces the factory.
func (r *Registry) RegisterDriver(family string, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[strings.ToLower(family)] = factory
}

// Families lists the registered hardware families, sorted.
func (r *Registry) Families() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	families := maps.Keys(r.drivers)
	slices.Sort(families)
	return families
}

// Profiles lists the catalog in id order.
func (r *Registry) Profiles() []DeviceProfile {
	return r.catalog.Profiles()
}

// Open returns the session for profileID, creating it when no session is
// active. A different profile cannot be opened until the active session is
// shut down.
func (r *Registry) Open(profileID int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked(profileID)
}

// Initialize opens the session for profileID and brings the reader up while
// holding the registry, so a concurrent Shutdown cannot release the session
// halfway. A session left in error is replaced first, and a failed
// initialization releases the session so the next attempt starts clean.
func (r *Registry) Initialize(ctx context.Context, profileID int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.openLocked(profileID)
	if err != nil {
		return nil, err
	}
	if s.State() == StateErrored {
		r.logger.Info("replacing failed session", zap.String("session_id", s.ID()))
		if err := r.shutdownLocked(ctx); err != nil {
			return nil, err
		}
		if s, err = r.openLocked(profileID); err != nil {
			return nil, err
		}
	}

	if err := s.Initialize(ctx); err != nil {
		if releaseErr := r.shutdownLocked(ctx); releaseErr != nil {
			r.logger.Warn("release after failed init", zap.Error(releaseErr))
		}
		return nil, err
	}
	return s, nil
}

func (r *Registry) openLocked(profileID int) (*Session, error) {
	profile, ok := r.catalog.Lookup(profileID)
	if !ok {
		return nil, NewError(CodeUnsupportedDevice, fmt.Sprintf("Fingerprint device not supported: %d", profileID), nil)
	}

	if r.active != nil {
		if r.active.Profile().ID == profileID {
			return r.active, nil
		}
		return nil, NewError(CodeDeviceInUse,
			fmt.Sprintf("Device %s is open, shut it down before opening %s", r.active.Profile().Name, profile.Name), nil)
	}

	factory, ok := r.drivers[strings.ToLower(profile.Family)]
	if !ok {
		known := maps.Keys(r.drivers)
		slices.Sort(known)
		return nil, NewError(CodeUnsupportedDevice,
			fmt.Sprintf("Fingerprint device not supported: %s (known families: %s)", profile.Name, strings.Join(known, ", ")), nil)
	}
	driver, err := factory(profile)
	if err != nil {
		return nil, NewError(CodeSdkInitFailed, "Unable to initialize fingerprint reader", err)
	}

	r.active = NewSession(profile, driver, r.matcher, r.opts)
	r.logger.Info("session created",
		zap.String("session_id", r.active.ID()),
		zap.String("device", profile.Name),
		zap.String("policy", profile.Policy.String()),
	)
	return r.active, nil
}

// Active returns the open session.
func (r *Registry) Active() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, NewError(CodeReaderNotConnected, "Unable to connect to reader", nil)
	}
	return r.active, nil
}

// Shutdown releases the active session and forgets it. It succeeds when no
// session is open. The registry stays locked until the reader is released so
// no other session can open the hardware meanwhile. The released session is
// retired: Initialize on it fails from then on.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdownLocked(ctx)
}

func (r *Registry) shutdownLocked(ctx context.Context) error {
	s := r.active
	if s == nil {
		return nil
	}
	if err := s.retire(ctx); err != nil {
		return err
	}
	r.active = nil
	r.logger.Info("session closed", zap.String("session_id", s.ID()))
	return nil
}

// Close is Shutdown for process exit.
func (r *Registry) Close(ctx context.Context) error {
	return r.Shutdown(ctx)
}

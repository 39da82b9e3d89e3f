package fingerprint

import (
	"fmt"
	"strings"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
)

// Hardware families with a built-in profile.
const (
	FamilyControlID = "controlid"
	FamilyHamster   = "hamster"
)

// CaptureSettings tunes the capture worker for one hardware family.
type CaptureSettings struct {
	// MinQuality is the frame quality a frame must exceed to qualify.
	MinQuality int `toml:"min_quality"`
	// PollInterval paces the finger-present debounce.
	PollInterval time.Duration `toml:"poll_interval"`
	// DebounceTimeout bounds the wait for a clear sensor; capture proceeds
	// once it elapses.
	DebounceTimeout time.Duration `toml:"debounce_timeout"`
	// RetryInterval is the pause after a transient frame failure.
	RetryInterval time.Duration `toml:"retry_interval"`
	// MaxAttempts caps frame requests per capture, 0 means unlimited.
	MaxAttempts int `toml:"max_attempts"`
	// MaxDuration caps the attempt phase of one capture.
	MaxDuration time.Duration `toml:"max_duration"`
}

// Defaults fills zero fields.
func (c CaptureSettings) Defaults() CaptureSettings {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.DebounceTimeout <= 0 {
		c.DebounceTimeout = 3 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = time.Minute
	}
	return c
}

// DeviceProfile identifies a reader type and how to talk to it.
type DeviceProfile struct {
	ID      int             `toml:"id"`
	Name    string          `toml:"name"`
	Family  string          `toml:"family"`
	Source  string          `toml:"source"`
	Policy  MatchPolicy     `toml:"policy"`
	Capture CaptureSettings `toml:"capture"`
}

// Validate checks the profile and its policy.
func (p DeviceProfile) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("invalid profile id %d: must be > 0", p.ID)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("invalid profile %d: name must not be empty", p.ID)
	}
	if strings.TrimSpace(p.Family) == "" {
		return fmt.Errorf("invalid profile %s: family must not be empty", p.Name)
	}
	if p.Capture.MinQuality < 0 || p.Capture.MinQuality > 100 {
		return fmt.Errorf("invalid profile %s: min_quality must be in 0..100", p.Name)
	}
	if p.Capture.MaxAttempts < 0 {
		return fmt.Errorf("invalid profile %s: max_attempts must be >= 0", p.Name)
	}
	if err := p.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid profile %s: %w", p.Name, err)
	}
	return nil
}

// DefaultProfiles returns the calibrations shipped for the supported readers.
func DefaultProfiles() []DeviceProfile {
	return []DeviceProfile{
		{
			ID:     1,
			Name:   "CONTROLID",
			Family: FamilyControlID,
			Policy: ScaledPolicy(DefaultBaseThreshold, 0.25),
			Capture: CaptureSettings{
				PollInterval:    50 * time.Millisecond,
				DebounceTimeout: 3 * time.Second,
				RetryInterval:   50 * time.Millisecond,
				MaxDuration:     time.Minute,
			},
		},
		{
			ID:     2,
			Name:   "HAMSTER",
			Family: FamilyHamster,
			Policy: MarginPolicy(DefaultBaseThreshold, 10),
			Capture: CaptureSettings{
				MinQuality:      30,
				PollInterval:    50 * time.Millisecond,
				DebounceTimeout: 3 * time.Second,
				RetryInterval:   500 * time.Millisecond,
				MaxDuration:     time.Minute,
			},
		},
	}
}

// Catalog indexes device profiles by id, iterating in id order.
type Catalog struct {
	profiles *treemap.Map
}

// NewCatalog validates profiles and indexes them. Duplicate ids are rejected.
func NewCatalog(profiles []DeviceProfile) (*Catalog, error) {
	m := treemap.NewWithIntComparator()
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.Get(p.ID); dup {
			return nil, fmt.Errorf("duplicate profile id %d", p.ID)
		}
		p.Capture = p.Capture.Defaults()
		m.Put(p.ID, p)
	}
	return &Catalog{profiles: m}, nil
}

// Lookup returns the profile with id.
func (c *Catalog) Lookup(id int) (DeviceProfile, bool) {
	v, ok := c.profiles.Get(id)
	if !ok {
		return DeviceProfile{}, false
	}
	return v.(DeviceProfile), true
}

// Profiles lists all profiles ordered by id.
func (c *Catalog) Profiles() []DeviceProfile {
	values := c.profiles.Values()
	out := make([]DeviceProfile, 0, len(values))
	for _, v := range values {
		out = append(out, v.(DeviceProfile))
	}
	return out
}

// Len is the number of profiles.
func (c *Catalog) Len() int { return c.profiles.Size() }

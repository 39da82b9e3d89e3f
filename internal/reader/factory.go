package reader

import (
	"errors"
	"path/filepath"

	"github.com/high-horse/fingerprint-server/internal/fingerprint"
)

// Families lists the hardware families served by the replay reader.
var Families = []string{fingerprint.FamilyControlID, fingerprint.FamilyHamster}

// Factory builds replay readers. A profile's Source names its frames
// directory; otherwise FramesDir/<family> is used.
func Factory(opts Options) fingerprint.DriverFactory {
	return func(p fingerprint.DeviceProfile) (fingerprint.ReaderDriver, error) {
		dir := p.Source
		if dir == "" {
			if opts.FramesDir == "" {
				return nil, errors.New("no frames directory configured")
			}
			dir = filepath.Join(opts.FramesDir, p.Family)
		}
		return New(dir, p.Name, opts), nil
	}
}

// Register installs the replay reader for every family in Families.
func Register(r *fingerprint.Registry, opts Options) {
	for _, family := range Families {
		r.RegisterDriver(family, Factory(opts))
	}
}

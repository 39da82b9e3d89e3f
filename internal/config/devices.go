package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/high-horse/fingerprint-server/internal/fingerprint"
)

type devicesFile struct {
	Devices []fingerprint.DeviceProfile `toml:"device"`
}

// LoadCatalog reads the device catalog from path, or returns the built-in one
// when path is empty. Unknown keys are rejected so a typo does not silently
// fall back to a default calibration.
func LoadCatalog(path string) (*fingerprint.Catalog, error) {
	if path == "" {
		return fingerprint.NewCatalog(fingerprint.DefaultProfiles())
	}

	var f devicesFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("read devices %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("invalid devices %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if len(f.Devices) == 0 {
		return nil, fmt.Errorf("invalid devices %s: no [[device]] entries", path)
	}
	return fingerprint.NewCatalog(f.Devices)
}

//go:build darwin

package devicewatch

import (
	"os"
	"path/filepath"
)

// ListDevices enumerates /dev/cu.* nodes. macOS does not expose idVendor/
// idProduct as a plain filesystem read the way Linux's sysfs does, so
// personality classification here falls back to Unknown; engines probe the
// protocol directly once opened. Adapted from the teacher's darwin.go,
// which shelled out to `lsof -iTCP`; this enumerates device nodes directly
// since there is no equivalent lightweight USB-listing CLI to parse.
func ListDevices() ([]Device, error) {
	matches, err := filepath.Glob("/dev/cu.*")
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(matches))
	for _, m := range matches {
		if _, err := os.Stat(m); err != nil {
			continue
		}
		out = append(out, Device{
			ID:          m,
			Path:        m,
			Personality: PersonalityUnknown,
		})
	}
	return out, nil
}

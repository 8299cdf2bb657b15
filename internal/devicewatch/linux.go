//go:build linux

package devicewatch

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ListDevices enumerates the USB devices under /sys/bus/usb/devices,
// reading each device's idVendor/idProduct to classify its personality and
// reporting its tty node when it has one; /dev/ttyUSB* and /dev/ttyACM*
// are not scanned on their own. Adapted from the teacher's linux.go, which
// walked /proc/net/tcp for listening sockets; here the walk is over
// /sys/bus/usb/devices instead of /proc/net/tcp.
func ListDevices() ([]Device, error) {
	var out []Device

	entries, err := os.ReadDir("/sys/bus/usb/devices")
	if err != nil {
		return out, nil // no USB bus visible (container, restricted env): empty list, not an error
	}

	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, ":") {
			continue // skip interface nodes like "1-1:1.0"
		}
		base := filepath.Join("/sys/bus/usb/devices", name)

		vendor, err := readHex(filepath.Join(base, "idVendor"))
		if err != nil {
			continue
		}
		product, err := readHex(filepath.Join(base, "idProduct"))
		if err != nil {
			continue
		}

		out = append(out, Device{
			ID:          name,
			Path:        devNodeFor(base),
			VendorID:    vendor,
			ProductID:   product,
			Personality: Classify(vendor, product),
		})
	}

	return out, nil
}

func readHex(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// devNodeFor finds the tty/bulk device node a USB sysfs entry owns, if any.
func devNodeFor(sysfsPath string) string {
	matches, _ := filepath.Glob(filepath.Join(sysfsPath, "*", "tty", "*"))
	if len(matches) > 0 {
		return "/dev/" + filepath.Base(matches[0])
	}
	return sysfsPath
}

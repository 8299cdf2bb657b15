//go:build windows

package devicewatch

import "fmt"

// ListDevices is unimplemented on Windows in this tree: COM-port enumeration
// requires SetupAPI calls this module does not wrap. Adapted from the
// teacher's windows.go, which returned the same shape of "unsupported here"
// error for process discovery.
func ListDevices() ([]Device, error) {
	return nil, fmt.Errorf("devicewatch: device enumeration not implemented on windows")
}

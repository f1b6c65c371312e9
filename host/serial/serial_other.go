//go:build !linux

package serial

import "fmt"

// openRaw is only available on Linux; elsewhere Open always falls
// back to the portable tarm/serial backend.
func openRaw(cfg *Config) (Port, error) {
	return nil, fmt.Errorf("serial: raw low-latency backend not available on this platform")
}

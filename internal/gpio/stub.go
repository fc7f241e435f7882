//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealBank is not available on non-Linux platforms.
type RealBank struct{}

// NewRealBank returns an error on non-Linux platforms.
func NewRealBank(chipName string) (*RealBank, error) {
	return nil, errUnsupported
}

// WatchEdges is not implemented on non-Linux platforms.
func (b *RealBank) WatchEdges(pin int, cfg LineConfig, onEdge func()) error {
	return errUnsupported
}

// Input is not implemented on non-Linux platforms.
func (b *RealBank) Input(pin int, cfg LineConfig) (Level, error) {
	return nil, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (b *RealBank) Close() error {
	return nil
}

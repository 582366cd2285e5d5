package config

import (
	"go.uber.org/zap"
)

// PortStore is a persisted port setting owned by another program.
type PortStore interface {
	// LoadPort returns the stored port; ok is false when nothing is stored.
	LoadPort() (port uint32, ok bool, err error)
}

// StaticPort is a PortStore holding a fixed value. Zero means unset.
type StaticPort uint32

// LoadPort implements PortStore.
func (p StaticPort) LoadPort() (uint32, bool, error) {
	return uint32(p), p != 0, nil
}

// ApplyPortStore overrides Port with the stored value. Missing, unreadable
// and out-of-range values leave the current port in place.
func (c *Config) ApplyPortStore(s PortStore) {
	if s == nil {
		return
	}
	port, ok, err := s.LoadPort()
	switch {
	case err != nil:
		Logger().Debug("port store unreadable", zap.Error(err))
	case !ok:
	case !ValidPort(int(port)):
		Logger().Warn("stored port out of range", zap.Uint32("port", port))
	default:
		c.Port = int(port)
	}
}

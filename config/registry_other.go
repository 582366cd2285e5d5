//go:build !windows

package config

// SystemPortStore returns the platform's persisted port store. Only Windows
// has one.
func SystemPortStore() PortStore { return nil }

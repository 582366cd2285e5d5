package config

import (
	"golang.org/x/sys/windows/registry"
)

// Location of the port written by the host's launcher.
const (
	RegistryKey   = `Software\LegacyClonk Team\LCTwitch`
	RegistryValue = "HttpServerPort"
)

// Registry reads the port from the current user's registry hive.
type Registry struct{}

// LoadPort implements PortStore.
func (Registry) LoadPort() (uint32, bool, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, RegistryKey, registry.QUERY_VALUE)
	if err == registry.ErrNotExist {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer k.Close()

	v, _, err := k.GetIntegerValue(RegistryValue)
	if err == registry.ErrNotExist {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if v > 0xffffffff {
		return 0, false, registry.ErrUnexpectedType
	}
	return uint32(v), true, nil
}

// SystemPortStore returns the platform's persisted port store.
func SystemPortStore() PortStore { return Registry{} }

//go:build !windows || !amd64

package native

import (
	"github.com/wippyai/scriptbridge/errors"
)

// Win64 is unavailable on this target; every call fails.
type Win64 struct{}

// Call implements Caller.
func (Win64) Call(fn Func, args ...uintptr) (uintptr, error) {
	return 0, errors.Unsupported(errors.PhaseHost, "native calls require windows/amd64")
}

// NewCallback implements Callbacks.
func (Win64) NewCallback(fn any) (uintptr, error) {
	return 0, errors.Unsupported(errors.PhaseHost, "native callbacks require windows/amd64")
}

// CurrentModule is unavailable on this target.
func CurrentModule() (Module, error) {
	return Module{}, errors.Unsupported(errors.PhaseHost, "module discovery requires windows/amd64")
}

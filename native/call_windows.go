//go:build windows && amd64

package native

import (
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/wippyai/scriptbridge/errors"
)

// Win64 calls native functions with the Microsoft x64 convention. ConvMember
// shares it on this target.
type Win64 struct{}

// Call implements Caller.
func (Win64) Call(fn Func, args ...uintptr) (uintptr, error) {
	if err := checkCallable(fn); err != nil {
		return 0, err
	}
	r1, _, _ := syscall.SyscallN(fn.Addr, args...)
	return r1, nil
}

// NewCallback implements Callbacks. The number of callbacks per process is
// limited by the Go runtime; the bridge creates a fixed handful at startup.
func (Win64) NewCallback(fn any) (addr uintptr, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Detail("callback: %v", r).
				Build()
		}
	}()
	return windows.NewCallback(fn), nil
}

// CurrentModule describes the executable image of the current process.
func CurrentModule() (Module, error) {
	var handle windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &handle); err != nil {
		return Module{}, errors.Wrap(errors.PhaseHost, errors.KindOSStatus, err, "GetModuleHandleEx")
	}

	buf := make([]uint16, windows.MAX_PATH)
	n, err := windows.GetModuleFileName(handle, &buf[0], uint32(len(buf)))
	if err != nil {
		return Module{}, errors.Wrap(errors.PhaseHost, errors.KindOSStatus, err, "GetModuleFileName")
	}
	if n == 0 || n >= uint32(len(buf)) {
		return Module{}, errors.InvalidData(errors.PhaseHost, fmt.Sprintf("module path truncated at %d characters", n))
	}

	path := windows.UTF16ToString(buf[:n])
	return Module{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
		Base: uintptr(handle),
	}, nil
}

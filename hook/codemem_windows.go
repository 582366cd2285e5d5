//go:build windows && amd64

package hook

import (
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/native"
)

const (
	allocGranularity = 0x10000
	// rel32Reach keeps trampolines addressable from the target.
	rel32Reach = 0x7fff0000
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// ProcessCode patches code in the current process.
type ProcessCode struct {
	native.Process
}

// WriteCode implements CodeMemory.
func (p ProcessCode) WriteCode(addr uintptr, code []byte) error {
	var old uint32
	size := uintptr(len(code))
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return errors.Wrap(errors.PhaseHook, errors.KindOSStatus, err, "VirtualProtect")
	}
	werr := p.Write(addr, code)
	if err := windows.VirtualProtect(addr, size, old, &old); err != nil && werr == nil {
		werr = errors.Wrap(errors.PhaseHook, errors.KindOSStatus, err, "VirtualProtect restore")
	}
	r1, _, e1 := syscall.SyscallN(procFlushInstructionCache.Addr(),
		uintptr(windows.CurrentProcess()), addr, size)
	if r1 == 0 && werr == nil {
		werr = errors.Wrap(errors.PhaseHook, errors.KindOSStatus, e1, "FlushInstructionCache")
	}
	return werr
}

// AllocCode implements CodeMemory. It probes allocation-granularity slots
// below near, then above it.
func (ProcessCode) AllocCode(near, size uintptr) (uintptr, error) {
	start := near &^ (allocGranularity - 1)
	for delta := uintptr(allocGranularity); delta < rel32Reach; delta += allocGranularity {
		for _, addr := range []uintptr{start - delta, start + delta} {
			if addr == 0 || (addr > near && addr-near >= rel32Reach) || (addr < near && near-addr >= rel32Reach) {
				continue
			}
			got, err := windows.VirtualAlloc(addr, size,
				windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_EXECUTE_READWRITE)
			if err == nil && got != 0 {
				return got, nil
			}
		}
	}
	return 0, errors.AllocationFailed(errors.PhaseHook, size)
}

// FreeCode implements CodeMemory.
func (ProcessCode) FreeCode(addr uintptr) {
	if addr == 0 {
		return
	}
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		Logger().Warn("VirtualFree failed", zap.Uintptr("addr", addr), zap.Error(err))
	}
}

//go:build windows && amd64

package locate

import (
	"golang.org/x/sys/windows"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/symbols"
)

// DbgHelp resolves "module!symbol" through the process-wide DbgHelp session.
type DbgHelp struct {
	Session *symbols.Session
}

// Locate implements Locator.
func (d DbgHelp) Locate(module, symbol string) (uintptr, error) {
	addr, err := d.Session.FromName(module + "!" + symbol)
	if err != nil {
		return 0, notFound(module, symbol, err)
	}
	if addr == 0 {
		return 0, notFound(module, symbol, nil)
	}
	return addr, nil
}

// LoadedModule returns the base address of an already loaded module.
func LoadedModule(name string) (uintptr, error) {
	var h windows.Handle
	if err := windows.GetModuleHandleEx(0, windows.StringToUTF16Ptr(name), &h); err != nil {
		e := errors.NotFound(errors.PhaseLocate, "module", name)
		e.Cause = err
		return 0, e
	}
	return uintptr(h), nil
}

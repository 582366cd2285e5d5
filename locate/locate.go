package locate

import (
	stderrors "errors"

	"github.com/wippyai/scriptbridge/errors"
)

// Locator resolves a symbol inside a named module.
type Locator interface {
	Locate(module, symbol string) (uintptr, error)
}

// Func adapts a function to the Locator interface.
type Func func(module, symbol string) (uintptr, error)

// Locate implements Locator.
func (f Func) Locate(module, symbol string) (uintptr, error) {
	return f(module, symbol)
}

// Chain tries each locator in order and returns the first address found.
type Chain []Locator

// Locate implements Locator.
func (c Chain) Locate(module, symbol string) (uintptr, error) {
	var errs []error
	for _, l := range c {
		addr, err := l.Locate(module, symbol)
		if err == nil {
			return addr, nil
		}
		errs = append(errs, err)
	}
	return 0, notFound(module, symbol, stderrors.Join(errs...))
}

func notFound(module, symbol string, cause error) *errors.Error {
	e := errors.NotFound(errors.PhaseLocate, "symbol", symbol)
	e.Type = module
	e.Cause = cause
	return e
}

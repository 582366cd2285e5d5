package simhost

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Engine evaluates script text the way the host's script engine would.
// A returned error is reported through the host's error reporter and the
// script's value is nil.
type Engine interface {
	Eval(script string) (string, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(script string) (string, error)

// Eval implements Engine.
func (f EngineFunc) Eval(script string) (string, error) { return f(script) }

// CUEEngine evaluates scripts as CUE expressions and renders the concrete
// result in CUE syntax.
type CUEEngine struct {
	mu  sync.Mutex
	ctx *cue.Context
}

// NewCUEEngine creates a CUE-backed engine.
func NewCUEEngine() *CUEEngine {
	return &CUEEngine{ctx: cuecontext.New()}
}

// Eval implements Engine.
func (e *CUEEngine) Eval(script string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.ctx.CompileString(script, cue.Filename("script"))
	if err := v.Err(); err != nil {
		return "", err
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

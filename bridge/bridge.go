package bridge

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/hook"
	"github.com/wippyai/scriptbridge/locate"
	"github.com/wippyai/scriptbridge/mainthread"
	"github.com/wippyai/scriptbridge/native"
	"github.com/wippyai/scriptbridge/symbols"
	"github.com/wippyai/scriptbridge/vtable"
)

// Platform is what the bridge needs from the process it runs in.
type Platform struct {
	Memory    scriptbridge.Memory
	Caller    native.Caller
	Callbacks native.Callbacks
	// Code is required when parse errors are captured.
	Code hook.CodeMemory
	// Threads are registered with the hook transaction.
	Threads   []hook.Thread
	Symbols   symbols.Service
	Locator   locate.Locator
	Module    native.Module
	Marshaler mainthread.Marshaler
}

// Options configures a bridge.
type Options struct {
	// ContextTag names the script context in host diagnostics.
	ContextTag string
	// CaptureParseErrors redirects the host's error reporter so failed
	// scripts are reported as parse errors.
	CaptureParseErrors bool
	// RetiredShims is how many consumed vtable copies are kept alive.
	RetiredShims int
	// CRTModule exports free.
	CRTModule string
}

// DefaultOptions returns the options used by the shipped host integration.
func DefaultOptions() Options {
	return Options{
		ContextTag:         "LCTwitch",
		CaptureParseErrors: true,
		RetiredShims:       64,
		CRTModule:          "ucrtbase",
	}
}

// Bridge is an initialized script bridge.
type Bridge struct {
	mem      scriptbridge.Memory
	calls    native.Caller
	marshal  mainthread.Marshaler
	binding  *Binding
	heap     *native.Heap
	crt      *native.CRTFree
	template *vtable.Template
	retired  *vtable.Retired
	contexts *contextTable
	tag      uintptr

	errorHook *hook.Hook
	capturing atomic.Pointer[execContext]

	closeOnce sync.Once
	closed    atomic.Bool
}

// Open resolves the host bindings and installs the bridge. It fails as a
// whole: no partially initialized bridge is returned.
func Open(p Platform, opts Options) (*Bridge, error) {
	if p.Memory == nil || p.Caller == nil || p.Callbacks == nil || p.Symbols == nil || p.Locator == nil || p.Marshaler == nil {
		return nil, errors.NotInitialized(errors.PhaseBridge, "platform")
	}
	if opts.CaptureParseErrors && p.Code == nil {
		return nil, errors.NotInitialized(errors.PhaseBridge, "code memory for the error reporter redirect")
	}
	if opts.ContextTag == "" {
		opts.ContextTag = DefaultOptions().ContextTag
	}
	if opts.CRTModule == "" {
		opts.CRTModule = DefaultOptions().CRTModule
	}

	binding, err := Resolve(symbols.NewResolver(p.Symbols, p.Module.Base), p.Locator, p.Module, ResolveOptions{
		CRTModule:     opts.CRTModule,
		CaptureErrors: opts.CaptureParseErrors,
	})
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		mem:      p.Memory,
		calls:    p.Caller,
		marshal:  p.Marshaler,
		binding:  binding,
		heap:     &native.Heap{Calls: p.Caller, New: binding.New, Delete: binding.Delete},
		crt:      &native.CRTFree{Calls: p.Caller, Fn: binding.Free},
		retired:  vtable.NewRetired(opts.RetiredShims),
		contexts: newContextTable(),
	}

	trampoline, err := p.Callbacks.NewCallback(b.execute)
	if err != nil {
		return nil, err
	}
	if b.template, err = vtable.Build(p.Memory, binding.ScriptVTable, VTableEntries, ExecuteSlot, trampoline); err != nil {
		return nil, err
	}
	if b.tag, err = scriptbridge.AllocCString(p.Memory, b.heap, opts.ContextTag); err != nil {
		return nil, errors.Wrap(errors.PhaseBridge, errors.KindAllocation, err, "context tag")
	}

	if opts.CaptureParseErrors {
		replacement, err := p.Callbacks.NewCallback(b.onScriptError)
		if err != nil {
			b.heap.Free(b.tag)
			return nil, err
		}
		hooks, err := hook.Install(p.Code, p.Threads, hook.Pair{Target: binding.ShowError.Addr, Replacement: replacement})
		if err != nil {
			b.heap.Free(b.tag)
			Logger().Error("error reporter redirect failed", zap.Error(err))
			return nil, err
		}
		b.errorHook = hooks[0]
	}

	b.hostLog("script bridge ready")
	Logger().Info("script bridge ready",
		zap.String("module", p.Module.Name),
		zap.Bool("capture_parse_errors", opts.CaptureParseErrors))
	return b, nil
}

// Binding returns the resolved host bindings.
func (b *Bridge) Binding() *Binding { return b.binding }

// Pending reports how many requests wait for the host to execute them.
func (b *Bridge) Pending() int { return b.contexts.len() }

func (b *Bridge) hostLog(msg string) {
	if !b.binding.Log.Valid() {
		return
	}
	text, err := scriptbridge.AllocCString(b.mem, b.heap, msg)
	if err != nil {
		return
	}
	defer b.heap.Free(text)
	if _, err := b.calls.Call(b.binding.Log, text); err != nil {
		Logger().Debug("host log failed", zap.Error(err))
	}
}

// RunScript executes script on the host thread and returns its value as
// text. It waits until the host executes the request or ctx ends.
func (b *Bridge) RunScript(ctx context.Context, script string) (string, error) {
	if b.closed.Load() {
		return "", internal("bridge closed", nil)
	}
	if err := b.Validate(); err != nil {
		Logger().Debug("script rejected", zap.Stringer("reason", ReasonOf(err)))
		return "", err
	}
	if strings.IndexByte(script, 0) >= 0 {
		return "", internal("script contains a NUL byte", nil)
	}

	c := b.contexts.open()
	if err := b.marshal.Post(func() { b.submit(c, script) }); err != nil {
		b.contexts.take(c.id)
		return "", internal("post to host thread", err)
	}

	select {
	case o := <-c.reply:
		Logger().Debug("script finished",
			zap.Uintptr("context", c.id),
			zap.Stringer("reason", reasonOrNone(o.err)))
		return o.result, o.err
	case <-ctx.Done():
		Logger().Debug("script abandoned", zap.Uintptr("context", c.id), zap.Error(ctx.Err()))
		return "", internal("request ended before the host executed the script", ctx.Err())
	}
}

type noReason struct{}

func (noReason) String() string { return "none" }

func reasonOrNone(err error) interface{ String() string } {
	if err == nil {
		return noReason{}
	}
	return ReasonOf(err)
}

// fail resolves a context that never reached the host's packet queue.
func (b *Bridge) fail(c *execContext, detail string, err error) {
	Logger().Error("script submission failed", zap.String("step", detail), zap.Error(err))
	if _, ok := b.contexts.take(c.id); ok {
		c.resolve(outcome{err: internal(detail, err)})
	}
}

// submit builds a control packet and hands it to the host. Host thread only.
func (b *Bridge) submit(c *execContext, script string) {
	bind := b.binding
	rec, err := b.heap.Alloc(bind.ControlScriptSize)
	if err != nil {
		b.fail(c, "allocate control packet", err)
		return
	}
	if err := b.buildPacket(c, rec, script); err != nil {
		if c.shim != nil {
			c.shim.Free()
		}
		b.heap.Free(rec)
		b.fail(c, "build control packet", err)
		return
	}
	if _, err := b.calls.Call(bind.DoInput, bind.GameControl, packetScript, rec, deliveryDecide); err != nil {
		b.fail(c, "submit control packet", err)
	}
}

func (b *Bridge) buildPacket(c *execContext, rec uintptr, script string) error {
	bind := b.binding
	if err := scriptbridge.Zero(b.mem, rec, int(bind.ControlScriptSize)); err != nil {
		return err
	}
	if _, err := b.calls.Call(bind.Construct, rec); err != nil {
		return err
	}
	shim, err := b.template.Instantiate(b.mem, b.heap, c.id)
	if err != nil {
		return err
	}
	c.shim = shim
	if err := scriptbridge.WritePtr(b.mem, rec, shim.VPtr()); err != nil {
		return err
	}
	target := int32(noTargetObject)
	if err := b.mem.WriteU32(rec+bind.TargetObjOffset, uint32(target)); err != nil {
		return err
	}

	text, err := scriptbridge.AllocCString(b.mem, b.heap, script)
	if err != nil {
		return err
	}
	defer b.heap.Free(text)
	buf := rec + bind.ScriptOffset
	if err := b.mem.WriteU8(buf+bind.StrBuf.Ref, 1); err != nil {
		return err
	}
	if err := scriptbridge.WritePtr(b.mem, buf+bind.StrBuf.Data, text); err != nil {
		return err
	}
	if err := b.mem.WriteU64(buf+bind.StrBuf.Len, uint64(len(script)+1)); err != nil {
		return err
	}
	// The packet takes its own copy of the text.
	_, err = b.calls.Call(bind.Copy, buf)
	return err
}

// execute replaces C4ControlScript::Execute. Host thread only.
func (b *Bridge) execute(record uintptr) uintptr {
	vptr, err := scriptbridge.ReadPtr(b.mem, record)
	if err != nil {
		Logger().Error("execute on unreadable packet", zap.Uintptr("packet", record), zap.Error(err))
		return 0
	}
	id, err := vtable.ReadContext(b.mem, vptr, VTableEntries)
	if err != nil {
		Logger().Error("read shim context failed", zap.Error(err))
		return 0
	}
	c, ok := b.contexts.take(id)
	if !ok {
		Logger().Error("execute without a live context",
			zap.Uintptr("packet", record),
			zap.Uintptr("context", id))
		return 0
	}
	if err := c.shim.Clear(b.mem); err != nil {
		Logger().Warn("clear shim context failed", zap.Error(err))
	}
	b.retired.Retire(c.shim)

	result, err := b.runOnHost(c, record)
	c.resolve(outcome{result: result, err: err})
	return 0
}

func (b *Bridge) runOnHost(c *execContext, record uintptr) (string, error) {
	bind := b.binding
	script, err := scriptbridge.ReadPtr(b.mem, record+bind.ScriptOffset+bind.StrBuf.Data)
	if err != nil {
		return "", internal("read packet script", err)
	}

	value, err := b.heap.Alloc(bind.ValueSize)
	if err != nil {
		return "", internal("allocate value", err)
	}
	defer b.heap.Free(value)
	str, err := b.heap.Alloc(bind.StrBuf.Size)
	if err != nil {
		return "", internal("allocate string buffer", err)
	}
	defer b.heap.Free(str)
	if err := scriptbridge.Zero(b.mem, value, int(bind.ValueSize)); err != nil {
		return "", internal("clear value", err)
	}
	if err := scriptbridge.Zero(b.mem, str, int(bind.StrBuf.Size)); err != nil {
		return "", internal("clear string buffer", err)
	}

	b.capturing.Store(c)
	_, err = b.calls.Call(bind.DirectExec, bind.ScriptEngine, value, 0, script, b.tag, native.Bool(false), strictness)
	b.capturing.Store(nil)
	if err != nil {
		return "", internal("DirectExec", err)
	}

	if _, err := b.calls.Call(bind.GetDataString, value, str); err != nil {
		_, _ = b.calls.Call(bind.ValueDtor, value)
		return "", internal("GetDataString", err)
	}
	text, grabErr := b.calls.Call(bind.GrabPointer, str)
	if _, err := b.calls.Call(bind.StrBufDtor, str); err != nil {
		Logger().Warn("StdStrBuf destructor failed", zap.Error(err))
	}
	if _, err := b.calls.Call(bind.ValueDtor, value); err != nil {
		Logger().Warn("C4Value destructor failed", zap.Error(err))
	}
	if grabErr != nil {
		return "", internal("GrabPointer", grabErr)
	}
	defer b.crt.Free(text)

	if c.parseSeen {
		return "", &ScriptError{Reason: ReasonScriptParseError, Detail: c.parseError}
	}
	result, err := scriptbridge.ReadCString(b.mem, text)
	if stderrors.Is(err, scriptbridge.ErrInvalidUTF8) {
		return "", &ScriptError{Reason: ReasonScriptParseError, Detail: "result is not valid UTF-8", Cause: err}
	}
	if err != nil {
		return "", internal("read result", err)
	}
	return result, nil
}

// onScriptError observes C4AulError::show and calls through to it.
func (b *Bridge) onScriptError(this uintptr) uintptr {
	if c := b.capturing.Load(); c != nil {
		c.parseSeen = true
		if data, err := scriptbridge.ReadPtr(b.mem, this+b.binding.ErrorMessageOffset+b.binding.StrBuf.Data); err == nil && data != 0 {
			if msg, err := scriptbridge.ReadCString(b.mem, data); err == nil && c.parseError == "" {
				c.parseError = msg
			}
		}
	}
	original := native.Func{Name: "C4AulError::show", Addr: b.errorHook.Original(), Conv: native.ConvMember}
	r, err := b.calls.Call(original, this)
	if err != nil {
		Logger().Error("error reporter call-through failed", zap.Error(err))
	}
	return r
}

// Close removes the error reporter redirect and fails requests still waiting
// for the host. Table copies still referenced by queued packets stay
// allocated.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.errorHook != nil {
			err = b.errorHook.Close()
		}
		for _, c := range b.contexts.drain() {
			c.resolve(outcome{err: internal("bridge closed", nil)})
		}
		b.retired.Drain()
		Logger().Info("script bridge closed")
	})
	return err
}

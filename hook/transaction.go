package hook

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
)

var (
	processMu sync.Mutex
	open      *Transaction
	active    = make(map[uintptr]*Hook)
)

// Hook is an installed redirect.
type Hook struct {
	mem         CodeMemory
	target      uintptr
	replacement uintptr
	trampoline  uintptr
	saved       []byte
	reloc       *relocation
	attached    bool
}

// Target returns the redirected function.
func (h *Hook) Target() uintptr { return h.target }

// Original returns the trampoline that runs the unpatched function.
func (h *Hook) Original() uintptr { return h.trampoline }

// Attached reports whether the redirect is live.
func (h *Hook) Attached() bool {
	processMu.Lock()
	defer processMu.Unlock()
	return h.attached
}

// Close removes the redirect in a transaction of its own.
func (h *Hook) Close() error {
	if !h.Attached() {
		return nil
	}
	tx, err := Begin(h.mem)
	if err != nil {
		return err
	}
	if err := tx.Detach(h); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

type op struct {
	hook   *Hook
	attach bool
}

// Transaction batches attaches and detaches into one all-or-nothing commit.
type Transaction struct {
	mem     CodeMemory
	threads []Thread
	ops     []op
	closed  bool
}

// Begin opens the process-wide transaction.
func Begin(mem CodeMemory) (*Transaction, error) {
	processMu.Lock()
	defer processMu.Unlock()
	if open != nil {
		return nil, txError("begin", "another transaction is open")
	}
	open = &Transaction{mem: mem}
	return open, nil
}

func txError(op, detail string) *errors.Error {
	return errors.New(errors.PhaseHook, errors.KindTransaction).
		Symbol(op).
		Detail("%s", detail).
		Build()
}

func (tx *Transaction) check(op string) error {
	if tx.closed {
		return txError(op, "transaction already finished")
	}
	return nil
}

// UpdateThread registers a thread whose instruction pointer is checked and
// relocated during the commit.
func (tx *Transaction) UpdateThread(t Thread) error {
	if err := tx.check("update thread"); err != nil {
		return err
	}
	tx.threads = append(tx.threads, t)
	return nil
}

// Attach stages a redirect from target to replacement and builds its
// trampoline. On error the transaction stays open for the caller to abort.
func (tx *Transaction) Attach(target, replacement uintptr) (*Hook, error) {
	if err := tx.check("attach"); err != nil {
		return nil, err
	}
	if target == 0 || replacement == 0 {
		return nil, errors.InvalidInput(errors.PhaseHook, "attach with nil target or replacement")
	}
	processMu.Lock()
	_, busy := active[target]
	processMu.Unlock()
	for _, o := range tx.ops {
		if o.attach && o.hook.target == target {
			busy = true
		}
	}
	if busy {
		return nil, errors.New(errors.PhaseHook, errors.KindInvalidInput).
			Value(target).
			Detail("target %#x is already redirected", target).
			Build()
	}

	code, err := tx.mem.Read(target, prologueWindow)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHook, errors.KindOutOfBounds, err, "read prologue")
	}
	probe, err := relocate(code, target, target)
	if err != nil {
		return nil, err
	}
	size := uintptr(len(probe.code))
	tramp, err := tx.mem.AllocCode(target, size)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHook, errors.KindAllocation, err, "allocate trampoline")
	}
	reloc, err := relocate(code, target, tramp)
	if err != nil {
		tx.mem.FreeCode(tramp)
		return nil, err
	}
	if err := tx.mem.WriteCode(tramp, reloc.code); err != nil {
		tx.mem.FreeCode(tramp)
		return nil, errors.Wrap(errors.PhaseHook, errors.KindOSStatus, err, "write trampoline")
	}

	h := &Hook{
		mem:         tx.mem,
		target:      target,
		replacement: replacement,
		trampoline:  tramp,
		saved:       code[:reloc.consumed],
		reloc:       reloc,
	}
	tx.ops = append(tx.ops, op{hook: h, attach: true})
	return h, nil
}

// Detach stages removal of an attached redirect.
func (tx *Transaction) Detach(h *Hook) error {
	if err := tx.check("detach"); err != nil {
		return err
	}
	processMu.Lock()
	live := h.attached
	processMu.Unlock()
	if !live {
		return errors.New(errors.PhaseHook, errors.KindInvalidInput).
			Value(h.target).
			Detail("hook at %#x is not attached", h.target).
			Build()
	}
	tx.ops = append(tx.ops, op{hook: h})
	return nil
}

// Abort discards every staged operation.
func (tx *Transaction) Abort() {
	if tx.closed {
		return
	}
	for _, o := range tx.ops {
		if o.attach {
			tx.mem.FreeCode(o.hook.trampoline)
		}
	}
	tx.finish()
}

func (tx *Transaction) finish() {
	tx.closed = true
	tx.ops = nil
	processMu.Lock()
	if open == tx {
		open = nil
	}
	processMu.Unlock()
}

func (o op) bytes() []byte {
	if o.attach {
		return patchBytes(o.hook.replacement, o.hook.reloc.consumed)
	}
	return o.hook.saved
}

func (o op) undo() []byte {
	if o.attach {
		return o.hook.saved
	}
	return patchBytes(o.hook.replacement, o.hook.reloc.consumed)
}

// Commit applies every staged operation. If any write fails, the ones
// already applied are reverted and the transaction is closed.
func (tx *Transaction) Commit() error {
	if err := tx.check("commit"); err != nil {
		return err
	}

	suspended, err := tx.suspend()
	defer resume(suspended)
	if err != nil {
		tx.Abort()
		return err
	}

	for i, o := range tx.ops {
		if err := tx.mem.WriteCode(o.hook.target, o.bytes()); err != nil {
			for j := i - 1; j >= 0; j-- {
				prev := tx.ops[j]
				if rerr := tx.mem.WriteCode(prev.hook.target, prev.undo()); rerr != nil {
					Logger().Error("revert failed",
						zap.Uintptr("target", prev.hook.target),
						zap.Error(rerr))
				}
			}
			Logger().Warn("commit failed, transaction rolled back",
				zap.Uintptr("target", o.hook.target),
				zap.Int("reverted", i),
				zap.Error(err))
			tx.Abort()
			return errors.New(errors.PhaseHook, errors.KindTransaction).
				Symbol("commit").
				Value(o.hook.target).
				Detail("patch %#x", o.hook.target).
				Cause(err).
				Build()
		}
	}

	for _, t := range suspended {
		tx.relocateThread(t)
	}

	processMu.Lock()
	for _, o := range tx.ops {
		o.hook.attached = o.attach
		if o.attach {
			active[o.hook.target] = o.hook
		} else {
			delete(active, o.hook.target)
		}
	}
	processMu.Unlock()

	for _, o := range tx.ops {
		if !o.attach {
			tx.mem.FreeCode(o.hook.trampoline)
		}
		Logger().Debug("hook committed",
			zap.Bool("attach", o.attach),
			zap.Uintptr("target", o.hook.target),
			zap.Uintptr("trampoline", o.hook.trampoline))
	}
	tx.finish()
	return nil
}

func (tx *Transaction) suspend() ([]Thread, error) {
	var out []Thread
	for _, t := range tx.threads {
		if t.IsCurrent() {
			continue
		}
		if err := t.Suspend(); err != nil {
			return out, errors.Wrap(errors.PhaseHook, errors.KindOSStatus, err, "suspend thread")
		}
		out = append(out, t)
	}
	return out, nil
}

func resume(threads []Thread) {
	for _, t := range threads {
		if err := t.Resume(); err != nil {
			Logger().Error("resume thread failed", zap.Uint32("thread", t.ID()), zap.Error(err))
		}
	}
}

// relocateThread moves a suspended thread out of any prologue that was just
// patched or restored.
func (tx *Transaction) relocateThread(t Thread) {
	pc, err := t.PC()
	if err != nil {
		Logger().Warn("read thread pc failed", zap.Uint32("thread", t.ID()), zap.Error(err))
		return
	}
	for _, o := range tx.ops {
		h := o.hook
		var next uintptr
		var ok bool
		if o.attach {
			next, ok = h.reloc.forward(pc, h.target, h.trampoline)
		} else {
			next, ok = h.reloc.back(pc, h.target, h.trampoline)
		}
		if !ok {
			continue
		}
		if err := t.SetPC(next); err != nil {
			Logger().Warn("relocate thread pc failed", zap.Uint32("thread", t.ID()), zap.Error(err))
		}
		return
	}
}

// Pair names one redirect for Install.
type Pair struct {
	Target      uintptr
	Replacement uintptr
}

// Install attaches every pair in one transaction.
func Install(mem CodeMemory, threads []Thread, pairs ...Pair) ([]*Hook, error) {
	tx, err := Begin(mem)
	if err != nil {
		return nil, err
	}
	for _, t := range threads {
		if err := tx.UpdateThread(t); err != nil {
			tx.Abort()
			return nil, err
		}
	}
	hooks := make([]*Hook, 0, len(pairs))
	for _, p := range pairs {
		h, err := tx.Attach(p.Target, p.Replacement)
		if err != nil {
			tx.Abort()
			return nil, err
		}
		hooks = append(hooks, h)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return hooks, nil
}

package bridge

import (
	"sync"

	"github.com/wippyai/scriptbridge/vtable"
)

type outcome struct {
	result string
	err    error
}

// execContext is the state of one request between submission and the
// trampoline firing. The shim context slot holds its id, never a Go pointer.
type execContext struct {
	id    uintptr
	reply chan outcome
	shim  *vtable.Instance

	// parseError is set by the error reporter redirect; host thread only.
	parseError string
	parseSeen  bool
}

// contextTable owns live contexts. take removes the entry, so a context is
// consumed at most once.
type contextTable struct {
	mu   sync.Mutex
	next uintptr
	live map[uintptr]*execContext
}

func newContextTable() *contextTable {
	return &contextTable{next: 1, live: make(map[uintptr]*execContext)}
}

func (t *contextTable) open() *execContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &execContext{id: t.next, reply: make(chan outcome, 1)}
	t.next++
	t.live[c.id] = c
	return c
}

func (t *contextTable) take(id uintptr) (*execContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.live[id]
	if ok {
		delete(t.live, id)
	}
	return c, ok
}

func (t *contextTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// drain removes and returns every live context.
func (t *contextTable) drain() []*execContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*execContext, 0, len(t.live))
	for id, c := range t.live {
		out = append(out, c)
		delete(t.live, id)
	}
	return out
}

// resolve delivers the one outcome of a context taken from the table.
func (c *execContext) resolve(o outcome) {
	select {
	case c.reply <- o:
	default:
		Logger().Error("reply already resolved")
	}
}

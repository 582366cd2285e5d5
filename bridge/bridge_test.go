package bridge

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/scriptbridge"
	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/hook"
	"github.com/wippyai/scriptbridge/simhost"
)

func platform(h *simhost.Host) Platform {
	return Platform{
		Memory:    h.Arena,
		Caller:    h.Machine,
		Callbacks: h.Machine,
		Code:      h.Arena,
		Threads:   []hook.Thread{h.MainThread()},
		Symbols:   h.Image,
		Locator:   h.Image,
		Module:    h.Module(),
		Marshaler: h.Loop,
	}
}

func open(t *testing.T, h *simhost.Host, opts Options) *Bridge {
	t.Helper()
	b, err := Open(platform(h), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func run(t *testing.T, b *Bridge, script string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.RunScript(ctx, script)
}

func TestRunScript_ReturnsValue(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	b := open(t, h, DefaultOptions())

	tests := []struct {
		script string
		want   string
	}{
		{"1+1", "2"},
		{"20+22", "42"},
		{`"clonk"`, "clonk"},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			got, err := run(t, b, tt.script)
			if err != nil {
				t.Fatalf("RunScript: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
		})
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d", b.Pending())
	}
}

func TestRunScript_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *simhost.Host)
		want  Reason
	}{
		{"no scenario", func(h *simhost.Host) { h.SetRunning(false) }, ReasonNoScenario},
		{"network client", func(h *simhost.Host) { h.SetNetwork(true, false) }, ReasonNotHost},
		{"replay", func(h *simhost.Host) { h.SetReplay(true) }, ReasonNoScriptingInReplays},
		{"league", func(h *simhost.Host) { h.SetLeagueAddress("league.clonkspot.org") }, ReasonLeagueActive},
		{"client in league", func(h *simhost.Host) {
			h.SetNetwork(true, false)
			h.SetLeagueAddress("league.clonkspot.org")
		}, ReasonNotHost},
		{"stopped replay in league", func(h *simhost.Host) {
			h.SetRunning(false)
			h.SetReplay(true)
			h.SetLeagueAddress("league.clonkspot.org")
		}, ReasonNoScenario},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := simhost.New(simhost.Options{})
			defer h.Close()
			b := open(t, h, DefaultOptions())
			tt.setup(h)
			posts := h.Posts()

			_, err := run(t, b, "1+1")
			if err == nil {
				t.Fatal("expected a rejection")
			}
			if got := ReasonOf(err); got != tt.want {
				t.Errorf("reason = %v, want %v", got, tt.want)
			}
			if !stderrors.Is(err, rejected(tt.want)) {
				t.Errorf("errors.Is failed for %v", err)
			}
			if h.Posts() != posts || h.DirectExecs() != 0 {
				t.Errorf("posts %d -> %d, direct execs %d", posts, h.Posts(), h.DirectExecs())
			}
		})
	}
}

func TestRunScript_ReplayScriptingAllowed(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	b := open(t, h, DefaultOptions())
	h.SetReplay(true)
	h.SetAllowReplayScripting(true)
	h.SetNetwork(true, true)

	got, err := run(t, b, "2*3")
	if err != nil || got != "6" {
		t.Errorf("RunScript = %q, %v", got, err)
	}
}

func TestRunScript_ParseError(t *testing.T) {
	h := simhost.New(simhost.Options{Engine: simhost.EngineFunc(func(string) (string, error) {
		return "", stderrors.New("unexpected end of script")
	})})
	defer h.Close()
	b := open(t, h, DefaultOptions())

	_, err := run(t, b, "Log(")
	if ReasonOf(err) != ReasonScriptParseError {
		t.Fatalf("reason = %v (%v)", ReasonOf(err), err)
	}
	var se *ScriptError
	if !stderrors.As(err, &se) || se.Detail != "unexpected end of script" {
		t.Errorf("error = %v", err)
	}
	if h.ErrorsShown() != 1 {
		t.Errorf("errors shown = %d", h.ErrorsShown())
	}
	// The host still reports the error itself.
	found := false
	for _, line := range h.Log() {
		if line == "ERROR: unexpected end of script" {
			found = true
		}
	}
	if !found {
		t.Errorf("host log = %v", h.Log())
	}
}

func TestRunScript_InvalidUTF8(t *testing.T) {
	h := simhost.New(simhost.Options{Engine: simhost.EngineFunc(func(string) (string, error) {
		return "\xff\xfe", nil
	})})
	defer h.Close()
	b := open(t, h, DefaultOptions())

	_, err := run(t, b, "x")
	if ReasonOf(err) != ReasonScriptParseError {
		t.Errorf("reason = %v (%v)", ReasonOf(err), err)
	}
	if !stderrors.Is(err, scriptbridge.ErrInvalidUTF8) {
		t.Errorf("cause not kept: %v", err)
	}
}

func TestRunScript_RejectsNUL(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	b := open(t, h, DefaultOptions())

	_, err := run(t, b, "1\x00+1")
	if ReasonOf(err) != ReasonInternal {
		t.Errorf("reason = %v", ReasonOf(err))
	}
	if h.DirectExecs() != 0 {
		t.Errorf("direct execs = %d", h.DirectExecs())
	}
}

func TestRunScript_NoLeaks(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	b := open(t, h, DefaultOptions())
	base := h.Arena.Live()

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := run(t, b, "1+1"); err != nil {
			t.Fatalf("RunScript: %v", err)
		}
	}
	waitFor(t, func() bool { return h.Deletes() == n })

	// One table copy per request stays retired.
	if live := h.Arena.Live(); live != base+n {
		t.Errorf("live blocks %d, want %d", live, base+n)
	}
	if b.retired.Len() != n {
		t.Errorf("retired = %d", b.retired.Len())
	}
	if _, bad := h.Arena.Frees(); bad != 0 {
		t.Errorf("bad frees = %d", bad)
	}
}

func TestRunScript_RetiredCopiesBounded(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	opts := DefaultOptions()
	opts.RetiredShims = 2
	b := open(t, h, opts)

	for i := 0; i < 4; i++ {
		if _, err := run(t, b, "1"); err != nil {
			t.Fatalf("RunScript: %v", err)
		}
	}
	if b.retired.Len() != 2 {
		t.Errorf("retired = %d", b.retired.Len())
	}
}

func TestRunScript_ContextEnds(t *testing.T) {
	release := make(chan struct{})
	h := simhost.New(simhost.Options{Engine: simhost.EngineFunc(func(string) (string, error) {
		<-release
		return "late", nil
	})})
	defer h.Close()
	b := open(t, h, DefaultOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.RunScript(ctx, "1")
	if ReasonOf(err) != ReasonInternal || !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v", err)
	}

	close(release)
	waitFor(t, func() bool { return b.Pending() == 0 && h.Deletes() == 1 })
}

func TestExecute_ConsumesContextOnce(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	b := open(t, h, DefaultOptions())

	if _, err := run(t, b, "1+1"); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	execs := h.DirectExecs()

	shim, err := b.template.Instantiate(h.Arena, b.heap, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer shim.Free()
	record, err := h.Arena.Alloc(b.binding.ControlScriptSize)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Arena.Free(record)
	if err := scriptbridge.WritePtr(h.Arena, record, shim.VPtr()); err != nil {
		t.Fatal(err)
	}

	// Neither an empty slot nor the id of the finished request reaches the
	// engine.
	for _, id := range []uintptr{0, 1} {
		slot := shim.VPtr() + VTableEntries*scriptbridge.PtrSize
		if err := scriptbridge.WritePtr(h.Arena, slot, id); err != nil {
			t.Fatal(err)
		}
		if r := b.execute(record); r != 0 {
			t.Errorf("execute = %d", r)
		}
	}
	if h.DirectExecs() != execs {
		t.Errorf("direct execs %d, want %d", h.DirectExecs(), execs)
	}
}

func TestOpen_LogsReady(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	open(t, h, DefaultOptions())

	log := h.Log()
	if len(log) == 0 || log[len(log)-1] != "script bridge ready" {
		t.Errorf("host log = %v", log)
	}
}

func TestOpen_Failures(t *testing.T) {
	tests := []struct {
		name    string
		opts    simhost.Options
		capture bool
		mutate  func(h *simhost.Host)
		want    string
	}{
		{"missing member", simhost.Options{}, true,
			func(h *simhost.Host) { h.Image.RemoveMember("C4GameControl", "eMode") }, "eMode"},
		{"broken member", simhost.Options{}, true,
			func(h *simhost.Host) { h.Image.BreakMember("C4Network2", "fHost") }, "fHost"},
		{"missing function", simhost.Options{}, true,
			func(h *simhost.Host) { h.Image.RemoveSymbol(simhost.ModuleName, "StdStrBuf::GrabPointer") }, "StdStrBuf::GrabPointer"},
		{"missing crt free", simhost.Options{}, true,
			func(h *simhost.Host) { h.Image.RemoveSymbol(simhost.CRTModule, "free") }, "free"},
		{"missing reporter", simhost.Options{}, true,
			func(h *simhost.Host) { h.Image.RemoveSymbol(simhost.ModuleName, "C4AulError::show") }, "C4AulError::show"},
		{"leaf reporter", simhost.Options{LeafErrorReporter: true}, true, nil, "hook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := simhost.New(tt.opts)
			defer h.Close()
			if tt.mutate != nil {
				tt.mutate(h)
			}
			opts := DefaultOptions()
			opts.CaptureParseErrors = tt.capture
			b, err := Open(platform(h), opts)
			if err == nil {
				b.Close()
				t.Fatal("expected Open to fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not name %q", err, tt.want)
			}
		})
	}
}

func TestOpen_WithoutCapture(t *testing.T) {
	tests := []struct {
		name   string
		opts   simhost.Options
		mutate func(h *simhost.Host)
	}{
		{"leaf reporter", simhost.Options{LeafErrorReporter: true}, nil},
		{"no reporter", simhost.Options{}, func(h *simhost.Host) {
			h.Image.RemoveSymbol(simhost.ModuleName, "C4AulError::show")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := simhost.New(tt.opts)
			defer h.Close()
			if tt.mutate != nil {
				tt.mutate(h)
			}
			opts := DefaultOptions()
			opts.CaptureParseErrors = false
			b := open(t, h, opts)

			got, err := run(t, b, "3+4")
			if err != nil || got != "7" {
				t.Errorf("RunScript = %q, %v", got, err)
			}
		})
	}
}

func TestOpen_RequiresPlatform(t *testing.T) {
	_, err := Open(Platform{}, DefaultOptions())
	if !stderrors.Is(err, errors.NotInitialized(errors.PhaseBridge, "")) {
		t.Errorf("error = %v", err)
	}
}

func TestOpen_MissingLogIsOptional(t *testing.T) {
	h := simhost.New(simhost.Options{})
	defer h.Close()
	h.Image.RemoveSymbol(simhost.ModuleName, "Log")
	b := open(t, h, DefaultOptions())
	if b.Binding().Log.Valid() {
		t.Error("Log resolved after removal")
	}
	if got, err := run(t, b, "1+1"); err != nil || got != "2" {
		t.Errorf("RunScript = %q, %v", got, err)
	}
}

func TestClose_FailsWaitingRequests(t *testing.T) {
	release := make(chan struct{})
	h := simhost.New(simhost.Options{Engine: simhost.EngineFunc(func(string) (string, error) {
		<-release
		return "late", nil
	})})
	defer h.Close()
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()
	b, err := Open(platform(h), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	// The first request blocks the host thread inside the engine; the second
	// stays queued behind it.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := b.RunScript(context.Background(), "1")
			errs <- err
		}()
	}
	waitFor(t, func() bool { return b.Pending() == 1 && h.DirectExecs() == 1 })

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errs:
		if ReasonOf(err) != ReasonInternal {
			t.Errorf("reason = %v", ReasonOf(err))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiting request not failed by Close")
	}
	if _, err := run(t, b, "1"); ReasonOf(err) != ReasonInternal {
		t.Errorf("RunScript after Close = %v", err)
	}

	unblock()
	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("executing request = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("executing request never finished")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

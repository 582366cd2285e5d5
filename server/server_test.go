package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	json "github.com/goccy/go-json"

	"github.com/wippyai/scriptbridge/bridge"
	"github.com/wippyai/scriptbridge/history"
)

// fakeRunner answers from a table keyed by script text.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]string
	errs    map[string]error
	calls   []string
	block   chan struct{}
}

func (f *fakeRunner) RunScript(ctx context.Context, script string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, script)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", &bridge.ScriptError{Reason: bridge.ReasonInternal, Detail: "request ended", Cause: ctx.Err()}
		}
	}
	if err, ok := f.errs[script]; ok {
		return "", err
	}
	return f.results[script], nil
}

func newRunner() *fakeRunner {
	return &fakeRunner{
		results: map[string]string{"1+1": "2", "GetPlayerCount()": "3"},
		errs: map[string]error{
			"scenario": &bridge.ScriptError{Reason: bridge.ReasonNoScenario},
			"client":   &bridge.ScriptError{Reason: bridge.ReasonNotHost},
			"replay":   &bridge.ScriptError{Reason: bridge.ReasonNoScriptingInReplays},
			"league":   &bridge.ScriptError{Reason: bridge.ReasonLeagueActive},
			"Log(":     &bridge.ScriptError{Reason: bridge.ReasonScriptParseError, Detail: "unexpected end of script"},
			"crash":    stderrors.New("segfault"),
		},
	}
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, ScriptPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleScript(t *testing.T) {
	s := New(newRunner())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantResult string
		wantCode   bridge.Reason
		wantMsg    string
	}{
		{"ok", `{"script":"1+1"}`, http.StatusOK, "2", 0, ""},
		{"no scenario", `{"script":"scenario"}`, http.StatusForbidden, "", bridge.ReasonNoScenario, "No scenario running"},
		{"not host", `{"script":"client"}`, http.StatusForbidden, "", bridge.ReasonNotHost, "Not host"},
		{"replay", `{"script":"replay"}`, http.StatusForbidden, "", bridge.ReasonNoScriptingInReplays, "Scripting in replays is disabled"},
		{"league", `{"script":"league"}`, http.StatusInternalServerError, "", bridge.ReasonLeagueActive, "Scripting in league games is not allowed"},
		{"parse error", `{"script":"Log("}`, http.StatusUnprocessableEntity, "", bridge.ReasonScriptParseError, "Parse error: unexpected end of script"},
		{"foreign error", `{"script":"crash"}`, http.StatusInternalServerError, "", bridge.ReasonInternal, "Internal server error"},
		{"malformed body", `{"script":`, http.StatusInternalServerError, "", bridge.ReasonInternal, "Internal server error: invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s.Handler(), tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
			if tt.wantStatus == http.StatusOK {
				var rep ScriptReply
				if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil || rep.Result != tt.wantResult {
					t.Errorf("reply = %s (%v)", rec.Body.String(), err)
				}
				return
			}
			var rep ErrorReply
			if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
				t.Fatalf("decode %s: %v", rec.Body.String(), err)
			}
			if rep.Code != tt.wantCode || rep.Message != tt.wantMsg {
				t.Errorf("reply = %+v", rep)
			}
		})
	}
}

func TestHandleScript_WireCodes(t *testing.T) {
	s := New(newRunner())
	rec := post(t, s.Handler(), `{"script":"Log("}`)
	if !strings.Contains(rec.Body.String(), `"code":5`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleScript_MethodNotAllowed(t *testing.T) {
	s := New(newRunner())
	req := httptest.NewRequest(http.MethodGet, ScriptPath, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRequestTimeout(t *testing.T) {
	r := newRunner()
	r.block = make(chan struct{})
	defer close(r.block)
	s := New(r, WithRequestTimeout(20*time.Millisecond))

	rec := post(t, s.Handler(), `{"script":"1+1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatusAndCodeMapping(t *testing.T) {
	tests := []struct {
		reason bridge.Reason
		status int
		code   connect.Code
	}{
		{bridge.ReasonNoDebugActive, http.StatusForbidden, connect.CodePermissionDenied},
		{bridge.ReasonNoScenario, http.StatusForbidden, connect.CodePermissionDenied},
		{bridge.ReasonNotHost, http.StatusForbidden, connect.CodePermissionDenied},
		{bridge.ReasonNoScriptingInReplays, http.StatusForbidden, connect.CodePermissionDenied},
		{bridge.ReasonLeagueActive, http.StatusInternalServerError, connect.CodePermissionDenied},
		{bridge.ReasonScriptParseError, http.StatusUnprocessableEntity, connect.CodeInvalidArgument},
		{bridge.ReasonInternal, http.StatusInternalServerError, connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			if got := StatusFor(tt.reason); got != tt.status {
				t.Errorf("StatusFor = %d, want %d", got, tt.status)
			}
			if got := CodeFor(tt.reason); got != tt.code {
				t.Errorf("CodeFor = %v, want %v", got, tt.code)
			}
		})
	}
}

func TestConnectClient(t *testing.T) {
	srv := httptest.NewServer(New(newRunner()).Handler())
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	got, err := c.RunScript(ctx, "GetPlayerCount()")
	if err != nil || got != "3" {
		t.Fatalf("RunScript = %q, %v", got, err)
	}

	tests := []struct {
		script string
		reason bridge.Reason
		detail string
		code   connect.Code
	}{
		{"client", bridge.ReasonNotHost, "", connect.CodePermissionDenied},
		{"Log(", bridge.ReasonScriptParseError, "unexpected end of script", connect.CodeInvalidArgument},
		{"crash", bridge.ReasonInternal, "", connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			_, err := c.RunScript(ctx, tt.script)
			if bridge.ReasonOf(err) != tt.reason {
				t.Errorf("reason = %v (%v)", bridge.ReasonOf(err), err)
			}
			var se *bridge.ScriptError
			if !stderrors.As(err, &se) || se.Detail != tt.detail {
				t.Errorf("script error = %+v", se)
			}
		})
	}

	// The raw Connect error keeps its code.
	raw := connect.NewClient[ScriptRequest, ScriptReply](srv.Client(), srv.URL+RunScriptProcedure, connect.WithCodec(Codec{}))
	_, err = raw.CallUnary(ctx, connect.NewRequest(&ScriptRequest{Script: "client"}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Errorf("code = %v", connect.CodeOf(err))
	}
}

func TestHistory(t *testing.T) {
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	srv := httptest.NewServer(New(newRunner(), WithHistory(store)).Handler())
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	for _, script := range []string{"1+1", "Log(", "GetPlayerCount()"} {
		_, _ = c.RunScript(ctx, script)
	}
	rec := post(t, New(newRunner(), WithHistory(store)).Handler(), `{"script":"client"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}

	entries, err := c.History(ctx, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Script != "client" || entries[0].Code != bridge.ReasonNotHost || entries[0].Message != "Not host" {
		t.Errorf("newest = %+v", entries[0])
	}
	if entries[2].Code != bridge.ReasonScriptParseError {
		t.Errorf("parse entry = %+v", entries[2])
	}
	if entries[3].Result != "2" || entries[3].Message != "" {
		t.Errorf("oldest = %+v", entries[3])
	}

	limited, err := c.History(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("limited history = %v, %v", limited, err)
	}

	resp, err := srv.Client().Get(srv.URL + HistoryPath + "?limit=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}
}

func TestHistory_DisabledWithoutStore(t *testing.T) {
	s := New(newRunner())
	req := httptest.NewRequest(http.MethodGet, HistoryPath, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := New(newRunner())
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	c := NewClient("http://"+ln.Addr().String(), nil)
	if got, err := c.RunScript(context.Background(), "1+1"); err != nil || got != "2" {
		t.Errorf("RunScript = %q, %v", got, err)
	}
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// Package server exposes a script runner over HTTP.
//
// Two front-ends share one runner: the REST endpoint the stream tooling
// talks to (POST /v1/action/script) and a Connect procedure using a JSON
// codec for scriptctl. When a history store is configured every request is
// recorded and GET /v1/history lists them.
package server

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"connectrpc.com/connect"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/bridge"
	"github.com/wippyai/scriptbridge/history"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Runner executes scripts. *bridge.Bridge implements it.
type Runner interface {
	RunScript(ctx context.Context, script string) (string, error)
}

// History stores and lists finished requests. *history.Store implements it.
type History interface {
	history.Recorder
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Option configures a Server.
type Option func(*Server)

// WithRequestTimeout bounds each request. Zero waits until the client
// disconnects.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithHistory records every request in h.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// Server serves the script endpoints.
type Server struct {
	runner  Runner
	history History
	timeout time.Duration
	mux     *http.ServeMux
}

// New creates a server for r.
func New(r Runner, opts ...Option) *Server {
	s := &Server{runner: r, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST "+ScriptPath, s.handleScript)
	s.mux.Handle(RunScriptProcedure, connect.NewUnaryHandler(
		RunScriptProcedure,
		s.runScriptRPC,
		connect.WithCodec(Codec{}),
	))
	if s.history != nil {
		s.mux.HandleFunc("GET "+HistoryPath, s.handleHistory)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	Logger().Info("script server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; !stderrors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	Logger().Info("script server stopped")
	return err
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// run executes one script and records the outcome.
func (s *Server) run(ctx context.Context, script string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := s.runner.RunScript(ctx, script)
	elapsed := time.Since(start)

	Logger().Debug("script request",
		zap.Int("script_bytes", len(script)),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))

	if s.history != nil {
		e := history.Entry{Time: start, Script: script, Result: result, Duration: elapsed}
		if err != nil {
			rep := errorReply(err)
			e.Code, e.Message = int(rep.Code), rep.Message
		}
		// The caller's context may already be done; recording must not depend on it.
		if herr := s.history.Record(context.WithoutCancel(ctx), e); herr != nil {
			Logger().Warn("history record failed", zap.Error(herr))
		}
	}
	return result, err
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	var req ScriptRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err == nil {
		err = json.Unmarshal(data, &req)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorReply{
			Code:    bridge.ReasonInternal,
			Message: bridge.ReasonInternal.Message() + ": invalid request body",
		})
		return
	}

	result, err := s.run(r.Context(), req.Script)
	if err != nil {
		rep := errorReply(err)
		writeJSON(w, StatusFor(rep.Code), rep)
		return
	}
	writeJSON(w, http.StatusOK, ScriptReply{Result: result})
}

func (s *Server) runScriptRPC(ctx context.Context, req *connect.Request[ScriptRequest]) (*connect.Response[ScriptReply], error) {
	result, err := s.run(ctx, req.Msg.Script)
	if err != nil {
		rep := errorReply(err)
		cerr := connect.NewError(CodeFor(rep.Code), stderrors.New(rep.Message))
		cerr.Meta().Set(reasonHeader, strconv.Itoa(int(rep.Code)))
		return nil, cerr
	}
	return connect.NewResponse(&ScriptReply{Result: result}), nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorReply{Code: bridge.ReasonInternal, Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		Logger().Error("history list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorReply{Code: bridge.ReasonInternal, Message: bridge.ReasonInternal.Message()})
		return
	}
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntry{
			ID:         e.ID,
			Time:       e.Time,
			Script:     e.Script,
			Result:     e.Result,
			Code:       bridge.Reason(e.Code),
			Message:    e.Message,
			DurationMS: float64(e.Duration) / float64(time.Millisecond),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		Logger().Error("encode reply failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

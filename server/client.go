package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"connectrpc.com/connect"
	json "github.com/goccy/go-json"

	"github.com/wippyai/scriptbridge/bridge"
)

// Client talks to a Server.
type Client struct {
	base string
	http *http.Client
	rpc  *connect.Client[ScriptRequest, ScriptReply]
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimSuffix(baseURL, "/")
	return &Client{
		base: base,
		http: httpClient,
		rpc: connect.NewClient[ScriptRequest, ScriptReply](
			httpClient,
			base+RunScriptProcedure,
			connect.WithCodec(Codec{}),
		),
	}
}

// RunScript runs script through the Connect procedure. Failures reported by
// the bridge come back as *bridge.ScriptError.
func (c *Client) RunScript(ctx context.Context, script string) (string, error) {
	res, err := c.rpc.CallUnary(ctx, connect.NewRequest(&ScriptRequest{Script: script}))
	if err != nil {
		var cerr *connect.Error
		if stderrors.As(err, &cerr) {
			if v := cerr.Meta().Get(reasonHeader); v != "" {
				if n, perr := strconv.Atoi(v); perr == nil {
					return "", &remoteError{reason: bridge.Reason(n), message: cerr.Message()}
				}
			}
		}
		return "", err
	}
	return res.Msg.Result, nil
}

// remoteError is a script failure reported by the server.
type remoteError struct {
	reason  bridge.Reason
	message string
}

func (e *remoteError) Error() string { return e.message }

// As exposes the failure as a ScriptError carrying the server's message.
func (e *remoteError) As(target any) bool {
	se, ok := target.(**bridge.ScriptError)
	if !ok {
		return false
	}
	detail := strings.TrimPrefix(strings.TrimPrefix(e.message, e.reason.Message()), ": ")
	*se = &bridge.ScriptError{Reason: e.reason, Detail: detail}
	return true
}

// History fetches up to limit recorded requests, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	url := fmt.Sprintf("%s%s?limit=%d", c.base, HistoryPath, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: %s", resp.Status)
	}
	var out []HistoryEntry
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out, nil
}

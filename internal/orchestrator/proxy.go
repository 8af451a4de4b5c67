package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/observability"
)

// Hop-by-hop headers are scrubbed in both directions; they describe the
// connection between two peers, not the request itself.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type ProxyRequest struct {
	WorkspaceID string
	Port        int
	Method      string
	Path        string
	Query       string
	Headers     http.Header
	Body        []byte
}

type ProxyResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Proxy forwards an HTTP request to a service listening inside the workspace
// container. Redirects are not followed; redirect handling belongs to the
// caller. Connection failures and timeouts translate into distinct errors so
// callers can tell "nothing is listening" from "it's too slow".
func (o *Orchestrator) Proxy(ctx context.Context, req ProxyRequest) (*ProxyResponse, error) {
	ws, err := o.resolveWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if ws.Status != core.StatusRunning {
		observability.ProxyRequestsTotal.WithLabelValues("not_running").Inc()
		return nil, core.Errorf(core.ErrPrecondition,
			"workspace %s is not running (status %s)", req.WorkspaceID, ws.Status)
	}

	target := url.URL{
		Scheme:   "http",
		Host:     fmt.Sprintf("%s:%d", ws.Host, req.Port),
		Path:     req.Path,
		RawQuery: req.Query,
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, core.Errorf(core.ErrBadRequest, "proxy request: %v", err)
	}
	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = http.Header{}
	}
	for _, h := range hopByHopHeaders {
		httpReq.Header.Del(h)
	}

	client := &http.Client{
		Timeout: o.cfg.ProxyTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, o.classifyProxyError(req, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ProxyRequestsTotal.WithLabelValues("error").Inc()
		return nil, core.Errorf(core.ErrUnreachable,
			"workspace %s: reading response from port %d: %v", req.WorkspaceID, req.Port, err)
	}

	headers := resp.Header.Clone()
	for _, h := range hopByHopHeaders {
		headers.Del(h)
	}
	// The transport already decoded the body; the encoding headers no
	// longer describe it.
	headers.Del("Content-Encoding")
	headers.Del("Content-Length")

	observability.ProxyRequestsTotal.WithLabelValues("ok").Inc()
	return &ProxyResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    body,
	}, nil
}

func (o *Orchestrator) classifyProxyError(req ProxyRequest, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		observability.ProxyRequestsTotal.WithLabelValues("timeout").Inc()
		return core.Errorf(core.ErrTimeout,
			"workspace %s: request to port %d timed out after %s", req.WorkspaceID, req.Port, o.cfg.ProxyTimeout)
	case errors.Is(err, syscall.ECONNREFUSED):
		observability.ProxyRequestsTotal.WithLabelValues("refused").Inc()
		return core.Errorf(core.ErrUnreachable,
			"workspace %s: no service listening on port %d", req.WorkspaceID, req.Port)
	default:
		observability.ProxyRequestsTotal.WithLabelValues("error").Inc()
		return core.Errorf(core.ErrUnreachable,
			"workspace %s: request to port %d failed: %v", req.WorkspaceID, req.Port, err)
	}
}

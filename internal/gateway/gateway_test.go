package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/orchestrator"
	"github.com/hearthbox/hearth/internal/registry"
	"github.com/hearthbox/hearth/internal/runtime"
)

func TestHealthHandler(t *testing.T) {
	g := NewGateway(nil, nil, zap.NewNop())
	r := g.Router()

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("expected body OK, got %s", w.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, core.NewAppError(core.ErrBadRequest, "test error"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp.Code != "HEARTH_BAD_REQUEST" {
		t.Errorf("expected code HEARTH_BAD_REQUEST, got %s", resp.Code)
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"key": "value"}
	WriteJSON(w, http.StatusOK, data)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp["key"] != "value" {
		t.Errorf("expected key=value, got %v", resp)
	}
}

// proxyGateway wires a gateway around a workspace whose container address
// points at the given upstream test server.
func proxyGateway(t *testing.T, upstream *httptest.Server, status core.WorkspaceStatus) (*Gateway, string, int) {
	t.Helper()

	u := upstream.Listener.Addr().(*net.TCPAddr)

	reg := registry.NewMemory()
	ws := &core.Workspace{
		ID:           "ws-gwtest0000000000000",
		UserID:       "u1",
		SessionID:    "s1",
		Status:       status,
		Tier:         core.TierStarter,
		Host:         "127.0.0.1",
		Port:         u.Port,
		ContainerID:  "c1",
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := reg.Save(context.Background(), ws); err != nil {
		t.Fatalf("save workspace: %s", err)
	}

	orch := orchestrator.New(reg, runtime.NewFake(), orchestrator.Collaborators{}, orchestrator.Config{}, zap.NewNop())
	return NewGateway(orch, nil, zap.NewNop()), ws.ID, u.Port
}

func TestProxyHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/items" {
			t.Errorf("upstream got path %s", r.URL.Path)
		}
		if r.URL.RawQuery != "limit=5" {
			t.Errorf("upstream got query %s", r.URL.RawQuery)
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	g, wsid, port := proxyGateway(t, upstream, core.StatusRunning)
	r := g.Router()

	req := httptest.NewRequest("POST", "/workspaces/"+wsid+"/proxy/"+strconv.Itoa(port)+"/api/items?limit=5",
		strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Upstream") != "yes" {
		t.Errorf("upstream header not relayed")
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestProxyHandlerNotRunning(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be reached")
	}))
	defer upstream.Close()

	g, wsid, port := proxyGateway(t, upstream, core.StatusStopped)
	r := g.Router()

	req := httptest.NewRequest("GET", "/workspaces/"+wsid+"/proxy/"+strconv.Itoa(port)+"/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("expected status 412, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp.Code != "HEARTH_PRECONDITION_FAILED" {
		t.Errorf("expected code HEARTH_PRECONDITION_FAILED, got %s", resp.Code)
	}
}

func TestProxyHandlerBadPort(t *testing.T) {
	g := NewGateway(nil, nil, zap.NewNop())
	r := g.Router()

	req := httptest.NewRequest("GET", "/workspaces/ws-x/proxy/99999/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestProxyHandlerUnknownWorkspace(t *testing.T) {
	reg := registry.NewMemory()
	orch := orchestrator.New(reg, runtime.NewFake(), orchestrator.Collaborators{}, orchestrator.Config{}, zap.NewNop())
	g := NewGateway(orch, nil, zap.NewNop())
	r := g.Router()

	req := httptest.NewRequest("GET", "/workspaces/ws-missing/proxy/8080/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

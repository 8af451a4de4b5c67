package gateway

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/gateway/middleware"
	"github.com/hearthbox/hearth/internal/orchestrator"
)

// maxProxyBodyBytes caps the request body buffered for forwarding.
const maxProxyBodyBytes = 32 << 20

type Gateway struct {
	orch *orchestrator.Orchestrator
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewGateway(orch *orchestrator.Orchestrator, pool *pgxpool.Pool, log *zap.Logger) *Gateway {
	return &Gateway{
		orch: orch,
		pool: pool,
		log:  log,
	}
}

func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(g.log))
	r.Use(middleware.Logger)

	// Health endpoints
	r.Get("/healthz", g.HealthHandler)
	r.Get("/readyz", g.ReadyHandler)

	// Workspace service proxy. All methods pass through.
	r.HandleFunc("/workspaces/{wsid}/proxy/{port}", g.ProxyHandler)
	r.HandleFunc("/workspaces/{wsid}/proxy/{port}/*", g.ProxyHandler)

	return r
}

// HealthHandler returns 200 if service is healthy.
func (g *Gateway) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ReadyHandler returns 200 if service is ready to accept requests.
func (g *Gateway) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity
	if g.pool != nil {
		if err := g.pool.Ping(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ProxyHandler forwards the request to a service inside the workspace
// container and relays the response verbatim, including error statuses
// from the upstream service.
func (g *Gateway) ProxyHandler(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil || port < 1 || port > 65535 {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid port"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodyBytes))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "failed to read request body"))
		return
	}

	rest := chi.URLParam(r, "*")
	resp, err := g.orch.Proxy(r.Context(), orchestrator.ProxyRequest{
		WorkspaceID: wsid,
		Port:        port,
		Method:      r.Method,
		Path:        "/" + rest,
		Query:       r.URL.RawQuery,
		Headers:     r.Header,
		Body:        body,
	})
	if err != nil {
		g.log.Warn("proxy request failed",
			zap.String("workspace_id", wsid),
			zap.Int("port", port),
			zap.Error(err),
		)
		WriteError(w, asAppError(err))
		return
	}

	for k, vals := range resp.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

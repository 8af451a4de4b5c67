package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearthbox/hearth/internal/core"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE SCHEMA IF NOT EXISTS hearth;
CREATE TABLE IF NOT EXISTS hearth.workspaces (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	status          TEXT NOT NULL,
	tier            TEXT NOT NULL,
	host            TEXT NOT NULL DEFAULT '',
	port            INT NOT NULL DEFAULT 0,
	container_id    TEXT NOT NULL DEFAULT '',
	repos           JSONB NOT NULL DEFAULT '[]'::jsonb,
	metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
	billing_at      TIMESTAMPTZ,
	billing_pending BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS workspaces_user_idx ON hearth.workspaces (user_id);
CREATE INDEX IF NOT EXISTS workspaces_session_idx ON hearth.workspaces (session_id);
CREATE INDEX IF NOT EXISTS workspaces_status_idx ON hearth.workspaces (status);
`

const workspaceColumns = `id, user_id, session_id, status, tier, host, port, container_id,
	repos, metadata, billing_at, billing_pending, created_at, last_activity`

// Postgres is the shared Registry used by production deployments. All reads
// go to the database; nothing is cached in process.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the hearth schema and workspace table if missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate registry: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*core.Workspace, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM hearth.workspaces WHERE id = $1`, id)
	ws, err := scanWorkspace(row)
	if err == pgx.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", id, err)
	}
	return ws, nil
}

func (p *Postgres) Save(ctx context.Context, ws *core.Workspace) error {
	repos, err := json.Marshal(ws.Repos)
	if err != nil {
		return fmt.Errorf("marshal repos: %w", err)
	}
	meta, err := json.Marshal(ws.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var billingAt *time.Time
	if !ws.Billing.At.IsZero() {
		billingAt = &ws.Billing.At
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO hearth.workspaces (`+workspaceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			session_id = EXCLUDED.session_id,
			status = EXCLUDED.status,
			tier = EXCLUDED.tier,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			container_id = EXCLUDED.container_id,
			repos = EXCLUDED.repos,
			metadata = EXCLUDED.metadata,
			billing_at = EXCLUDED.billing_at,
			billing_pending = EXCLUDED.billing_pending,
			last_activity = EXCLUDED.last_activity`,
		ws.ID, ws.UserID, ws.SessionID, string(ws.Status), string(ws.Tier),
		ws.Host, ws.Port, ws.ContainerID, repos, meta,
		billingAt, ws.Billing.Pending, ws.CreatedAt, ws.LastActivity)
	if err != nil {
		return fmt.Errorf("save workspace %s: %w", ws.ID, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM hearth.workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workspace %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (p *Postgres) ListAll(ctx context.Context) ([]*core.Workspace, error) {
	return p.query(ctx, `SELECT `+workspaceColumns+` FROM hearth.workspaces ORDER BY created_at`)
}

func (p *Postgres) ListRunning(ctx context.Context) ([]*core.Workspace, error) {
	return p.query(ctx,
		`SELECT `+workspaceColumns+` FROM hearth.workspaces WHERE status = $1 ORDER BY created_at`,
		string(core.StatusRunning))
}

func (p *Postgres) ListByUser(ctx context.Context, userID string) ([]*core.Workspace, error) {
	return p.query(ctx,
		`SELECT `+workspaceColumns+` FROM hearth.workspaces WHERE user_id = $1 ORDER BY created_at`,
		userID)
}

func (p *Postgres) ListBySession(ctx context.Context, sessionID string) ([]*core.Workspace, error) {
	return p.query(ctx,
		`SELECT `+workspaceColumns+` FROM hearth.workspaces WHERE session_id = $1 ORDER BY created_at`,
		sessionID)
}

func (p *Postgres) Heartbeat(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE hearth.workspaces SET last_activity = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("heartbeat workspace %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (p *Postgres) query(ctx context.Context, sql string, args ...any) ([]*core.Workspace, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*core.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func scanWorkspace(row pgx.Row) (*core.Workspace, error) {
	var (
		ws        core.Workspace
		status    string
		tier      string
		repos     []byte
		meta      []byte
		billingAt *time.Time
	)
	err := row.Scan(&ws.ID, &ws.UserID, &ws.SessionID, &status, &tier,
		&ws.Host, &ws.Port, &ws.ContainerID, &repos, &meta,
		&billingAt, &ws.Billing.Pending, &ws.CreatedAt, &ws.LastActivity)
	if err != nil {
		return nil, err
	}
	ws.Status = core.WorkspaceStatus(status)
	ws.Tier = core.Tier(tier)
	if billingAt != nil {
		ws.Billing.At = *billingAt
	}
	if err := json.Unmarshal(repos, &ws.Repos); err != nil {
		return nil, fmt.Errorf("unmarshal repos: %w", err)
	}
	if err := json.Unmarshal(meta, &ws.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &ws, nil
}

package orchestrator

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/observability"
	"github.com/hearthbox/hearth/internal/runtime"
)

// Metadata keys written by the engine. The *_error keys record degraded
// provisioning so callers can surface warnings without the operation failing.
const (
	metaRestoreError     = "restore_error"
	metaSyncError        = "sync_error"
	metaDotfilesError    = "dotfiles_error"
	metaGitIdentityError = "git_identity_error"
	metaCloneErrors      = "clone_errors"
	metaPostInitError    = "post_init_error"
	metaGatewayError     = "gateway_error"
	metaRediscovered     = "rediscovered"
	metaStaleDiscovery   = "stale_discovery"
	metaGitUserName      = "git_user_name"
	metaGitUserEmail     = "git_user_email"
	metaDotfilesPaths    = "dotfiles_paths"
)

// Env key carrying an access token for cloning private repositories.
const envGitToken = "GIT_ACCESS_TOKEN"

var (
	// repoURLPattern is deliberately strict: clone URLs are interpolated
	// into shell commands, so anything outside this alphabet is rejected
	// rather than escaped.
	repoURLPattern = regexp.MustCompile(`^https://[A-Za-z0-9][A-Za-z0-9.-]*(:[0-9]+)?(/[A-Za-z0-9._-]+)+(\.git)?$`)
	tokenPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

type CreateRequest struct {
	// WorkspaceID is optional; one is generated when empty.
	WorkspaceID string
	UserID      string
	SessionID   string
	Tier        core.Tier
	// Image overrides the configured workspace image.
	Image            string
	Repos            []string
	Env              map[string]string
	GitUserName      string
	GitUserEmail     string
	DotfilesPaths    []string
	PostInitCommands []string
}

// CreateWorkspace provisions a new workspace container and registry record.
// Container start and record persistence are fatal; everything after that is
// best-effort and annotates metadata on failure so the caller can surface
// degraded provisioning.
func (o *Orchestrator) CreateWorkspace(ctx context.Context, req CreateRequest) (*core.Workspace, error) {
	start := time.Now()
	id := req.WorkspaceID
	if id == "" {
		id = core.NewWorkspaceID()
	}
	log := observability.WorkspaceLogger(o.log, id, "create")

	// Fleet-wide soft admission control, checked before any container work.
	running, err := o.reg.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: count running: %w", id, err)
	}
	if len(running) >= o.cfg.MaxWorkspaces {
		observability.CapacityRejections.Inc()
		return nil, core.Errorf(core.ErrCapacity,
			"workspace capacity reached (%d running, max %d)", len(running), o.cfg.MaxWorkspaces)
	}

	if !req.Tier.Valid() {
		log.Warn("unknown tier, falling back to STARTER limits", zap.String("tier", string(req.Tier)))
	}
	limits := core.Limits(req.Tier)

	// Remove any stale container left behind by a previously failed attempt.
	name := runtime.ContainerName(id)
	if stale, err := o.rt.FindByName(ctx, name); err == nil {
		log.Warn("removing stale container from previous attempt", zap.String("container_id", stale.ID))
		if err := o.rt.Remove(ctx, stale.ID, true); err != nil && !core.IsNotFound(err) {
			return nil, fmt.Errorf("workspace %s: remove stale container: %w", id, err)
		}
	}

	image := req.Image
	if image == "" {
		image = o.cfg.Image
	}
	containerID, err := o.rt.Create(ctx, runtime.ContainerSpec{
		Name:  name,
		Image: image,
		Labels: map[string]string{
			runtime.LabelWorkspace: id,
			runtime.LabelUser:      req.UserID,
			runtime.LabelSession:   req.SessionID,
			runtime.LabelTier:      string(req.Tier),
		},
		Limits:      limits,
		Env:         envList(req.Env),
		WorkDir:     o.cfg.WorkDir,
		GatewayPort: o.cfg.GatewayPort,
	})
	if err != nil {
		observability.ProvisionsTotal.WithLabelValues(string(req.Tier), "error").Inc()
		return nil, fmt.Errorf("workspace %s: start container: %w", id, err)
	}

	info, err := o.rt.Inspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: inspect container: %w", id, err)
	}

	now := o.now()
	ws := &core.Workspace{
		ID:           id,
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		Status:       core.StatusRunning,
		Tier:         req.Tier,
		Host:         info.IP,
		Port:         o.cfg.GatewayPort,
		ContainerID:  containerID,
		Repos:        append([]string(nil), req.Repos...),
		Billing:      core.BillingCursor{At: now},
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     map[string]string{},
	}
	// Carried forward so scale/restart can reproduce the workspace.
	if req.GitUserName != "" {
		ws.SetMeta(metaGitUserName, req.GitUserName)
	}
	if req.GitUserEmail != "" {
		ws.SetMeta(metaGitUserEmail, req.GitUserEmail)
	}
	if len(req.DotfilesPaths) > 0 {
		ws.SetMeta(metaDotfilesPaths, strings.Join(req.DotfilesPaths, ","))
	}

	if err := o.reg.Save(ctx, ws); err != nil {
		_ = o.rt.Remove(ctx, containerID, true)
		return nil, fmt.Errorf("workspace %s: persist record: %w", id, err)
	}

	// Everything below is best-effort: a blank workspace is still usable.
	if err := o.files.RestoreWorkspace(ctx, ws); err != nil {
		log.Warn("workspace restore failed, starting blank", zap.Error(err))
		ws.SetMeta(metaRestoreError, err.Error())
	}
	if err := o.files.StartBackgroundSync(ctx, ws, req.DotfilesPaths); err != nil {
		log.Warn("background sync failed to start", zap.Error(err))
		ws.SetMeta(metaSyncError, err.Error())
	}
	if err := o.files.RestoreUserDotfiles(ctx, ws); err != nil {
		log.Warn("dotfiles restore failed", zap.Error(err))
		ws.SetMeta(metaDotfilesError, err.Error())
	}

	if _, err := o.execShell(ctx, ws, "mkdir -p "+shellQuote(o.cfg.WorkDir), o.cfg.ExecTimeout); err != nil {
		log.Warn("workdir creation failed", zap.Error(err))
	}

	o.configureGitIdentity(ctx, ws, req, log)
	tokenConfigured := o.configureGitCredentials(ctx, ws, req.Env, log)
	o.cloneRepos(ctx, ws, req.Repos, tokenConfigured, log)
	o.runPostInit(ctx, ws, req.PostInitCommands, log)

	if err := o.startGateway(ctx, ws); err != nil {
		log.Warn("helper gateway failed to start", zap.Error(err))
		ws.SetMeta(metaGatewayError, err.Error())
	}

	if err := o.reg.Save(ctx, ws); err != nil {
		return nil, fmt.Errorf("workspace %s: persist metadata: %w", id, err)
	}

	observability.ProvisionsTotal.WithLabelValues(string(req.Tier), "ok").Inc()
	observability.ProvisionDuration.Observe(time.Since(start).Seconds())
	log.Info("workspace provisioned",
		zap.String("container_id", containerID),
		zap.String("tier", string(req.Tier)),
		zap.Int("repos", len(req.Repos)))
	return ws, nil
}

func (o *Orchestrator) configureGitIdentity(ctx context.Context, ws *core.Workspace, req CreateRequest, log *zap.Logger) {
	if req.GitUserName == "" && req.GitUserEmail == "" {
		return
	}
	var parts []string
	if req.GitUserName != "" {
		parts = append(parts, "git config --global user.name "+shellQuote(req.GitUserName))
	}
	if req.GitUserEmail != "" {
		parts = append(parts, "git config --global user.email "+shellQuote(req.GitUserEmail))
	}
	if res, err := o.execShell(ctx, ws, strings.Join(parts, " && "), o.cfg.ExecTimeout); err != nil || res.ExitCode != 0 {
		log.Warn("git identity configuration failed", zap.Error(err), zap.String("stderr", execStderr(res, err)))
		ws.SetMeta(metaGitIdentityError, execStderr(res, err))
	}
}

// configureGitCredentials installs a token-backed credential helper when the
// environment carries one. Returns true when credentials were written so the
// clone step knows to scrub them afterwards.
func (o *Orchestrator) configureGitCredentials(ctx context.Context, ws *core.Workspace, env map[string]string, log *zap.Logger) bool {
	token := env[envGitToken]
	if token == "" {
		return false
	}
	if !tokenPattern.MatchString(token) {
		log.Warn("git token failed validation, skipping credential helper")
		return false
	}
	script := fmt.Sprintf(
		"printf 'https://oauth2:%s@github.com\\n' > /root/.git-credentials && git config --global credential.helper store",
		token)
	if res, err := o.execShell(ctx, ws, script, o.cfg.ExecTimeout); err != nil || res.ExitCode != 0 {
		log.Warn("git credential helper configuration failed", zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) cloneRepos(ctx context.Context, ws *core.Workspace, repos []string, scrubCredentials bool, log *zap.Logger) {
	if scrubCredentials {
		// Credentials never outlive cloning, whatever happens in between.
		defer func() {
			if _, err := o.execShell(ctx, ws, "rm -f /root/.git-credentials", o.cfg.ExecTimeout); err != nil {
				log.Warn("credential scrub failed", zap.Error(err))
			}
		}()
	}
	var failures []string
	for _, url := range repos {
		if !repoURLPattern.MatchString(url) {
			log.Warn("skipping repository with invalid URL", zap.String("url", url))
			failures = append(failures, url+": invalid URL")
			continue
		}
		dest := path.Join(o.cfg.WorkDir, repoDirName(url))
		script := "git clone " + shellQuote(url) + " " + shellQuote(dest)
		res, err := o.execShell(ctx, ws, script, o.cfg.PostInitTimeout)
		if err != nil || res.ExitCode != 0 {
			log.Warn("repository clone failed", zap.String("url", url), zap.String("stderr", execStderr(res, err)))
			failures = append(failures, url+": "+execStderr(res, err))
		}
	}
	if len(failures) > 0 {
		ws.SetMeta(metaCloneErrors, strings.Join(failures, "; "))
	}
}

func (o *Orchestrator) runPostInit(ctx context.Context, ws *core.Workspace, commands []string, log *zap.Logger) {
	for _, cmd := range commands {
		res, err := o.execShell(ctx, ws, cmd, o.cfg.PostInitTimeout)
		if err != nil || res.ExitCode != 0 {
			log.Warn("post-init command failed", zap.String("command", cmd), zap.String("stderr", execStderr(res, err)))
			ws.SetMeta(metaPostInitError, cmd+": "+execStderr(res, err))
		}
	}
}

// startGateway launches the in-container helper process detached.
func (o *Orchestrator) startGateway(ctx context.Context, ws *core.Workspace) error {
	_, err := o.rt.Exec(ctx, ws.ContainerID,
		[]string{"/bin/sh", "-c", o.cfg.GatewayCommand},
		runtime.ExecOptions{WorkDir: o.cfg.WorkDir, Detach: true})
	return err
}

// execShell runs a shell script inside the workspace container with a
// bounded timeout.
func (o *Orchestrator) execShell(ctx context.Context, ws *core.Workspace, script string, timeout time.Duration) (runtime.ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.rt.Exec(execCtx, ws.ContainerID,
		[]string{"/bin/sh", "-c", script},
		runtime.ExecOptions{WorkDir: o.cfg.WorkDir})
}

// shellQuote wraps s in single quotes, escaping embedded quotes, so it is
// inert to the shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func repoDirName(url string) string {
	base := path.Base(url)
	return strings.TrimSuffix(base, ".git")
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}

func execStderr(res runtime.ExecResult, err error) string {
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(res.Stderr)
}

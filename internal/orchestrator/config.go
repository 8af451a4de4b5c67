package orchestrator

import "time"

type Config struct {
	MaxWorkspaces      int           `envconfig:"HEARTH_MAX_WORKSPACES" default:"50"`
	Image              string        `envconfig:"HEARTH_WORKSPACE_IMAGE" default:"hearthbox/workspace:latest"`
	WorkDir            string        `envconfig:"HEARTH_WORKSPACE_WORKDIR" default:"/workspace"`
	GatewayPort        int           `envconfig:"HEARTH_GATEWAY_PORT" default:"8088"`
	GatewayCommand     string        `envconfig:"HEARTH_GATEWAY_COMMAND" default:"hearth-agent serve"`
	BillingMinInterval time.Duration `envconfig:"HEARTH_BILLING_MIN_INTERVAL" default:"60s"`
	ExecTimeout        time.Duration `envconfig:"HEARTH_EXEC_TIMEOUT" default:"60s"`
	PostInitTimeout    time.Duration `envconfig:"HEARTH_POST_INIT_TIMEOUT" default:"300s"`
	StopTimeout        time.Duration `envconfig:"HEARTH_STOP_TIMEOUT" default:"10s"`
	DeleteSyncTimeout  time.Duration `envconfig:"HEARTH_DELETE_SYNC_TIMEOUT" default:"30s"`
	ProxyTimeout       time.Duration `envconfig:"HEARTH_PROXY_TIMEOUT" default:"30s"`
}

// withDefaults fills zero values for directly constructed configs (tests,
// embedding callers). envconfig-processed configs already carry these.
func (c Config) withDefaults() Config {
	if c.MaxWorkspaces <= 0 {
		c.MaxWorkspaces = 50
	}
	if c.Image == "" {
		c.Image = "hearthbox/workspace:latest"
	}
	if c.WorkDir == "" {
		c.WorkDir = "/workspace"
	}
	if c.GatewayPort <= 0 {
		c.GatewayPort = 8088
	}
	if c.GatewayCommand == "" {
		c.GatewayCommand = "hearth-agent serve"
	}
	if c.BillingMinInterval <= 0 {
		c.BillingMinInterval = time.Minute
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = time.Minute
	}
	if c.PostInitTimeout <= 0 {
		c.PostInitTimeout = 5 * time.Minute
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.DeleteSyncTimeout <= 0 {
		c.DeleteSyncTimeout = 30 * time.Second
	}
	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = 30 * time.Second
	}
	return c
}

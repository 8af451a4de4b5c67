package gateway

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"HEARTH_HTTP_ADDR" default:"0.0.0.0:8080"`
	DBDSN           string        `envconfig:"HEARTH_DB_DSN" required:"true"`
	MetricsAddr     string        `envconfig:"HEARTH_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"HEARTH_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"HEARTH_SHUTDOWN_TIMEOUT" default:"30s"`
	BillingInterval time.Duration `envconfig:"HEARTH_BILLING_INTERVAL" default:"60s"`
	ReaperInterval  time.Duration `envconfig:"HEARTH_REAPER_INTERVAL" default:"300s"`
	IdleThreshold   time.Duration `envconfig:"HEARTH_IDLE_THRESHOLD" default:"1800s"`
	RuntimeMaxCalls int64         `envconfig:"HEARTH_RUNTIME_MAX_CALLS" default:"32"`
}

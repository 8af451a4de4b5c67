package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// gateway metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hearth_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_active_requests",
		Help: "Current in-flight requests",
	})

	ProxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_proxy_requests_total",
		Help: "Requests proxied into workspace containers",
	}, []string{"outcome"})

	// orchestrator metrics
	ProvisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_provisions_total",
		Help: "Workspace provisioning attempts",
	}, []string{"tier", "status"})

	ProvisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hearth_provision_duration_seconds",
		Help:    "End-to-end provisioning pipeline duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	LifecycleOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_lifecycle_ops_total",
		Help: "Lifecycle operation count",
	}, []string{"op", "status"})

	CapacityRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearth_capacity_rejections_total",
		Help: "Workspace creations rejected by fleet admission control",
	})

	ExecCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_exec_commands_total",
		Help: "Commands executed in workspace containers",
	}, []string{"mode", "status"})

	ExecDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hearth_exec_duration_seconds",
		Help:    "One-shot command duration",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	// billing metrics
	BilledSecondsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_billed_seconds_total",
		Help: "Compute seconds reported to the usage tracker",
	}, []string{"tier"})

	BillingSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hearth_billing_sweep_duration_seconds",
		Help:    "Periodic billing sweep duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	})

	BillingReportFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearth_billing_report_failures_total",
		Help: "Usage reports that failed and rolled the cursor back",
	})

	// discovery and reaper metrics
	DiscoveryRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearth_discovery_recovered_total",
		Help: "Workspaces rebuilt from live containers at startup",
	})

	DiscoveryStale = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearth_discovery_stale_total",
		Help: "Registry records corrected to STOPPED at startup",
	})

	ReaperDeletions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearth_reaper_deletions_total",
		Help: "Idle workspaces deleted by the reaper",
	})

	// runtime client metrics
	RuntimeCallsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_runtime_calls_in_flight",
		Help: "Container runtime calls currently holding the offload gate",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests, ProxyRequestsTotal,
		ProvisionsTotal, ProvisionDuration, LifecycleOpsTotal, CapacityRejections,
		ExecCommandsTotal, ExecDuration,
		BilledSecondsTotal, BillingSweepDuration, BillingReportFailures,
		DiscoveryRecovered, DiscoveryStale, ReaperDeletions,
		RuntimeCallsInFlight,
	)
}

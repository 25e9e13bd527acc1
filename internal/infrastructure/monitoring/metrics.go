package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// Metrics holds all Prometheus metrics of the runtime
type Metrics struct {
	// Syscall metrics
	SyscallsTotal   *prometheus.CounterVec
	SyscallDuration *prometheus.HistogramVec

	// Suspension metrics
	Suspensions        *prometheus.CounterVec
	SuspensionDuration *prometheus.HistogramVec

	// Process metrics
	OpenFiles    prometheus.Gauge
	ConsoleLines *prometheus.CounterVec
	ProcessExits *prometheus.CounterVec
	HostBreaker  *prometheus.GaugeVec
	VFSEntries   prometheus.Gauge

	// HTTP metrics for the metrics endpoint itself
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	registry  *prometheus.Registry
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON health endpoint
type Snapshot struct {
	Syscalls    int64 `json:"syscalls"`
	Errors      int64 `json:"errors"`
	Suspensions int64 `json:"suspensions"`
	OpenFiles   int64 `json:"open_files"`
	Exits       int64 `json:"exits"`
}

// NewMetrics creates a metrics collector registered in a fresh registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith creates a metrics collector registered in reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SyscallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsys_syscalls_total",
				Help: "Total number of syscalls dispatched",
			},
			[]string{"op", "result"},
		),
		SyscallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playsys_syscall_duration_seconds",
				Help:    "Syscall duration including any suspension",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"op"},
		),

		Suspensions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsys_suspensions_total",
				Help: "Total number of guest suspensions",
			},
			[]string{"op"},
		),
		SuspensionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playsys_suspension_duration_seconds",
				Help:    "Time the guest spent suspended",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		OpenFiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "playsys_open_files",
			Help: "Number of open guest file descriptors",
		}),
		ConsoleLines: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsys_console_lines_total",
				Help: "Lines emitted by guest console streams",
			},
			[]string{"stream"},
		),
		ProcessExits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsys_process_exits_total",
				Help: "Guest process exits by status",
			},
			[]string{"status"},
		),
		HostBreaker: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "playsys_host_breaker_state",
				Help: "Host open circuit breaker state (1 for the current state)",
			},
			[]string{"state"},
		),
		VFSEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "playsys_vfs_entries",
			Help: "Number of synthetic namespace entries",
		}),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsys_http_requests_total",
				Help: "Total number of HTTP requests to the metrics endpoint",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playsys_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "playsys_uptime_seconds",
		Help: "Runtime uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry returns the registry the metrics are registered in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSyscall records one completed syscall
func (m *Metrics) RecordSyscall(op abi.Op, ret int32, duration time.Duration) {
	m.SyscallsTotal.WithLabelValues(op.String(), resultLabel(ret)).Inc()
	m.SyscallDuration.WithLabelValues(op.String()).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Syscalls++
	if ret < 0 {
		m.snapshot.Errors++
	}
	m.mu.Unlock()
}

// RecordSuspension records one suspension and how long it lasted
func (m *Metrics) RecordSuspension(op abi.Op, duration time.Duration) {
	m.Suspensions.WithLabelValues(op.String()).Inc()
	m.SuspensionDuration.WithLabelValues(op.String()).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Suspensions++
	m.mu.Unlock()
}

// SetOpenFiles sets the open descriptor gauge
func (m *Metrics) SetOpenFiles(n int) {
	m.OpenFiles.Set(float64(n))

	m.mu.Lock()
	m.snapshot.OpenFiles = int64(n)
	m.mu.Unlock()
}

// IncConsoleLines counts a line written to a console stream
func (m *Metrics) IncConsoleLines(stream string) {
	m.ConsoleLines.WithLabelValues(stream).Inc()
}

// RecordExit counts a guest exit
func (m *Metrics) RecordExit(status int32) {
	m.ProcessExits.WithLabelValues(statusLabel(status)).Inc()

	m.mu.Lock()
	m.snapshot.Exits++
	m.mu.Unlock()
}

// SetBreakerState marks state as the current breaker state
func (m *Metrics) SetBreakerState(state string) {
	for _, s := range []string{"closed", "half-open", "open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.HostBreaker.WithLabelValues(s).Set(v)
	}
}

// SetVFSEntries sets the synthetic namespace size gauge
func (m *Metrics) SetVFSEntries(n int) {
	m.VFSEntries.Set(float64(n))
}

// RecordHTTPRequest records one HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// GetSnapshot returns a copy of the running totals
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Uptime returns the time since the collector was created
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

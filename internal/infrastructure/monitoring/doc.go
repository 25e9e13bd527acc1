/*
Package monitoring provides Prometheus metrics for the runtime.

# Overview

Each collector registers into its own prometheus.Registry, so several
runtimes (or tests) in one host process never collide on registration.

# Metrics

- playsys_syscalls_total{op,result} and playsys_syscall_duration_seconds{op}
- playsys_suspensions_total{op} and playsys_suspension_duration_seconds{op}
- playsys_open_files, playsys_vfs_entries
- playsys_console_lines_total{stream}
- playsys_process_exits_total{status}
- playsys_host_breaker_state{state}
- playsys_uptime_seconds

# Usage

	metrics := monitoring.NewMetrics()

	timer := monitoring.NewTimer(metrics, abi.OpRead)
	ret := handle(req)
	timer.Stop(ret)

# Metrics Endpoint

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring

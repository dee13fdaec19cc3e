package mirv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirv_steps_total",
		Help: "Total statements and terminators executed",
	})

	forksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirv_forks_total",
		Help: "Total execution states created by forking",
	})

	solverCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirv_solver_calls_total",
		Help: "Total solver queries by result",
	}, []string{"result"})

	solverDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirv_solver_duration_seconds",
		Help:    "Solver query duration",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	})

	pathsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirv_paths_total",
		Help: "Total terminated paths by status",
	}, []string{"status"})

	allocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirv_allocations_total",
		Help: "Total allocations created",
	})
)

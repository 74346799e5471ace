// Package metrics has the label names and shared collectors for the
// metrics easy-deploy records.
package metrics

import (
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	LabelCommand  = "command"
	LabelSuccess  = "success"
	LabelStrategy = "strategy"

	// Labels for waits
	LabelStage = "stage"
)

const (
	Namespace = "easydeploy"
)

// Stages of a run that are timed.
const (
	StageResolve = "resolve"
	StageDrain   = "drain"
	StageHealth  = "health"
	StageReboot  = "reboot"
)

var (
	// Waits are dominated by drain timeouts, health check intervals
	// and the reboot delay; resolving names is a few calls.
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration in seconds of each stage of a run.",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 120, 300, 600},
	}, []string{LabelStage})
)

// ObserveStage records how long a stage took. Durations come from the
// run's clock, so that waits are measured the same way they are made.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.With(LabelStage, stage).Observe(d.Seconds())
}

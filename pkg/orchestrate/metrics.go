package orchestrate

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	deploymetrics "github.com/easy-deploy/opsworks-easy-deploy/pkg/metrics"
)

var (
	// A rolling run over a layer is the sum of every instance's drain,
	// deployment and health check, so this goes up to hours.
	runDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: deploymetrics.Namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of whole runs, in seconds.",
		Buckets:   []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200, 14400},
	}, []string{deploymetrics.LabelCommand, deploymetrics.LabelStrategy, deploymetrics.LabelSuccess})
)

func observeRun(d time.Duration, success bool, command, strategy string) {
	runDuration.With(
		deploymetrics.LabelCommand, command,
		deploymetrics.LabelStrategy, strategy,
		deploymetrics.LabelSuccess, fmt.Sprint(success),
	).Observe(d.Seconds())
}

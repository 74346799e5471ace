package deployment

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	deploymetrics "github.com/easy-deploy/opsworks-easy-deploy/pkg/metrics"
)

var (
	// A deployment to one instance is typically a few minutes; a
	// dependency update with a reboot can be a good deal longer.
	deploymentDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: deploymetrics.Namespace,
		Name:      "deployment_duration_seconds",
		Help:      "Duration of deployments as reported by the inventory service, in seconds.",
		Buckets:   []float64{15, 30, 60, 120, 180, 300, 600, 900, 1800, 3600},
	}, []string{deploymetrics.LabelCommand, deploymetrics.LabelSuccess})

	deploymentPolls = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: deploymetrics.Namespace,
		Name:      "deployment_polls_total",
		Help:      "Count of deployment status polls.",
	}, []string{deploymetrics.LabelCommand})
)

func observeDeployment(command string, success bool, d time.Duration) {
	deploymentDuration.With(
		deploymetrics.LabelCommand, command,
		deploymetrics.LabelSuccess, fmt.Sprint(success),
	).Observe(d.Seconds())
}

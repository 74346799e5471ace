// Package deployment submits deployments to the inventory service and
// follows them until they finish.
package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/opsworks"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/clock"
	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
	deploymetrics "github.com/easy-deploy/opsworks-easy-deploy/pkg/metrics"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/operation"
)

const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusRunning    = "running"

	DefaultPollInterval = 20 * time.Second
)

// The inventory service has reported timestamps both with and without
// an offset.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// API is what the dispatcher needs from the inventory service.
type API interface {
	CreateDeployment(ctx context.Context, in *opsworks.CreateDeploymentInput) (string, error)
	DescribeDeployment(ctx context.Context, id string) (*opsworks.Deployment, error)
}

type Dispatcher struct {
	API          API
	Clock        clock.Clock
	Logger       log.Logger
	PollInterval time.Duration
}

func New(api API, clk clock.Clock, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		API:          api,
		Clock:        clk,
		Logger:       logger,
		PollInterval: DefaultPollInterval,
	}
}

// Dispatch creates a deployment of the given kind, and returns its ID.
// The name is only used for logging; it says what the deployment is
// targeting (a hostname, or a layer).
func (d *Dispatcher) Dispatch(ctx context.Context, kind operation.Kind, req operation.Request, name string) (string, error) {
	in, err := operation.Payload(kind, req)
	if err != nil {
		return "", errors.Wrap(err, "building deployment request")
	}
	id, err := d.API.CreateDeployment(ctx, in)
	if err != nil {
		return "", err
	}
	d.Logger.Log("deployment", id, "command", kind.Command(), "target", name)
	return id, nil
}

// PollToTerminal checks the deployment every PollInterval until it
// succeeds or fails. With a timeout greater than zero, it gives up
// once that much time has passed since the first check; otherwise it
// waits as long as it takes.
func (d *Dispatcher) PollToTerminal(ctx context.Context, id string, kind operation.Kind, timeout time.Duration) error {
	logger := log.With(d.Logger, "deployment", id)
	start := d.Clock.Now()
	for {
		deploymentPolls.With(deploymetrics.LabelCommand, kind.Command()).Add(1)
		dep, err := d.API.DescribeDeployment(ctx, id)
		if err != nil {
			return err
		}
		// A new deployment can take a moment to be listed; until then
		// it counts as still running.
		status := StatusRunning
		if dep != nil {
			status = aws.StringValue(dep.Status)
		}

		switch status {
		case StatusSuccessful:
			duration, err := Duration(dep)
			if err != nil {
				logger.Log("status", status, "completed_at", aws.StringValue(dep.CompletedAt), "err", err)
				return nil
			}
			logger.Log("status", status, "completed_at", aws.StringValue(dep.CompletedAt), "seconds", duration.Seconds())
			observeDeployment(kind.Command(), true, duration)
			return nil
		case StatusFailed:
			duration, err := Duration(dep)
			if err != nil {
				logger.Log("status", status, "err", err)
				return &deployerr.Error{
					Type: deployerr.Failed,
					Err:  fmt.Errorf("deployment %s failed", id),
					Help: failedHelp,
				}
			}
			logger.Log("status", status, "seconds", duration.Seconds())
			observeDeployment(kind.Command(), false, duration)
			return &deployerr.Error{
				Type: deployerr.Failed,
				Err:  fmt.Errorf("deployment %s failed after %s", id, duration),
				Help: failedHelp,
			}
		default:
			if dep == nil {
				logger.Log("status", "not listed")
			} else {
				logger.Log("status", status)
			}
		}

		if timeout > 0 && d.Clock.Now().Sub(start) > timeout {
			logger.Log("timeout", timeout)
			return &deployerr.Error{
				Type: deployerr.Timeout,
				Err:  fmt.Errorf("deployment %s did not finish within the timeout of %s", id, timeout),
				Help: `The deployment may still be running. Check its status in the
inventory service before starting another one.
`,
			}
		}
		d.Clock.Sleep(d.PollInterval)
	}
}

const failedHelp = `The inventory service reported the deployment as failed. The
instance's deployment log says why.
`

// Duration is how long a finished deployment took, going by when it
// was created and when it completed. The duration the service reports
// itself isn't reliable.
func Duration(dep *opsworks.Deployment) (time.Duration, error) {
	created, err := parseTimestamp(aws.StringValue(dep.CreatedAt))
	if err != nil {
		return 0, errors.Wrap(err, "parsing created at")
	}
	completed, err := parseTimestamp(aws.StringValue(dep.CompletedAt))
	if err != nil {
		return 0, errors.Wrap(err, "parsing completed at")
	}
	return completed.Sub(created), nil
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

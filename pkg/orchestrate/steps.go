package orchestrate

import (
	"context"
	"time"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
	deploymetrics "github.com/easy-deploy/opsworks-easy-deploy/pkg/metrics"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/operation"
)

// Step is something done before or after each deployment in a run.
// The steps are DetachAndDrain, RegisterAndHealthCheck and
// WaitForReboot.
type Step interface {
	isStep()
}

// DetachAndDrain deregisters the instances from the load balancers,
// then waits for connections to drain.
type DetachAndDrain struct {
	LoadBalancers []string
}

// RegisterAndHealthCheck registers the instances with the load
// balancers, then waits for them to pass their health checks.
type RegisterAndHealthCheck struct {
	LoadBalancers []string
}

// WaitForReboot waits for instances that may be rebooting.
type WaitForReboot struct {
	Delay time.Duration
}

func (DetachAndDrain) isStep()         {}
func (RegisterAndHealthCheck) isStep() {}
func (WaitForReboot) isStep()          {}

// hooks are the steps around every deployment in a run. They are fixed
// before the first deployment.
type hooks struct {
	pre, post []Step
}

// newHooks assembles the steps for a run. The reboot wait comes before
// putting an instance back behind its load balancers.
func (o *Orchestrator) newHooks(kind operation.Kind, loadBalancers []string) hooks {
	var h hooks
	if len(loadBalancers) > 0 {
		h.pre = append(h.pre, DetachAndDrain{LoadBalancers: loadBalancers})
	}
	if operation.WaitsForReboot(kind) {
		h.post = append(h.post, WaitForReboot{Delay: o.RebootDelay})
	}
	if len(loadBalancers) > 0 {
		h.post = append(h.post, RegisterAndHealthCheck{LoadBalancers: loadBalancers})
	}
	return h
}

func (o *Orchestrator) runStep(ctx context.Context, step Step, instances []fleet.Instance, name string) error {
	switch s := step.(type) {
	case DetachAndDrain:
		for _, inst := range instances {
			for _, lb := range s.LoadBalancers {
				if _, err := o.Balancer.RemoveInstance(ctx, lb, inst.EC2ID); err != nil {
					return err
				}
			}
		}
		return o.Balancer.WaitForDrain(ctx, s.LoadBalancers)
	case RegisterAndHealthCheck:
		for _, inst := range instances {
			for _, lb := range s.LoadBalancers {
				if err := o.Balancer.AddInstance(ctx, lb, inst.EC2ID); err != nil {
					return err
				}
			}
			if err := o.Balancer.WaitForHealthy(ctx, s.LoadBalancers, inst.EC2ID); err != nil {
				return err
			}
		}
		return nil
	case WaitForReboot:
		o.Logger.Log("target", name, "wait", "reboot", "seconds", s.Delay.Seconds())
		o.Clock.Sleep(s.Delay)
		deploymetrics.ObserveStage(deploymetrics.StageReboot, s.Delay)
		return nil
	}
	return nil
}

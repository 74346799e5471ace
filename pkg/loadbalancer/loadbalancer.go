// Package loadbalancer coordinates the classic load balancers in
// front of a layer while its instances are deployed to: finding them,
// taking instances out of service and waiting for connections to
// drain, and putting instances back and checking they come up healthy.
package loadbalancer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/aws/aws-sdk-go/service/elb/elbiface"
	"github.com/go-kit/kit/log"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/clock"
	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
	deploymetrics "github.com/easy-deploy/opsworks-easy-deploy/pkg/metrics"
)

const (
	service = "elb"

	StateInService = "InService"

	DefaultDrainFallback = 20 * time.Second
	DefaultHealthMargin  = 2
)

// Inventory is the part of the inventory service the coordinator uses
// to find load balancers and to attach them to and detach them from
// layers.
type Inventory interface {
	LayerInstances(ctx context.Context, layerID fleet.LayerID) ([]fleet.Instance, error)
	LayerLoadBalancers(ctx context.Context, layerID fleet.LayerID) ([]fleet.LoadBalancerAttachment, error)
	StackLoadBalancers(ctx context.Context, stackID fleet.StackID) ([]fleet.LoadBalancerAttachment, error)
	AttachLoadBalancer(ctx context.Context, name string, layerID fleet.LayerID) error
	DetachLoadBalancer(ctx context.Context, name string, layerID fleet.LayerID) error
}

type Coordinator struct {
	ELB       elbiface.ELBAPI
	Inventory Inventory
	Clock     clock.Clock
	Logger    log.Logger

	// DrainFallback is waited after deregistering from a load balancer
	// that doesn't have connection draining enabled.
	DrainFallback time.Duration
	// HealthMargin is the number of health check intervals waited on
	// top of the healthy threshold before checking an instance.
	HealthMargin int64
}

func New(api elbiface.ELBAPI, inventory Inventory, clk clock.Clock, logger log.Logger) *Coordinator {
	return &Coordinator{
		ELB:           api,
		Inventory:     inventory,
		Clock:         clk,
		Logger:        logger,
		DrainFallback: DefaultDrainFallback,
		HealthMargin:  DefaultHealthMargin,
	}
}

// Discover returns the names of the load balancers serving a layer.
// Those attached to the layer come first; after them come any other
// load balancers in the stack with one of the layer's instances as a
// member.
func (c *Coordinator) Discover(ctx context.Context, layerID fleet.LayerID, stackID fleet.StackID) ([]string, error) {
	direct, err := c.Inventory.LayerLoadBalancers(ctx, layerID)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := map[string]bool{}
	for _, lb := range direct {
		if !seen[lb.Name] {
			seen[lb.Name] = true
			names = append(names, lb.Name)
		}
	}

	instances, err := c.Inventory.LayerInstances(ctx, layerID)
	if err != nil {
		return nil, err
	}
	members := map[string]bool{}
	for _, inst := range instances {
		if inst.EC2ID != "" {
			members[inst.EC2ID] = true
		}
	}

	all, err := c.Inventory.StackLoadBalancers(ctx, stackID)
	if err != nil {
		return nil, err
	}
	for _, lb := range all {
		if seen[lb.Name] {
			continue
		}
		for _, id := range lb.EC2InstanceIDs {
			if members[id] {
				seen[lb.Name] = true
				names = append(names, lb.Name)
				break
			}
		}
	}

	c.Logger.Log("layer", layerID, "elbs", strings.Join(names, ","))
	return names, nil
}

// DetachFromLayer detaches each of the named load balancers from the
// layer, stopping at the first failure.
func (c *Coordinator) DetachFromLayer(ctx context.Context, names []string, layerID fleet.LayerID) error {
	for _, name := range names {
		c.Logger.Log("elb", name, "layer", layerID, "action", "detach")
		if err := c.Inventory.DetachLoadBalancer(ctx, name, layerID); err != nil {
			return err
		}
	}
	return nil
}

// AttachToLayer attaches each of the named load balancers to the
// layer. The inventory service reconfigures the layer's instances
// afterwards.
func (c *Coordinator) AttachToLayer(ctx context.Context, names []string, layerID fleet.LayerID) error {
	for _, name := range names {
		c.Logger.Log("elb", name, "layer", layerID, "action", "attach")
		if err := c.Inventory.AttachLoadBalancer(ctx, name, layerID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveInstance deregisters an instance from a load balancer, and
// returns the number of instances still registered.
func (c *Coordinator) RemoveInstance(ctx context.Context, name, ec2ID string) (int, error) {
	out, err := c.ELB.DeregisterInstancesFromLoadBalancerWithContext(ctx, &elb.DeregisterInstancesFromLoadBalancerInput{
		LoadBalancerName: aws.String(name),
		Instances:        []*elb.Instance{{InstanceId: aws.String(ec2ID)}},
	})
	if err != nil {
		return 0, deployerr.RemoteCall(service, "DeregisterInstancesFromLoadBalancer", err)
	}
	remaining := len(out.Instances)
	c.Logger.Log("elb", name, "instance", ec2ID, "action", "deregister", "remaining", remaining)
	return remaining, nil
}

// DrainWait is how long to wait after deregistering from all of the
// named load balancers: the longest of their draining timeouts, with
// DrainFallback standing in for any that don't drain.
func (c *Coordinator) DrainWait(ctx context.Context, names []string) (time.Duration, error) {
	var wait time.Duration
	for _, name := range names {
		out, err := c.ELB.DescribeLoadBalancerAttributesWithContext(ctx, &elb.DescribeLoadBalancerAttributesInput{
			LoadBalancerName: aws.String(name),
		})
		if err != nil {
			return 0, deployerr.RemoteCall(service, "DescribeLoadBalancerAttributes", err)
		}
		d := c.DrainFallback
		if attrs := out.LoadBalancerAttributes; attrs != nil && attrs.ConnectionDraining != nil && aws.BoolValue(attrs.ConnectionDraining.Enabled) {
			d = time.Duration(aws.Int64Value(attrs.ConnectionDraining.Timeout)) * time.Second
		}
		if d > wait {
			wait = d
		}
	}
	return wait, nil
}

func (c *Coordinator) WaitForDrain(ctx context.Context, names []string) error {
	wait, err := c.DrainWait(ctx, names)
	if err != nil {
		return err
	}
	c.Logger.Log("elbs", strings.Join(names, ","), "wait", "drain", "seconds", wait.Seconds())
	c.Clock.Sleep(wait)
	deploymetrics.ObserveStage(deploymetrics.StageDrain, wait)
	return nil
}

// AddInstance registers an instance with a load balancer.
func (c *Coordinator) AddInstance(ctx context.Context, name, ec2ID string) error {
	_, err := c.ELB.RegisterInstancesWithLoadBalancerWithContext(ctx, &elb.RegisterInstancesWithLoadBalancerInput{
		LoadBalancerName: aws.String(name),
		Instances:        []*elb.Instance{{InstanceId: aws.String(ec2ID)}},
	})
	if err != nil {
		return deployerr.RemoteCall(service, "RegisterInstancesWithLoadBalancer", err)
	}
	c.Logger.Log("elb", name, "instance", ec2ID, "action", "register")
	return nil
}

// HealthWait is how long an instance needs after registering before
// all of the named load balancers can have seen it pass its health
// check: (healthy threshold + HealthMargin) intervals, for the
// slowest of them.
func (c *Coordinator) HealthWait(ctx context.Context, names []string) (time.Duration, error) {
	if len(names) == 0 {
		return 0, nil
	}
	out, err := c.ELB.DescribeLoadBalancersWithContext(ctx, &elb.DescribeLoadBalancersInput{
		LoadBalancerNames: aws.StringSlice(names),
	})
	if err != nil {
		return 0, deployerr.RemoteCall(service, "DescribeLoadBalancers", err)
	}
	var wait time.Duration
	for _, desc := range out.LoadBalancerDescriptions {
		hc := desc.HealthCheck
		if hc == nil {
			continue
		}
		intervals := aws.Int64Value(hc.HealthyThreshold) + c.HealthMargin
		d := time.Duration(intervals*aws.Int64Value(hc.Interval)) * time.Second
		if d > wait {
			wait = d
		}
	}
	return wait, nil
}

// WaitForHealthy waits out the health settle time, then checks the
// instance once with each load balancer.
func (c *Coordinator) WaitForHealthy(ctx context.Context, names []string, ec2ID string) error {
	wait, err := c.HealthWait(ctx, names)
	if err != nil {
		return err
	}
	c.Logger.Log("elbs", strings.Join(names, ","), "instance", ec2ID, "wait", "health", "seconds", wait.Seconds())
	c.Clock.Sleep(wait)
	deploymetrics.ObserveStage(deploymetrics.StageHealth, wait)
	for _, name := range names {
		if err := c.CheckHealthy(ctx, name, ec2ID); err != nil {
			return err
		}
	}
	return nil
}

// CheckHealthy asks the load balancer for the instance's state. Any
// state other than in service is an Unhealthy error.
func (c *Coordinator) CheckHealthy(ctx context.Context, name, ec2ID string) error {
	out, err := c.ELB.DescribeInstanceHealthWithContext(ctx, &elb.DescribeInstanceHealthInput{
		LoadBalancerName: aws.String(name),
		Instances:        []*elb.Instance{{InstanceId: aws.String(ec2ID)}},
	})
	if err != nil {
		return deployerr.RemoteCall(service, "DescribeInstanceHealth", err)
	}
	var state *elb.InstanceState
	for _, s := range out.InstanceStates {
		if aws.StringValue(s.InstanceId) == ec2ID {
			state = s
			break
		}
	}
	if state == nil {
		c.Logger.Log("elb", name, "instance", ec2ID, "state", "unknown")
		return &deployerr.Error{
			Type: deployerr.Unhealthy,
			Err:  fmt.Errorf("load balancer %s reported no state for instance %s", name, ec2ID),
		}
	}
	c.Logger.Log("elb", name, "instance", ec2ID,
		"state", aws.StringValue(state.State),
		"reason_code", aws.StringValue(state.ReasonCode),
		"description", aws.StringValue(state.Description))
	if aws.StringValue(state.State) != StateInService {
		return &deployerr.Error{
			Type: deployerr.Unhealthy,
			Err: fmt.Errorf("instance %s is %s on load balancer %s (%s: %s)", ec2ID,
				aws.StringValue(state.State), name, aws.StringValue(state.ReasonCode), aws.StringValue(state.Description)),
			Help: `The instance did not come back into service after the deployment.
Look at the deployment log for the instance, and at the load balancer's
health check target. The run was stopped; instances after this one were
not deployed to.
`,
		}
	}
	return nil
}

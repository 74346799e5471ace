// Package orchestrate runs deployments across a layer or a list of
// hosts. A run resolves every name it needs up front, picks its
// instances once, and then deploys to them strictly one after
// another, with each deployment polled until it finishes before the
// next begins. The first error ends the run.
package orchestrate

import (
	"context"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/clock"
	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
	deploymetrics "github.com/easy-deploy/opsworks-easy-deploy/pkg/metrics"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/operation"
)

const (
	StrategyAll       = "all"
	StrategyRolling   = "rolling"
	StrategyInstances = "instances"
)

type Inventory interface {
	ResolveStack(ctx context.Context, name string) (fleet.StackID, error)
	ResolveLayer(ctx context.Context, stackID fleet.StackID, name string) (fleet.LayerID, error)
	ResolveApplication(ctx context.Context, stackID fleet.StackID, shortname string) (fleet.AppID, error)
	LayerInstances(ctx context.Context, layerID fleet.LayerID) ([]fleet.Instance, error)
	StackInstances(ctx context.Context, stackID fleet.StackID) ([]fleet.Instance, error)
}

type Balancer interface {
	Discover(ctx context.Context, layerID fleet.LayerID, stackID fleet.StackID) ([]string, error)
	DetachFromLayer(ctx context.Context, names []string, layerID fleet.LayerID) error
	AttachToLayer(ctx context.Context, names []string, layerID fleet.LayerID) error
	RemoveInstance(ctx context.Context, name, ec2ID string) (int, error)
	WaitForDrain(ctx context.Context, names []string) error
	AddInstance(ctx context.Context, name, ec2ID string) error
	WaitForHealthy(ctx context.Context, names []string, ec2ID string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, kind operation.Kind, req operation.Request, name string) (string, error)
	PollToTerminal(ctx context.Context, id string, kind operation.Kind, timeout time.Duration) error
}

// Target is what a run is aimed at, and the settings shared by every
// deployment in it.
type Target struct {
	Stack string
	// Layer is required for the all and rolling strategies, and
	// ignored otherwise.
	Layer   string
	Comment string
	// Timeout bounds the wait for each deployment; zero means no
	// limit.
	Timeout time.Duration
	// CustomJSON is the JSON itself, or a path to a file holding it.
	CustomJSON string
}

type Orchestrator struct {
	Inventory  Inventory
	Balancer   Balancer
	Dispatcher Dispatcher
	Clock      clock.Clock
	Logger     log.Logger

	RebootDelay time.Duration
	// DryRun stops a run once it has worked out what it would do,
	// before anything is changed.
	DryRun bool
}

// resolved is a Target with every name turned into an ID.
type resolved struct {
	kind    operation.Kind
	stackID fleet.StackID
	layerID fleet.LayerID
	custom  *gabs.Container
}

func (o *Orchestrator) resolve(ctx context.Context, kind operation.Kind, target Target, withLayer bool) (r resolved, err error) {
	defer func(start time.Time) {
		deploymetrics.ObserveStage(deploymetrics.StageResolve, o.Clock.Now().Sub(start))
	}(o.Clock.Now())

	if r.stackID, err = o.Inventory.ResolveStack(ctx, target.Stack); err != nil {
		return r, err
	}
	if withLayer {
		if target.Layer == "" {
			return r, deployerr.UserError("a layer name is required")
		}
		if r.layerID, err = o.Inventory.ResolveLayer(ctx, r.stackID, target.Layer); err != nil {
			return r, err
		}
	}
	switch k := kind.(type) {
	case operation.Deploy:
		if k.AppID, err = o.Inventory.ResolveApplication(ctx, r.stackID, k.Application); err != nil {
			return r, err
		}
		r.kind = k
	default:
		r.kind = kind
	}
	if r.custom, err = operation.ParseCustomJSON(target.CustomJSON); err != nil {
		return r, err
	}
	return r, nil
}

// AllAtOnce deploys to every online instance in the layer whose
// hostname isn't excluded, one at a time. Load balancers are left
// alone.
func (o *Orchestrator) AllAtOnce(ctx context.Context, kind operation.Kind, target Target, exclude fleet.HostPatterns) (err error) {
	defer func(start time.Time) {
		observeRun(o.Clock.Now().Sub(start), err == nil, kind.Command(), StrategyAll)
	}(o.Clock.Now())
	logger := log.With(o.Logger, "strategy", StrategyAll, "stack", target.Stack, "layer", target.Layer)

	r, err := o.resolve(ctx, kind, target, true)
	if err != nil {
		return err
	}
	instances, err := o.Inventory.LayerInstances(ctx, r.layerID)
	if err != nil {
		return err
	}
	selected := fleet.SelectLayer(instances, exclude)
	if len(selected) == 0 {
		logger.Log("exit", "no online instances to deploy to")
		return nil
	}

	h := o.newHooks(r.kind, nil)
	if o.DryRun {
		logger.Log("dry_run", true, "command", r.kind.Command(), "hosts", strings.Join(fleet.Hostnames(selected), ","))
		return nil
	}
	for _, inst := range selected {
		if err := o.cycle(ctx, r, target, []fleet.Instance{inst}, inst.Hostname, h); err != nil {
			return err
		}
	}
	return nil
}

// Rolling deploys to the online instances in the layer one at a time,
// taking each out of its load balancers while it is deployed to. With
// manageLayerELBs, the load balancers are also detached from the layer
// for the length of the run.
func (o *Orchestrator) Rolling(ctx context.Context, kind operation.Kind, target Target, manageLayerELBs bool) (err error) {
	defer func(start time.Time) {
		observeRun(o.Clock.Now().Sub(start), err == nil, kind.Command(), StrategyRolling)
	}(o.Clock.Now())
	logger := log.With(o.Logger, "strategy", StrategyRolling, "stack", target.Stack, "layer", target.Layer)

	r, err := o.resolve(ctx, kind, target, true)
	if err != nil {
		return err
	}
	instances, err := o.Inventory.LayerInstances(ctx, r.layerID)
	if err != nil {
		return err
	}
	selected := fleet.SelectLayer(instances, nil)
	loadBalancers, err := o.Balancer.Discover(ctx, r.layerID, r.stackID)
	if err != nil {
		return err
	}
	if manageLayerELBs && len(loadBalancers) == 0 {
		return deployerr.UserError("no load balancers found for layer %s, so none can be managed", target.Layer)
	}
	if len(selected) == 0 {
		logger.Log("exit", "no online instances to deploy to")
		return nil
	}

	h := o.newHooks(r.kind, loadBalancers)
	if o.DryRun {
		logger.Log("dry_run", true, "command", r.kind.Command(), "hosts", strings.Join(fleet.Hostnames(selected), ","),
			"elbs", strings.Join(loadBalancers, ","), "manage_layer_elbs", manageLayerELBs)
		return nil
	}

	if manageLayerELBs {
		if err := o.Balancer.DetachFromLayer(ctx, loadBalancers, r.layerID); err != nil {
			return err
		}
	}
	for _, inst := range selected {
		if err := o.cycle(ctx, r, target, []fleet.Instance{inst}, inst.Hostname, h); err != nil {
			if manageLayerELBs {
				return errors.Wrapf(err, "load balancers %s left detached from layer %s", strings.Join(loadBalancers, ","), target.Layer)
			}
			return err
		}
	}
	if manageLayerELBs {
		return o.Balancer.AttachToLayer(ctx, loadBalancers, r.layerID)
	}
	return nil
}

// Hosts deploys to the online instances in the stack matching the host
// patterns, all in a single deployment. Load balancers are left alone.
func (o *Orchestrator) Hosts(ctx context.Context, kind operation.Kind, target Target, hosts fleet.HostPatterns) (err error) {
	defer func(start time.Time) {
		observeRun(o.Clock.Now().Sub(start), err == nil, kind.Command(), StrategyInstances)
	}(o.Clock.Now())
	logger := log.With(o.Logger, "strategy", StrategyInstances, "stack", target.Stack)

	r, err := o.resolve(ctx, kind, target, false)
	if err != nil {
		return err
	}
	instances, err := o.Inventory.StackInstances(ctx, r.stackID)
	if err != nil {
		return err
	}
	selected := fleet.SelectHosts(instances, hosts)
	if len(selected) == 0 {
		return deployerr.UserError("no online instances in stack %s match %s", target.Stack, strings.Join(hosts, ","))
	}

	h := o.newHooks(r.kind, nil)
	name := strings.Join(fleet.Hostnames(selected), ", ")
	if o.DryRun {
		logger.Log("dry_run", true, "command", r.kind.Command(), "hosts", name)
		return nil
	}
	return o.cycle(ctx, r, target, selected, name, h)
}

// cycle runs one deployment with its steps around it.
func (o *Orchestrator) cycle(ctx context.Context, r resolved, target Target, instances []fleet.Instance, name string, h hooks) error {
	for _, step := range h.pre {
		if err := o.runStep(ctx, step, instances, name); err != nil {
			return err
		}
	}

	id, err := o.Dispatcher.Dispatch(ctx, r.kind, operation.Request{
		StackID:     r.stackID,
		InstanceIDs: fleet.IDs(instances),
		Comment:     target.Comment,
		CustomJSON:  r.custom,
	}, name)
	if err != nil {
		return err
	}
	if err := o.Dispatcher.PollToTerminal(ctx, id, r.kind, target.Timeout); err != nil {
		return err
	}

	for _, step := range h.post {
		if err := o.runStep(ctx, step, instances, name); err != nil {
			return err
		}
	}
	return nil
}

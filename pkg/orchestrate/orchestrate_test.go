package orchestrate

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/aws/aws-sdk-go/service/opsworks"
	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/awsclient/mock"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/clock"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/deployment"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/directory"
	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/loadbalancer"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/operation"
)

type fixture struct {
	orchestrator *Orchestrator
	calls        *mock.CallLog
	ops          *mock.OpsWorks
	elb          *mock.ELB
	clock        *clock.Fake
}

func instance(id, hostname, status string) *opsworks.Instance {
	return &opsworks.Instance{
		InstanceId:    aws.String(id),
		Ec2InstanceId: aws.String("i-" + id),
		Hostname:      aws.String(hostname),
		Status:        aws.String(status),
	}
}

// setup makes a stack "web" with a layer "api" of three instances, A
// and C online and B stopped, behind a load balancer L attached to the
// layer.
func setup(t *testing.T) *fixture {
	calls := &mock.CallLog{}
	ops := &mock.OpsWorks{
		Log:    calls,
		Stacks: []*opsworks.Stack{{StackId: aws.String("stack-1"), Name: aws.String("Web")}},
		Layers: map[string][]*opsworks.Layer{
			"stack-1": {{LayerId: aws.String("layer-api"), Name: aws.String("API")}},
		},
		Apps: map[string][]*opsworks.App{
			"stack-1": {{AppId: aws.String("app-1"), Shortname: aws.String("myapp")}},
		},
		Instances: map[string][]*opsworks.Instance{
			"layer-api": {
				instance("a", "api1", "online"),
				instance("b", "api2", "stopped"),
				instance("c", "api3", "online"),
			},
		},
		ELBs: []*opsworks.ElasticLoadBalancer{{
			ElasticLoadBalancerName: aws.String("L"),
			LayerId:                 aws.String("layer-api"),
			Ec2InstanceIds:          aws.StringSlice([]string{"i-a", "i-c"}),
		}},
		CreatedAt:   "2019-05-01T10:00:00+00:00",
		CompletedAt: "2019-05-01T10:02:00+00:00",
	}
	lbs := &mock.ELB{
		Log: calls,
		Descriptions: map[string]*elb.LoadBalancerDescription{
			"L": {HealthCheck: &elb.HealthCheck{HealthyThreshold: aws.Int64(2), Interval: aws.Int64(10)}},
		},
		Attributes: map[string]*elb.LoadBalancerAttributes{
			"L": {ConnectionDraining: &elb.ConnectionDraining{Enabled: aws.Bool(true), Timeout: aws.Int64(30)}},
		},
		Members: map[string][]string{"L": {"i-a", "i-c"}},
	}
	clk := clock.NewFake(time.Date(2019, 5, 1, 10, 0, 0, 0, time.UTC))
	clk.OnSleep = func(d time.Duration) { calls.Record("sleep %s", d) }

	logger := log.NewNopLogger()
	dir := directory.New(ops, logger)
	return &fixture{
		orchestrator: &Orchestrator{
			Inventory:   dir,
			Balancer:    loadbalancer.New(lbs, dir, clk, logger),
			Dispatcher:  deployment.New(dir, clk, logger),
			Clock:       clk,
			Logger:      logger,
			RebootDelay: operation.DefaultRebootDelay,
		},
		calls: calls,
		ops:   ops,
		elb:   lbs,
		clock: clk,
	}
}

var (
	deploy = operation.Deploy{Application: "MYAPP"}
	target = Target{Stack: "web", Layer: "api", Comment: "rolling out"}
)

// sideEffects filters the call log down to the calls that change
// something, and the sleeps.
func (f *fixture) sideEffects() []string {
	return f.calls.Filter(
		"opsworks.CreateDeployment",
		"opsworks.AttachElasticLoadBalancer",
		"opsworks.DetachElasticLoadBalancer",
		"elb.RegisterInstancesWithLoadBalancer",
		"elb.DeregisterInstancesFromLoadBalancer",
		"elb.DescribeInstanceHealth",
		"sleep",
	)
}

func TestRollingWrapsEachOnlineInstance(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.orchestrator.Rolling(context.Background(), deploy, target, false))
	assert.Equal(t, []string{
		"elb.DeregisterInstancesFromLoadBalancer L i-a",
		"sleep 30s",
		"opsworks.CreateDeployment deploy a",
		"elb.RegisterInstancesWithLoadBalancer L i-a",
		"sleep 40s",
		"elb.DescribeInstanceHealth L i-a",
		"elb.DeregisterInstancesFromLoadBalancer L i-c",
		"sleep 30s",
		"opsworks.CreateDeployment deploy c",
		"elb.RegisterInstancesWithLoadBalancer L i-c",
		"sleep 40s",
		"elb.DescribeInstanceHealth L i-c",
	}, f.sideEffects())

	require.Len(t, f.ops.Created, 2)
	for _, in := range f.ops.Created {
		assert.Equal(t, "app-1", aws.StringValue(in.AppId))
		assert.Equal(t, "stack-1", aws.StringValue(in.StackId))
		assert.Equal(t, "rolling out", aws.StringValue(in.Comment))
	}
}

func TestRollingWithoutLoadBalancers(t *testing.T) {
	f := setup(t)
	f.ops.ELBs = nil
	require.NoError(t, f.orchestrator.Rolling(context.Background(), deploy, target, false))
	assert.Equal(t, []string{
		"opsworks.CreateDeployment deploy a",
		"opsworks.CreateDeployment deploy c",
	}, f.sideEffects())
}

func TestRollingFindsLoadBalancersThroughMembership(t *testing.T) {
	f := setup(t)
	f.ops.ELBs = []*opsworks.ElasticLoadBalancer{
		{ElasticLoadBalancerName: aws.String("elsewhere"), LayerId: aws.String("layer-web"), Ec2InstanceIds: aws.StringSlice([]string{"i-c"})},
	}
	require.NoError(t, f.orchestrator.Rolling(context.Background(), deploy, target, false))
	assert.Contains(t, f.sideEffects(), "elb.DeregisterInstancesFromLoadBalancer elsewhere i-a")
}

func TestRollingAbortsOnUnhealthyInstance(t *testing.T) {
	f := setup(t)
	f.elb.States = map[string]*elb.InstanceState{
		"i-a": {
			InstanceId:  aws.String("i-a"),
			State:       aws.String("OutOfService"),
			ReasonCode:  aws.String("Instance"),
			Description: aws.String("Instance has failed at least the UnhealthyThreshold number of health checks consecutively."),
		},
	}
	err := f.orchestrator.Rolling(context.Background(), deploy, target, false)
	require.Error(t, err)
	assert.True(t, deployerr.IsType(err, deployerr.Unhealthy))
	assert.Equal(t, []string{"opsworks.CreateDeployment deploy a"}, f.calls.Filter("opsworks.CreateDeployment"))
	assert.Empty(t, f.calls.Filter("elb.DeregisterInstancesFromLoadBalancer L i-c"))
}

func TestRollingUpdateWaitsForRebootBeforeRegistering(t *testing.T) {
	f := setup(t)
	f.ops.Instances["layer-api"] = f.ops.Instances["layer-api"][:1]
	update := operation.UpdateDependencies{AllowReboot: true}
	require.NoError(t, f.orchestrator.Rolling(context.Background(), update, target, false))
	assert.Equal(t, []string{
		"elb.DeregisterInstancesFromLoadBalancer L i-a",
		"sleep 30s",
		"opsworks.CreateDeployment update_dependencies a",
		"sleep 5m0s",
		"elb.RegisterInstancesWithLoadBalancer L i-a",
		"sleep 40s",
		"elb.DescribeInstanceHealth L i-a",
	}, f.sideEffects())
	assert.Nil(t, f.ops.Created[0].AppId)
}

func TestRollingManagesLayerLoadBalancers(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.orchestrator.Rolling(context.Background(), deploy, target, true))
	effects := f.sideEffects()
	require.NotEmpty(t, effects)
	assert.Equal(t, "opsworks.DetachElasticLoadBalancer L layer-api", effects[0])
	assert.Equal(t, "opsworks.AttachElasticLoadBalancer L layer-api", effects[len(effects)-1])
	assert.Len(t, f.calls.Filter("opsworks.CreateDeployment"), 2)
}

func TestRollingManageWithoutLoadBalancersFails(t *testing.T) {
	f := setup(t)
	f.ops.ELBs = nil
	err := f.orchestrator.Rolling(context.Background(), deploy, target, true)
	require.Error(t, err)
	assert.True(t, deployerr.IsType(err, deployerr.User))
	assert.Empty(t, f.sideEffects())
}

func TestAllAtOnceSkipsExcludedAndOffline(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.orchestrator.AllAtOnce(context.Background(), deploy, target, fleet.HostPatterns{"api1"}))
	assert.Equal(t, []string{"opsworks.CreateDeployment deploy c"}, f.sideEffects())
}

func TestAllAtOnceDeploysOneAtATime(t *testing.T) {
	f := setup(t)
	f.ops.Statuses = []string{"running", "successful"}
	require.NoError(t, f.orchestrator.AllAtOnce(context.Background(), deploy, target, nil))
	assert.Equal(t, []string{
		"opsworks.CreateDeployment deploy a",
		"sleep 20s",
		"opsworks.CreateDeployment deploy c",
		"sleep 20s",
	}, f.sideEffects())
}

func TestAllAtOnceNoOnlineInstances(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.orchestrator.AllAtOnce(context.Background(), deploy, target, fleet.HostPatterns{"api*"}))
	assert.Empty(t, f.sideEffects())
}

func TestHostsSingleDeploymentForOnlineMatches(t *testing.T) {
	f := setup(t)
	hostTarget := Target{Stack: "web"}
	require.NoError(t, f.orchestrator.Hosts(context.Background(), deploy, hostTarget, fleet.HostPatterns{"api1", "api2"}))
	assert.Equal(t, []string{"opsworks.CreateDeployment deploy a"}, f.sideEffects())

	f = setup(t)
	require.NoError(t, f.orchestrator.Hosts(context.Background(), deploy, hostTarget, fleet.HostPatterns{"api*"}))
	assert.Equal(t, []string{"opsworks.CreateDeployment deploy a,c"}, f.sideEffects())
}

func TestHostsNoMatch(t *testing.T) {
	f := setup(t)
	err := f.orchestrator.Hosts(context.Background(), deploy, Target{Stack: "web"}, fleet.HostPatterns{"api2"})
	require.Error(t, err)
	assert.True(t, deployerr.IsType(err, deployerr.User))
	assert.Empty(t, f.sideEffects())
}

func TestResolutionFailuresStopBeforeSideEffects(t *testing.T) {
	for name, tc := range map[string]struct {
		kind   operation.Kind
		target Target
		typ    deployerr.Type
	}{
		"stack":       {deploy, Target{Stack: "nope", Layer: "api"}, deployerr.Missing},
		"layer":       {deploy, Target{Stack: "web", Layer: "nope"}, deployerr.Missing},
		"no layer":    {deploy, Target{Stack: "web"}, deployerr.User},
		"application": {operation.Deploy{Application: "nope"}, target, deployerr.Missing},
		"custom json": {deploy, Target{Stack: "web", Layer: "api", CustomJSON: `{"a":`}, deployerr.User},
	} {
		t.Run(name, func(t *testing.T) {
			f := setup(t)
			err := f.orchestrator.Rolling(context.Background(), tc.kind, tc.target, true)
			require.Error(t, err)
			assert.True(t, deployerr.IsType(err, tc.typ), "got %v", err)
			assert.Empty(t, f.sideEffects())
		})
	}
}

func TestStackResolvedOnce(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.orchestrator.AllAtOnce(context.Background(), deploy, target, nil))
	require.NoError(t, f.orchestrator.Rolling(context.Background(), deploy, target, false))
	assert.Len(t, f.calls.Filter("opsworks.DescribeStacks"), 1)
	assert.Len(t, f.calls.Filter("opsworks.DescribeApps"), 1)
}

func TestTimeoutStopsRun(t *testing.T) {
	f := setup(t)
	f.ops.Statuses = []string{"running"}
	timed := target
	timed.Timeout = 5 * time.Second
	err := f.orchestrator.AllAtOnce(context.Background(), deploy, timed, nil)
	require.Error(t, err)
	assert.True(t, deployerr.IsType(err, deployerr.Timeout))
	assert.Equal(t, []string{"opsworks.CreateDeployment deploy a"}, f.calls.Filter("opsworks.CreateDeployment"))
}

func TestFailedDeploymentStopsRun(t *testing.T) {
	f := setup(t)
	f.ops.Statuses = []string{"failed"}
	err := f.orchestrator.Rolling(context.Background(), deploy, target, true)
	require.Error(t, err)
	assert.True(t, deployerr.IsType(err, deployerr.Failed))
	assert.Contains(t, err.Error(), "left detached")
	assert.Empty(t, f.calls.Filter("opsworks.AttachElasticLoadBalancer"))
}

func TestDryRunChangesNothing(t *testing.T) {
	f := setup(t)
	f.orchestrator.DryRun = true
	ctx := context.Background()
	require.NoError(t, f.orchestrator.Rolling(ctx, deploy, target, true))
	require.NoError(t, f.orchestrator.AllAtOnce(ctx, deploy, target, nil))
	require.NoError(t, f.orchestrator.Hosts(ctx, deploy, Target{Stack: "web"}, fleet.HostPatterns{"api1"}))
	assert.Empty(t, f.sideEffects())
}

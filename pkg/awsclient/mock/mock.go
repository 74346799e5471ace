// Package mock has in-memory stand-ins for the OpsWorks and ELB
// clients. They keep just enough state to answer the calls
// easy-deploy makes, and record every call in a shared CallLog so
// tests can assert on ordering across both services.
package mock

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/aws/aws-sdk-go/service/elb/elbiface"
	"github.com/aws/aws-sdk-go/service/opsworks"
	"github.com/aws/aws-sdk-go/service/opsworks/opsworksiface"
)

type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) Record(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Filter returns the recorded calls starting with any of the prefixes,
// in order.
func (l *CallLog) Filter(prefixes ...string) []string {
	var out []string
	for _, c := range l.Calls() {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

type OpsWorks struct {
	opsworksiface.OpsWorksAPI

	Log       *CallLog
	Stacks    []*opsworks.Stack
	Layers    map[string][]*opsworks.Layer    // by stack ID
	Apps      map[string][]*opsworks.App      // by stack ID
	Instances map[string][]*opsworks.Instance // by layer ID
	// ELBs is every load balancer known to the stack; those with a
	// LayerId are attached to that layer.
	ELBs []*opsworks.ElasticLoadBalancer
	// Statuses is walked by successive DescribeDeployments calls for a
	// deployment, the last one repeating. Empty means "successful".
	Statuses []string
	// Unlisted is how many DescribeDeployments calls leave a
	// deployment out before it shows up.
	Unlisted    int
	CreatedAt   string
	CompletedAt string
	// Errors makes the named operation fail.
	Errors map[string]error

	Created   []*opsworks.CreateDeploymentInput
	describes map[string]int
}

var _ opsworksiface.OpsWorksAPI = &OpsWorks{}

func (m *OpsWorks) fail(op string) error {
	return m.Errors[op]
}

func (m *OpsWorks) DescribeStacksWithContext(_ aws.Context, _ *opsworks.DescribeStacksInput, _ ...request.Option) (*opsworks.DescribeStacksOutput, error) {
	m.Log.Record("opsworks.DescribeStacks")
	if err := m.fail("DescribeStacks"); err != nil {
		return nil, err
	}
	return &opsworks.DescribeStacksOutput{Stacks: m.Stacks}, nil
}

func (m *OpsWorks) DescribeLayersWithContext(_ aws.Context, in *opsworks.DescribeLayersInput, _ ...request.Option) (*opsworks.DescribeLayersOutput, error) {
	m.Log.Record("opsworks.DescribeLayers %s", aws.StringValue(in.StackId))
	if err := m.fail("DescribeLayers"); err != nil {
		return nil, err
	}
	return &opsworks.DescribeLayersOutput{Layers: m.Layers[aws.StringValue(in.StackId)]}, nil
}

func (m *OpsWorks) DescribeAppsWithContext(_ aws.Context, in *opsworks.DescribeAppsInput, _ ...request.Option) (*opsworks.DescribeAppsOutput, error) {
	m.Log.Record("opsworks.DescribeApps %s", aws.StringValue(in.StackId))
	if err := m.fail("DescribeApps"); err != nil {
		return nil, err
	}
	return &opsworks.DescribeAppsOutput{Apps: m.Apps[aws.StringValue(in.StackId)]}, nil
}

func (m *OpsWorks) DescribeInstancesWithContext(_ aws.Context, in *opsworks.DescribeInstancesInput, _ ...request.Option) (*opsworks.DescribeInstancesOutput, error) {
	if err := m.fail("DescribeInstances"); err != nil {
		return nil, err
	}
	if in.LayerId != nil {
		m.Log.Record("opsworks.DescribeInstances layer=%s", *in.LayerId)
		return &opsworks.DescribeInstancesOutput{Instances: m.Instances[*in.LayerId]}, nil
	}
	stackID := aws.StringValue(in.StackId)
	m.Log.Record("opsworks.DescribeInstances stack=%s", stackID)
	var out []*opsworks.Instance
	seen := map[string]bool{}
	for _, layer := range m.Layers[stackID] {
		for _, inst := range m.Instances[aws.StringValue(layer.LayerId)] {
			if id := aws.StringValue(inst.InstanceId); !seen[id] {
				seen[id] = true
				out = append(out, inst)
			}
		}
	}
	return &opsworks.DescribeInstancesOutput{Instances: out}, nil
}

func (m *OpsWorks) DescribeElasticLoadBalancersWithContext(_ aws.Context, in *opsworks.DescribeElasticLoadBalancersInput, _ ...request.Option) (*opsworks.DescribeElasticLoadBalancersOutput, error) {
	if err := m.fail("DescribeElasticLoadBalancers"); err != nil {
		return nil, err
	}
	if len(in.LayerIds) > 0 {
		layers := aws.StringValueSlice(in.LayerIds)
		m.Log.Record("opsworks.DescribeElasticLoadBalancers layers=%s", strings.Join(layers, ","))
		var out []*opsworks.ElasticLoadBalancer
		for _, lb := range m.ELBs {
			for _, l := range layers {
				if aws.StringValue(lb.LayerId) == l {
					out = append(out, lb)
				}
			}
		}
		return &opsworks.DescribeElasticLoadBalancersOutput{ElasticLoadBalancers: out}, nil
	}
	m.Log.Record("opsworks.DescribeElasticLoadBalancers stack=%s", aws.StringValue(in.StackId))
	return &opsworks.DescribeElasticLoadBalancersOutput{ElasticLoadBalancers: m.ELBs}, nil
}

func (m *OpsWorks) AttachElasticLoadBalancerWithContext(_ aws.Context, in *opsworks.AttachElasticLoadBalancerInput, _ ...request.Option) (*opsworks.AttachElasticLoadBalancerOutput, error) {
	m.Log.Record("opsworks.AttachElasticLoadBalancer %s %s", aws.StringValue(in.ElasticLoadBalancerName), aws.StringValue(in.LayerId))
	if err := m.fail("AttachElasticLoadBalancer"); err != nil {
		return nil, err
	}
	for _, lb := range m.ELBs {
		if aws.StringValue(lb.ElasticLoadBalancerName) == aws.StringValue(in.ElasticLoadBalancerName) {
			lb.LayerId = in.LayerId
		}
	}
	return &opsworks.AttachElasticLoadBalancerOutput{}, nil
}

func (m *OpsWorks) DetachElasticLoadBalancerWithContext(_ aws.Context, in *opsworks.DetachElasticLoadBalancerInput, _ ...request.Option) (*opsworks.DetachElasticLoadBalancerOutput, error) {
	m.Log.Record("opsworks.DetachElasticLoadBalancer %s %s", aws.StringValue(in.ElasticLoadBalancerName), aws.StringValue(in.LayerId))
	if err := m.fail("DetachElasticLoadBalancer"); err != nil {
		return nil, err
	}
	for _, lb := range m.ELBs {
		if aws.StringValue(lb.ElasticLoadBalancerName) == aws.StringValue(in.ElasticLoadBalancerName) {
			lb.LayerId = nil
		}
	}
	return &opsworks.DetachElasticLoadBalancerOutput{}, nil
}

func (m *OpsWorks) CreateDeploymentWithContext(_ aws.Context, in *opsworks.CreateDeploymentInput, _ ...request.Option) (*opsworks.CreateDeploymentOutput, error) {
	var command string
	if in.Command != nil {
		command = aws.StringValue(in.Command.Name)
	}
	m.Log.Record("opsworks.CreateDeployment %s %s", command, strings.Join(aws.StringValueSlice(in.InstanceIds), ","))
	if err := m.fail("CreateDeployment"); err != nil {
		return nil, err
	}
	m.Created = append(m.Created, in)
	return &opsworks.CreateDeploymentOutput{
		DeploymentId: aws.String(fmt.Sprintf("deployment-%d", len(m.Created))),
	}, nil
}

func (m *OpsWorks) DescribeDeploymentsWithContext(_ aws.Context, in *opsworks.DescribeDeploymentsInput, _ ...request.Option) (*opsworks.DescribeDeploymentsOutput, error) {
	ids := aws.StringValueSlice(in.DeploymentIds)
	m.Log.Record("opsworks.DescribeDeployments %s", strings.Join(ids, ","))
	if err := m.fail("DescribeDeployments"); err != nil {
		return nil, err
	}
	if m.describes == nil {
		m.describes = map[string]int{}
	}
	var out []*opsworks.Deployment
	for _, id := range ids {
		if m.describes[id] < m.Unlisted {
			m.describes[id]++
			continue
		}
		status := "successful"
		if len(m.Statuses) > 0 {
			i := m.describes[id] - m.Unlisted
			if i >= len(m.Statuses) {
				i = len(m.Statuses) - 1
			}
			status = m.Statuses[i]
		}
		m.describes[id]++
		out = append(out, &opsworks.Deployment{
			DeploymentId: aws.String(id),
			Status:       aws.String(status),
			CreatedAt:    aws.String(m.CreatedAt),
			CompletedAt:  aws.String(m.CompletedAt),
			Duration:     aws.Int64(0),
		})
	}
	return &opsworks.DescribeDeploymentsOutput{Deployments: out}, nil
}

type ELB struct {
	elbiface.ELBAPI

	Log          *CallLog
	Descriptions map[string]*elb.LoadBalancerDescription // by name
	Attributes   map[string]*elb.LoadBalancerAttributes  // by name
	// States is the health reported for an instance, by EC2 ID.
	// Instances without an entry are reported InService.
	States map[string]*elb.InstanceState
	// Members is the set of registered instances, by load balancer name.
	Members map[string][]string
	Errors  map[string]error
}

var _ elbiface.ELBAPI = &ELB{}

func (m *ELB) DescribeLoadBalancersWithContext(_ aws.Context, in *elb.DescribeLoadBalancersInput, _ ...request.Option) (*elb.DescribeLoadBalancersOutput, error) {
	names := aws.StringValueSlice(in.LoadBalancerNames)
	m.Log.Record("elb.DescribeLoadBalancers %s", strings.Join(names, ","))
	if err := m.Errors["DescribeLoadBalancers"]; err != nil {
		return nil, err
	}
	var out []*elb.LoadBalancerDescription
	for _, name := range names {
		if d, ok := m.Descriptions[name]; ok {
			out = append(out, d)
		}
	}
	return &elb.DescribeLoadBalancersOutput{LoadBalancerDescriptions: out}, nil
}

func (m *ELB) DescribeLoadBalancerAttributesWithContext(_ aws.Context, in *elb.DescribeLoadBalancerAttributesInput, _ ...request.Option) (*elb.DescribeLoadBalancerAttributesOutput, error) {
	name := aws.StringValue(in.LoadBalancerName)
	m.Log.Record("elb.DescribeLoadBalancerAttributes %s", name)
	if err := m.Errors["DescribeLoadBalancerAttributes"]; err != nil {
		return nil, err
	}
	attrs, ok := m.Attributes[name]
	if !ok {
		attrs = &elb.LoadBalancerAttributes{}
	}
	return &elb.DescribeLoadBalancerAttributesOutput{LoadBalancerAttributes: attrs}, nil
}

func (m *ELB) DeregisterInstancesFromLoadBalancerWithContext(_ aws.Context, in *elb.DeregisterInstancesFromLoadBalancerInput, _ ...request.Option) (*elb.DeregisterInstancesFromLoadBalancerOutput, error) {
	name := aws.StringValue(in.LoadBalancerName)
	ids := elbInstanceIDs(in.Instances)
	m.Log.Record("elb.DeregisterInstancesFromLoadBalancer %s %s", name, strings.Join(ids, ","))
	if err := m.Errors["DeregisterInstancesFromLoadBalancer"]; err != nil {
		return nil, err
	}
	var remaining []string
	for _, member := range m.Members[name] {
		if !contains(ids, member) {
			remaining = append(remaining, member)
		}
	}
	if m.Members == nil {
		m.Members = map[string][]string{}
	}
	m.Members[name] = remaining
	return &elb.DeregisterInstancesFromLoadBalancerOutput{Instances: elbInstances(remaining)}, nil
}

func (m *ELB) RegisterInstancesWithLoadBalancerWithContext(_ aws.Context, in *elb.RegisterInstancesWithLoadBalancerInput, _ ...request.Option) (*elb.RegisterInstancesWithLoadBalancerOutput, error) {
	name := aws.StringValue(in.LoadBalancerName)
	ids := elbInstanceIDs(in.Instances)
	m.Log.Record("elb.RegisterInstancesWithLoadBalancer %s %s", name, strings.Join(ids, ","))
	if err := m.Errors["RegisterInstancesWithLoadBalancer"]; err != nil {
		return nil, err
	}
	if m.Members == nil {
		m.Members = map[string][]string{}
	}
	for _, id := range ids {
		if !contains(m.Members[name], id) {
			m.Members[name] = append(m.Members[name], id)
		}
	}
	return &elb.RegisterInstancesWithLoadBalancerOutput{Instances: elbInstances(m.Members[name])}, nil
}

func (m *ELB) DescribeInstanceHealthWithContext(_ aws.Context, in *elb.DescribeInstanceHealthInput, _ ...request.Option) (*elb.DescribeInstanceHealthOutput, error) {
	name := aws.StringValue(in.LoadBalancerName)
	ids := elbInstanceIDs(in.Instances)
	m.Log.Record("elb.DescribeInstanceHealth %s %s", name, strings.Join(ids, ","))
	if err := m.Errors["DescribeInstanceHealth"]; err != nil {
		return nil, err
	}
	var out []*elb.InstanceState
	for _, id := range ids {
		if state, ok := m.States[id]; ok {
			out = append(out, state)
			continue
		}
		out = append(out, &elb.InstanceState{
			InstanceId:  aws.String(id),
			State:       aws.String("InService"),
			ReasonCode:  aws.String("N/A"),
			Description: aws.String("N/A"),
		})
	}
	return &elb.DescribeInstanceHealthOutput{InstanceStates: out}, nil
}

func elbInstanceIDs(instances []*elb.Instance) []string {
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = aws.StringValue(inst.InstanceId)
	}
	return ids
}

func elbInstances(ids []string) []*elb.Instance {
	out := make([]*elb.Instance, len(ids))
	for i, id := range ids {
		out[i] = &elb.Instance{InstanceId: aws.String(id)}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

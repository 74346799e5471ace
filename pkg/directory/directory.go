// Package directory is the client for the inventory service
// (OpsWorks). It turns the names people type into the opaque IDs the
// service wants, and wraps the listings and layer-level operations
// the rest of easy-deploy needs.
//
// Resolved IDs are kept for the life of the Directory and never
// looked up again.
package directory

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/opsworks"
	"github.com/aws/aws-sdk-go/service/opsworks/opsworksiface"
	"github.com/go-kit/kit/log"

	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
)

const service = "opsworks"

type Directory struct {
	api    opsworksiface.OpsWorksAPI
	logger log.Logger

	stacks map[string]fleet.StackID
	layers map[scopedName]fleet.LayerID
	apps   map[scopedName]fleet.AppID
}

type scopedName struct {
	stack fleet.StackID
	name  string
}

func New(api opsworksiface.OpsWorksAPI, logger log.Logger) *Directory {
	return &Directory{
		api:    api,
		logger: logger,
		stacks: map[string]fleet.StackID{},
		layers: map[scopedName]fleet.LayerID{},
		apps:   map[scopedName]fleet.AppID{},
	}
}

func key(name string) string {
	return strings.ToLower(name)
}

// ResolveStack finds the stack with the given name, ignoring case.
func (d *Directory) ResolveStack(ctx context.Context, name string) (fleet.StackID, error) {
	if id, ok := d.stacks[key(name)]; ok {
		return id, nil
	}
	out, err := d.api.DescribeStacksWithContext(ctx, &opsworks.DescribeStacksInput{})
	if err != nil {
		return "", deployerr.RemoteCall(service, "DescribeStacks", err)
	}
	for _, stack := range out.Stacks {
		if strings.EqualFold(aws.StringValue(stack.Name), name) {
			id := fleet.StackID(aws.StringValue(stack.StackId))
			d.stacks[key(name)] = id
			d.logger.Log("resolved", "stack", "name", name, "id", id)
			return id, nil
		}
	}
	return "", deployerr.NotFound("stack %s not found", name)
}

// ResolveLayer finds the layer with the given name in the stack,
// ignoring case.
func (d *Directory) ResolveLayer(ctx context.Context, stackID fleet.StackID, name string) (fleet.LayerID, error) {
	k := scopedName{stackID, key(name)}
	if id, ok := d.layers[k]; ok {
		return id, nil
	}
	out, err := d.api.DescribeLayersWithContext(ctx, &opsworks.DescribeLayersInput{
		StackId: aws.String(string(stackID)),
	})
	if err != nil {
		return "", deployerr.RemoteCall(service, "DescribeLayers", err)
	}
	for _, layer := range out.Layers {
		if strings.EqualFold(aws.StringValue(layer.Name), name) {
			id := fleet.LayerID(aws.StringValue(layer.LayerId))
			d.layers[k] = id
			d.logger.Log("resolved", "layer", "name", name, "id", id)
			return id, nil
		}
	}
	return "", deployerr.NotFound("no layer found with name %s in stack %s", name, stackID)
}

// ResolveApplication finds the application with the given short name
// in the stack, ignoring case.
func (d *Directory) ResolveApplication(ctx context.Context, stackID fleet.StackID, shortname string) (fleet.AppID, error) {
	k := scopedName{stackID, key(shortname)}
	if id, ok := d.apps[k]; ok {
		return id, nil
	}
	out, err := d.api.DescribeAppsWithContext(ctx, &opsworks.DescribeAppsInput{
		StackId: aws.String(string(stackID)),
	})
	if err != nil {
		return "", deployerr.RemoteCall(service, "DescribeApps", err)
	}
	for _, app := range out.Apps {
		if strings.EqualFold(aws.StringValue(app.Shortname), shortname) {
			id := fleet.AppID(aws.StringValue(app.AppId))
			d.apps[k] = id
			d.logger.Log("resolved", "application", "name", shortname, "id", id)
			return id, nil
		}
	}
	return "", deployerr.NotFound("application %s not found in stack %s", shortname, stackID)
}

// LayerInstances lists the instances in a layer, in the order the
// inventory returns them.
func (d *Directory) LayerInstances(ctx context.Context, layerID fleet.LayerID) ([]fleet.Instance, error) {
	return d.describeInstances(ctx, &opsworks.DescribeInstancesInput{
		LayerId: aws.String(string(layerID)),
	})
}

// StackInstances lists every instance in a stack, in the order the
// inventory returns them.
func (d *Directory) StackInstances(ctx context.Context, stackID fleet.StackID) ([]fleet.Instance, error) {
	return d.describeInstances(ctx, &opsworks.DescribeInstancesInput{
		StackId: aws.String(string(stackID)),
	})
}

func (d *Directory) describeInstances(ctx context.Context, in *opsworks.DescribeInstancesInput) ([]fleet.Instance, error) {
	out, err := d.api.DescribeInstancesWithContext(ctx, in)
	if err != nil {
		return nil, deployerr.RemoteCall(service, "DescribeInstances", err)
	}
	instances := make([]fleet.Instance, 0, len(out.Instances))
	for _, inst := range out.Instances {
		instances = append(instances, fleet.Instance{
			ID:       aws.StringValue(inst.InstanceId),
			EC2ID:    aws.StringValue(inst.Ec2InstanceId),
			Hostname: aws.StringValue(inst.Hostname),
			Status:   aws.StringValue(inst.Status),
		})
	}
	return instances, nil
}

// LayerLoadBalancers lists the load balancers attached to a layer.
func (d *Directory) LayerLoadBalancers(ctx context.Context, layerID fleet.LayerID) ([]fleet.LoadBalancerAttachment, error) {
	return d.describeLoadBalancers(ctx, &opsworks.DescribeElasticLoadBalancersInput{
		LayerIds: aws.StringSlice([]string{string(layerID)}),
	})
}

// StackLoadBalancers lists every load balancer the inventory knows
// about in a stack, attached to a layer or not.
func (d *Directory) StackLoadBalancers(ctx context.Context, stackID fleet.StackID) ([]fleet.LoadBalancerAttachment, error) {
	return d.describeLoadBalancers(ctx, &opsworks.DescribeElasticLoadBalancersInput{
		StackId: aws.String(string(stackID)),
	})
}

func (d *Directory) describeLoadBalancers(ctx context.Context, in *opsworks.DescribeElasticLoadBalancersInput) ([]fleet.LoadBalancerAttachment, error) {
	out, err := d.api.DescribeElasticLoadBalancersWithContext(ctx, in)
	if err != nil {
		return nil, deployerr.RemoteCall(service, "DescribeElasticLoadBalancers", err)
	}
	attachments := make([]fleet.LoadBalancerAttachment, 0, len(out.ElasticLoadBalancers))
	for _, lb := range out.ElasticLoadBalancers {
		attachments = append(attachments, fleet.LoadBalancerAttachment{
			Name:           aws.StringValue(lb.ElasticLoadBalancerName),
			EC2InstanceIDs: aws.StringValueSlice(lb.Ec2InstanceIds),
		})
	}
	return attachments, nil
}

// AttachLoadBalancer attaches a load balancer to a layer. OpsWorks
// runs a configure event on the layer's instances when this happens.
func (d *Directory) AttachLoadBalancer(ctx context.Context, name string, layerID fleet.LayerID) error {
	_, err := d.api.AttachElasticLoadBalancerWithContext(ctx, &opsworks.AttachElasticLoadBalancerInput{
		ElasticLoadBalancerName: aws.String(name),
		LayerId:                 aws.String(string(layerID)),
	})
	if err != nil {
		return deployerr.RemoteCall(service, "AttachElasticLoadBalancer", err)
	}
	return nil
}

func (d *Directory) DetachLoadBalancer(ctx context.Context, name string, layerID fleet.LayerID) error {
	_, err := d.api.DetachElasticLoadBalancerWithContext(ctx, &opsworks.DetachElasticLoadBalancerInput{
		ElasticLoadBalancerName: aws.String(name),
		LayerId:                 aws.String(string(layerID)),
	})
	if err != nil {
		return deployerr.RemoteCall(service, "DetachElasticLoadBalancer", err)
	}
	return nil
}

// CreateDeployment submits a deployment and returns its ID.
func (d *Directory) CreateDeployment(ctx context.Context, in *opsworks.CreateDeploymentInput) (string, error) {
	out, err := d.api.CreateDeploymentWithContext(ctx, in)
	if err != nil {
		return "", deployerr.RemoteCall(service, "CreateDeployment", err)
	}
	return aws.StringValue(out.DeploymentId), nil
}

// DescribeDeployment fetches a deployment by ID. It returns nil if the
// service didn't include it in the answer.
func (d *Directory) DescribeDeployment(ctx context.Context, id string) (*opsworks.Deployment, error) {
	out, err := d.api.DescribeDeploymentsWithContext(ctx, &opsworks.DescribeDeploymentsInput{
		DeploymentIds: aws.StringSlice([]string{id}),
	})
	if err != nil {
		return nil, deployerr.RemoteCall(service, "DescribeDeployments", err)
	}
	for _, dep := range out.Deployments {
		if aws.StringValue(dep.DeploymentId) == id {
			return dep, nil
		}
	}
	return nil, nil
}

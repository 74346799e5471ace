// Package operation describes what a deployment does to the instances
// it targets: deploy an application, or update the instances'
// dependencies. Each kind knows how to build the request the inventory
// service is sent, and whether the orchestration needs to wait for a
// reboot after it.
package operation

import (
	"time"

	"github.com/aws/aws-sdk-go/service/opsworks"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
)

// DefaultRebootDelay is how long to wait after a dependency update that
// may have rebooted the instance.
const DefaultRebootDelay = 300 * time.Second

// Kind is one of Deploy or UpdateDependencies. No other types
// implement it.
type Kind interface {
	// Command is the deployment command name sent to the inventory
	// service.
	Command() string
	isKind()
}

// Deploy deploys an application. AppID is filled in once Application
// has been resolved.
type Deploy struct {
	Application string
	AppID       fleet.AppID
}

func (Deploy) Command() string { return opsworks.DeploymentCommandNameDeploy }
func (Deploy) isKind()         {}

// UpdateDependencies updates the operating system packages on the
// instances, optionally letting them reboot, and optionally moving
// them to a different OS release.
type UpdateDependencies struct {
	AllowReboot bool
	OSRelease   string
}

func (UpdateDependencies) Command() string {
	return opsworks.DeploymentCommandNameUpdateDependencies
}
func (UpdateDependencies) isKind() {}

// WaitsForReboot reports whether the orchestration should wait for
// instances to reboot after a deployment of this kind completes.
func WaitsForReboot(kind Kind) bool {
	update, ok := kind.(UpdateDependencies)
	return ok && update.AllowReboot
}

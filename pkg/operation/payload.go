package operation

import (
	"github.com/Jeffail/gabs"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/opsworks"
	jsonpatch "github.com/evanphx/json-patch"
	"github.com/pkg/errors"

	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
)

const (
	allowRebootPath = "dependencies.allow_reboot"
	osReleasePath   = "dependencies.os_release_version"
)

// Request is the part of a deployment that doesn't depend on its
// kind.
type Request struct {
	StackID     fleet.StackID
	InstanceIDs []string
	Comment     string
	// CustomJSON is never modified; nil is the same as an empty
	// object.
	CustomJSON *gabs.Container
}

// Payload builds the create-deployment call for a deployment of the
// given kind.
func Payload(kind Kind, req Request) (*opsworks.CreateDeploymentInput, error) {
	custom := req.CustomJSON
	if custom == nil {
		custom = gabs.New()
	}
	in := &opsworks.CreateDeploymentInput{
		StackId:     aws.String(string(req.StackID)),
		InstanceIds: aws.StringSlice(req.InstanceIDs),
		Command:     &opsworks.DeploymentCommand{Name: aws.String(kind.Command())},
	}
	if req.Comment != "" {
		in.Comment = aws.String(req.Comment)
	}

	switch k := kind.(type) {
	case Deploy:
		in.AppId = aws.String(string(k.AppID))
		in.CustomJson = aws.String(objectString(custom))
	case UpdateDependencies:
		doc, err := updatePayload(k, custom)
		if err != nil {
			return nil, err
		}
		in.CustomJson = aws.String(doc)
	default:
		return nil, errors.Errorf("unknown operation kind %T", kind)
	}
	return in, nil
}

func updatePayload(kind UpdateDependencies, custom *gabs.Container) (string, error) {
	overrides, err := gabs.ParseJSON([]byte(objectString(custom)))
	if err != nil {
		return "", errors.Wrap(err, "copying custom JSON")
	}
	if kind.OSRelease != "" {
		if _, err := overrides.SetP(kind.OSRelease, osReleasePath); err != nil {
			return "", deployerr.UserError("cannot set %s in custom JSON: %s", osReleasePath, err)
		}
	}

	base := gabs.New()
	base.SetP(kind.AllowReboot, allowRebootPath)
	merged, err := jsonpatch.MergePatch(base.Bytes(), overrides.Bytes())
	if err != nil {
		return "", errors.Wrap(err, "merging custom JSON")
	}

	doc, err := gabs.ParseJSON(merged)
	if err != nil {
		return "", errors.Wrap(err, "parsing merged custom JSON")
	}
	// The reboot flag given on the command line wins over anything in
	// the custom JSON.
	if _, err := doc.SetP(kind.AllowReboot, allowRebootPath); err != nil {
		return "", deployerr.UserError("cannot set %s in custom JSON: %s", allowRebootPath, err)
	}
	return doc.String(), nil
}

// objectString renders a container, treating an empty one as {}.
func objectString(c *gabs.Container) string {
	if c.Data() == nil {
		return "{}"
	}
	return c.String()
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/operation"
)

type updateOpts struct {
	*rootOpts
	allowReboot   bool
	noAllowReboot bool
	osRelease     string
}

func newUpdate(parent *rootOpts) *updateOpts {
	return &updateOpts{rootOpts: parent}
}

func (opts *updateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Install operating system and package updates.",
		Example: makeExample(
			"easy-deploy update rolling --stack-name web --layer-name api",
			"easy-deploy update --allow-reboot --amazon-linux-release 2018.03 rolling --stack-name web --layer-name api",
		),
	}
	flags := cmd.PersistentFlags()
	flags.BoolVar(&opts.allowReboot, "allow-reboot", false, "allow OpsWorks to reboot instances if the kernel was updated, and wait for them to come back")
	flags.BoolVar(&opts.noAllowReboot, "no-allow-reboot", false, "don't let OpsWorks reboot instances (the default)")
	flags.StringVar(&opts.osRelease, "amazon-linux-release", "", "move instances to this Amazon Linux release; only use it when OpsWorks supports the release")
	addTargetCommands(cmd, opts.rootOpts, opts.kind)
	return cmd
}

func (opts *updateOpts) kind() (operation.Kind, error) {
	if opts.allowReboot && opts.noAllowReboot {
		return nil, newUsageError("please supply only one of --allow-reboot or --no-allow-reboot")
	}
	return operation.UpdateDependencies{
		AllowReboot: opts.allowReboot,
		OSRelease:   opts.osRelease,
	}, nil
}

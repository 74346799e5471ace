package main

import (
	"github.com/spf13/cobra"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/operation"
)

type deployOpts struct {
	*rootOpts
	application string
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy an application.",
		Example: makeExample(
			"easy-deploy deploy --application myapp rolling --stack-name web --layer-name api",
			"easy-deploy deploy --application myapp all --stack-name web --layer-name api --exclude-hosts api1",
			`easy-deploy deploy --application myapp instances --stack-name web --hosts api1 --custom-json '{"deploy":{"myapp":{"scm":{"revision":"5ed93d9"}}}}'`,
		),
	}
	cmd.PersistentFlags().StringVarP(&opts.application, "application", "a", "", "short name of the OpsWorks application to deploy")
	addTargetCommands(cmd, opts.rootOpts, opts.kind)
	return cmd
}

func (opts *deployOpts) kind() (operation.Kind, error) {
	if opts.application == "" {
		return nil, errorRequiredFlag("application")
	}
	return operation.Deploy{Application: opts.application}, nil
}

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/fleet"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/operation"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/orchestrate"
)

// The options shared by every target command.
type targetOpts struct {
	*rootOpts
	kind func() (operation.Kind, error)

	stack      string
	layer      string
	comment    string
	timeout    int
	customJSON string
	dryRun     bool
}

func addTargetCommands(parent *cobra.Command, root *rootOpts, kind func() (operation.Kind, error)) {
	newTarget := func() *targetOpts {
		return &targetOpts{rootOpts: root, kind: kind}
	}
	parent.AddCommand(
		newAll(newTarget()).Command(),
		newRolling(newTarget()).Command(),
		newInstances(newTarget()).Command(),
	)
}

func (opts *targetOpts) addFlags(cmd *cobra.Command, withLayer bool) {
	cmd.Flags().StringVar(&opts.stack, "stack-name", "", "OpsWorks stack name")
	if withLayer {
		cmd.Flags().StringVar(&opts.layer, "layer-name", "", "OpsWorks layer to deploy to")
	}
	cmd.Flags().StringVar(&opts.comment, "comment", "", "deployment message")
	cmd.Flags().IntVar(&opts.timeout, "timeout", 0, "seconds to wait for each deployment to finish; 0 means no limit")
	cmd.Flags().StringVar(&opts.customJSON, "custom-json", "", "custom JSON for the deployment, or the path of a file holding it")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "do not deploy anything; just report what would have been done")
}

// prepare checks the shared options and sets up a run.
func (opts *targetOpts) prepare(args []string, withLayer bool) (operation.Kind, *orchestrate.Orchestrator, error) {
	if len(args) != 0 {
		return nil, nil, errorWantedNoArgs
	}
	kind, err := opts.kind()
	if err != nil {
		return nil, nil, err
	}
	if opts.stack == "" {
		return nil, nil, errorRequiredFlag("stack-name")
	}
	if withLayer && opts.layer == "" {
		return nil, nil, errorRequiredFlag("layer-name")
	}
	if opts.timeout < 0 {
		return nil, nil, newUsageError("--timeout must not be negative")
	}
	o, err := opts.orchestrator(opts.dryRun)
	if err != nil {
		return nil, nil, err
	}
	return kind, o, nil
}

func (opts *targetOpts) target() orchestrate.Target {
	return orchestrate.Target{
		Stack:      opts.stack,
		Layer:      opts.layer,
		Comment:    opts.comment,
		Timeout:    time.Duration(opts.timeout) * time.Second,
		CustomJSON: opts.customJSON,
	}
}

type allOpts struct {
	*targetOpts
	excludeHosts string
}

func newAll(parent *targetOpts) *allOpts {
	return &allOpts{targetOpts: parent}
}

func (opts *allOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Deploy to every online instance in the layer, one after another, leaving load balancers alone.",
		RunE:  opts.RunE,
	}
	opts.addFlags(cmd, true)
	cmd.Flags().StringVarP(&opts.excludeHosts, "exclude-hosts", "x", "", "hostnames to leave out (comma separated; * matches anything)")
	return cmd
}

func (opts *allOpts) RunE(_ *cobra.Command, args []string) error {
	kind, o, err := opts.prepare(args, true)
	if err != nil {
		return err
	}
	return o.AllAtOnce(context.Background(), kind, opts.target(), fleet.ParseHostList(opts.excludeHosts))
}

type rollingOpts struct {
	*targetOpts
	manageLayerELBs bool
}

func newRolling(parent *targetOpts) *rollingOpts {
	return &rollingOpts{targetOpts: parent}
}

func (opts *rollingOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rolling",
		Short: "Deploy to the online instances in the layer one at a time, taking each out of its load balancers meanwhile.",
		RunE:  opts.RunE,
	}
	opts.addFlags(cmd, true)
	cmd.Flags().BoolVar(&opts.manageLayerELBs, "manage-layer-elbs", false,
		"detach the layer's load balancers while the deployment runs, and re-attach them once it has succeeded")
	return cmd
}

func (opts *rollingOpts) RunE(_ *cobra.Command, args []string) error {
	kind, o, err := opts.prepare(args, true)
	if err != nil {
		return err
	}
	return o.Rolling(context.Background(), kind, opts.target(), opts.manageLayerELBs)
}

type instancesOpts struct {
	*targetOpts
	hosts string
}

func newInstances(parent *targetOpts) *instancesOpts {
	return &instancesOpts{targetOpts: parent}
}

func (opts *instancesOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Deploy to the named hosts in the stack, all in one deployment.",
		RunE:  opts.RunE,
	}
	opts.addFlags(cmd, false)
	cmd.Flags().StringVarP(&opts.hosts, "hosts", "H", "", "hostnames to deploy to (comma separated; * matches anything)")
	return cmd
}

func (opts *instancesOpts) RunE(_ *cobra.Command, args []string) error {
	if len(fleet.ParseHostList(opts.hosts)) == 0 {
		return errorRequiredFlag("hosts")
	}
	kind, o, err := opts.prepare(args, false)
	if err != nil {
		return err
	}
	return o.Hosts(context.Background(), kind, opts.target(), fleet.ParseHostList(opts.hosts))
}

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/service/elb/elbiface"
	"github.com/aws/aws-sdk-go/service/opsworks/opsworksiface"
	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/easy-deploy/opsworks-easy-deploy/pkg/awsclient"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/clock"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/config"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/deployment"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/directory"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/loadbalancer"
	"github.com/easy-deploy/opsworks-easy-deploy/pkg/orchestrate"
)

const (
	EnvVariableProfile = "EASY_DEPLOY_PROFILE"
	EnvVariableConfig  = "EASY_DEPLOY_CONFIG"

	// Waits shorter than this don't get a progress bar.
	progressMinBar = 10 * time.Second
)

type rootOpts struct {
	configPath     string
	profile        string
	opsworksRegion string
	elbRegion      string
	logFormat      string
	metricsFile    string
	progress       bool
	apiRPS         float64
	apiBurst       int

	Config   config.Config
	Logger   log.Logger
	OpsWorks opsworksiface.OpsWorksAPI
	ELB      elbiface.ELBAPI
	Clock    clock.Clock
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
easy-deploy runs OpsWorks deployments across a layer or a list of
hosts, taking instances out of their load balancers while they are
deployed to.

Workflow:
  easy-deploy deploy --application myapp rolling --stack-name web --layer-name api   # One instance at a time, behind the ELB.
  easy-deploy deploy --application myapp all --stack-name web --layer-name worker    # Every instance in the layer.
  easy-deploy update --allow-reboot instances --stack-name web --hosts api1,api2     # Update packages on two hosts.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "easy-deploy",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	home, _ := os.UserHomeDir()
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", filepath.Join(home, config.ConfigName),
		fmt.Sprintf("path to the config file; you can also set the environment variable %s", EnvVariableConfig))
	flags.StringVar(&opts.profile, "profile", "",
		fmt.Sprintf("AWS profile used to look up credentials; you can also set the environment variable %s", EnvVariableProfile))
	flags.StringVar(&opts.opsworksRegion, "opsworks-region", config.DefaultRegion, "OpsWorks region endpoint")
	flags.StringVar(&opts.elbRegion, "elb-region", config.DefaultRegion, "Elastic Load Balancer region endpoint")
	flags.StringVar(&opts.logFormat, "log-format", config.LogFormatFmt, "change the log format (fmt or json)")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write metrics for the run to this file, in the Prometheus text format")
	flags.BoolVar(&opts.progress, "progress", false, "draw a progress bar during long waits")
	flags.Float64Var(&opts.apiRPS, "api-rps", 0, "maximum AWS API requests per second; 0 means no limit")
	flags.IntVar(&opts.apiBurst, "api-burst", 1, "burst of AWS API requests allowed over --api-rps")
	cmd.SetGlobalNormalizationFunc(normalizeFlagName)

	cmd.AddCommand(
		newDeploy(opts).Command(),
		newUpdate(opts).Command(),
		newVersionCommand(),
	)
	return cmd
}

// normalizeFlagName accepts underscores in flag names, as in
// --custom_json.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "_", "-", -1))
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	path, mustExist := opts.configPath, cmd.Flags().Changed("config")
	if env := os.Getenv(EnvVariableConfig); env != "" && !mustExist {
		path, mustExist = env, true
	}
	cfg, err := config.Load(path, mustExist)
	if err != nil {
		return err
	}

	if env := os.Getenv(EnvVariableProfile); env != "" {
		cfg.Profile = env
	}
	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.Profile = opts.profile
	}
	if flags.Changed("opsworks-region") {
		cfg.OpsWorksRegion = opts.opsworksRegion
	}
	if flags.Changed("elb-region") {
		cfg.ELBRegion = opts.elbRegion
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = opts.metricsFile
	}
	if flags.Changed("progress") {
		cfg.Progress = opts.progress
	}
	if flags.Changed("api-rps") {
		cfg.APIRPS = opts.apiRPS
	}
	if flags.Changed("api-burst") {
		cfg.APIBurst = opts.apiBurst
	}
	if err := cfg.IsValid(); err != nil {
		return newUsageError(err.Error())
	}
	opts.Config = cfg

	if opts.Logger == nil {
		var logger log.Logger
		switch cfg.LogFormat {
		case config.LogFormatJSON:
			logger = log.NewJSONLogger(log.NewSyncWriter(cmd.ErrOrStderr()))
		default:
			logger = log.NewLogfmtLogger(log.NewSyncWriter(cmd.ErrOrStderr()))
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
		opts.Logger = logger
	}
	if opts.Clock == nil {
		if cfg.Progress {
			opts.Clock = clock.Progress{Out: cmd.ErrOrStderr(), MinBar: progressMinBar}
		} else {
			opts.Clock = clock.Real{}
		}
	}
	return nil
}

// orchestrator wires up everything a run needs. The AWS clients are
// only made here, so that commands that don't talk to AWS never need
// credentials.
func (opts *rootOpts) orchestrator(dryRun bool) (*orchestrate.Orchestrator, error) {
	if opts.OpsWorks == nil || opts.ELB == nil {
		clients, err := awsclient.New(awsclient.Config{
			Profile:        opts.Config.Profile,
			OpsWorksRegion: opts.Config.OpsWorksRegion,
			ELBRegion:      opts.Config.ELBRegion,
			RPS:            opts.Config.APIRPS,
			Burst:          opts.Config.APIBurst,
		}, log.With(opts.Logger, "component", "awsclient"))
		if err != nil {
			return nil, err
		}
		if opts.OpsWorks == nil {
			opts.OpsWorks = clients.OpsWorks
		}
		if opts.ELB == nil {
			opts.ELB = clients.ELB
		}
	}

	dir := directory.New(opts.OpsWorks, log.With(opts.Logger, "component", "directory"))

	balancer := loadbalancer.New(opts.ELB, dir, opts.Clock, log.With(opts.Logger, "component", "elb"))
	balancer.DrainFallback = opts.Config.DrainFallback.Duration
	balancer.HealthMargin = opts.Config.HealthMargin

	dispatcher := deployment.New(dir, opts.Clock, log.With(opts.Logger, "component", "deployment"))
	dispatcher.PollInterval = opts.Config.PollInterval.Duration

	return &orchestrate.Orchestrator{
		Inventory:   dir,
		Balancer:    balancer,
		Dispatcher:  dispatcher,
		Clock:       opts.Clock,
		Logger:      log.With(opts.Logger, "component", "orchestrate"),
		RebootDelay: opts.Config.RebootDelay.Duration,
		DryRun:      dryRun,
	}, nil
}

func makeExample(examples ...string) string {
	var buf bytes.Buffer
	for _, ex := range examples {
		fmt.Fprintln(&buf, "  "+ex)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

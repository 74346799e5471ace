package main

import (
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"

	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
)

func main() {
	root := newRoot()
	rootCmd := root.Command()

	cmd, err := rootCmd.ExecuteC()
	root.writeMetrics()
	if err != nil {
		logger := root.Logger
		if logger == nil {
			logger = log.NewLogfmtLogger(os.Stderr)
		}
		reportError(logger, err)
		switch err.(type) {
		case usageError:
			cmd.Println("")
			cmd.Println(cmd.UsageString())
		}
		os.Exit(1)
	}
}

// reportError logs the error that ended the run. Errors that don't
// carry their own help get the catch-all help; usage errors are
// followed by the usage text instead.
func reportError(logger log.Logger, err error) {
	if _, ok := err.(usageError); ok {
		logger.Log("err", err)
		return
	}
	if _, ok := pkgerrors.Cause(err).(*deployerr.Error); !ok {
		err = deployerr.CoverAllError(err)
	}
	if help := deployerr.Help(err); help != "" {
		logger.Log("err", err, "help", help)
	} else {
		logger.Log("err", err)
	}
}

// writeMetrics leaves the metrics for the run in a textfile, for a node
// exporter to pick up.
func (opts *rootOpts) writeMetrics() {
	if opts.Config.MetricsFile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(opts.Config.MetricsFile, prometheus.DefaultGatherer); err != nil && opts.Logger != nil {
		opts.Logger.Log("err", err, "metrics_file", opts.Config.MetricsFile)
	}
}

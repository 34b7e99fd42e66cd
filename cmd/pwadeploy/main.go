package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pershinghar/pwa-deploy/pkg/config"
	"github.com/pershinghar/pwa-deploy/pkg/deploy"
	"github.com/pershinghar/pwa-deploy/pkg/util"
)

type options struct {
	configPath string
	verbose    bool
	skipBuild  bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "pwadeploy",
		Short: "Build the PWA and deploy it with the API backend to one server",
		Long: `pwadeploy builds the frontend bundle, uploads it and the backend script over
SSH, installs both, restarts the backend and checks that it is running.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeploy(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "deployment config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log command output and debug details")
	root.Flags().BoolVar(&opts.skipBuild, "skip-build", false, "upload the existing bundle without building")

	root.AddCommand(newPlanCommand(opts))
	root.AddCommand(newStatusCommand(opts))
	return root
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the remote commands without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# upload %s -> %s\n", cfg.FrontendDir(), cfg.Frontend.RemoteTmp)
			fmt.Fprintf(out, "# upload %s -> %s\n", cfg.Backend.LocalFile, cfg.Backend.RemoteTmp)
			for _, command := range deploy.Plan(cfg) {
				fmt.Fprintln(out, command)
			}
			fmt.Fprintf(out, "# verify\n%s\n", deploy.ProcessCheckCommand(cfg.Backend))
			return nil
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the backend process is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger := util.NewLogger(opts.verbose)

			runner := deploy.NewRunner(cfg, nil, deploy.NewSSHRemote(&cfg.SSH, logger), nil, logger)
			report, err := runner.Verify(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Process)
			return nil
		},
	}
}

func runDeploy(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger := util.NewLogger(opts.verbose)
	logger.Info("PWA deployment")

	var sink util.EventSink = util.NopSink{}
	if cfg.Events.Enabled() {
		mq := util.NewRabbitMQClient(&cfg.Events, logger)
		defer mq.Close()
		if err := mq.Connect(ctx); err != nil {
			logger.Warnf("Deploy events disabled: %v", err)
		} else {
			sink = mq
		}
	}

	runner := deploy.NewRunner(
		cfg,
		util.NewFrontendBuilder(cfg.Build, logger),
		deploy.NewSSHRemote(&cfg.SSH, logger),
		sink,
		logger,
	)
	runner.SkipBuild = opts.skipBuild

	report, err := runner.Run(ctx)
	logSummary(logger, report)
	return err
}

func logSummary(logger logrus.FieldLogger, report *deploy.Report) {
	if report == nil {
		return
	}
	for _, p := range report.Phases {
		entry := logger.WithFields(logrus.Fields{"run_id": report.RunID, "phase": p.Phase, "status": p.Status})
		if p.Err != nil {
			entry = entry.WithError(p.Err)
		}
		entry.Debugf("took %s", p.Duration)
	}
	if report.Succeeded() {
		logger.Infof("Deployment %s finished", report.RunID)
	} else if phase, ok := report.FailedPhase(); ok {
		logger.Errorf("Deployment %s stopped at %s", report.RunID, phase)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

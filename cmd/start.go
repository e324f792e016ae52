package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/ustack/internal/boot"
	"firestige.xyz/ustack/internal/config"
	"firestige.xyz/ustack/internal/log"
)

type startOptions struct {
	probe   time.Duration
	dumpARP bool
	timeout time.Duration
}

var startOpts startOptions

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the stack in foreground",
	Long: `
Run the stack until SIGINT or SIGTERM.

Examples:
  ustack start -c config.yml                 # Run with config.yml
  ustack start -c config.yml --probe 1s      # Send an ICMP echo over loopback every second
  ustack start -c config.yml --dump-arp      # Print the ARP cache on exit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runStart(ctx, configFile, startOpts, cmd.OutOrStdout())
	},
}

func init() {
	startCmd.Flags().DurationVar(&startOpts.probe, "probe", 0, "loopback probe interval, 0 disables")
	startCmd.Flags().BoolVar(&startOpts.dumpARP, "dump-arp", false, "print the ARP cache on exit")
	startCmd.Flags().DurationVarP(&startOpts.timeout, "timeout", "t", 5*time.Second, "shutdown timeout")
}

// runStart blocks until ctx is done.
func runStart(ctx context.Context, path string, opts startOptions, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := log.Init(&cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	logger := log.GetLogger().WithField("component", "cmd")

	rt, err := boot.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build stack: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stack: %w", err)
	}
	logger.Infof("stack running, devices=%d", len(rt.Stack().Devices()))

	var tick <-chan time.Time
	if opts.probe > 0 {
		ticker := time.NewTicker(opts.probe)
		defer ticker.Stop()
		tick = ticker.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-tick:
			if err := rt.Probe(); err != nil {
				logger.WithError(err).Warn("probe failed")
			}
		}
	}

	logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	err = rt.Stop(stopCtx)

	if opts.dumpARP {
		if derr := rt.DumpARP(out); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

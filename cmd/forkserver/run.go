package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/criyle/go-forkserver/kernel"
	"github.com/spf13/cobra"
)

type runFlags struct {
	module   string
	slug     string
	function string
	args     string
	root     string
	writable string
	network  bool
	timeout  time.Duration

	metricsAddr string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Call an entry point of a module and print its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCall(cmd.Context(), &f)
		},
	}
	cmd.Flags().StringVar(&f.module, "module", "", "Module file")
	cmd.Flags().StringVar(&f.slug, "slug", "", "Module slug (default file name)")
	cmd.Flags().StringVarP(&f.function, "function", "f", "", "Entry point")
	cmd.Flags().StringVar(&f.args, "args", "", "Arguments as JSON")
	cmd.Flags().StringVar(&f.root, "root", "", "Root directory of the module process")
	cmd.Flags().StringVar(&f.writable, "writable", "", "Writable path inside root")
	cmd.Flags().BoolVar(&f.network, "network", false, "Allow network access")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "Call timeout")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default metrics.listen)")
	cmd.MarkFlagRequired("module")
	cmd.MarkFlagRequired("function")
	return cmd
}

func runCall(ctx context.Context, f *runFlags) error {
	module, err := loadModule(f.module, f.slug)
	if err != nil {
		return err
	}
	var args any
	if f.args != "" {
		if err := json.Unmarshal([]byte(f.args), &args); err != nil {
			return fmt.Errorf("parsing --args: %w", err)
		}
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	stop, err := e.startMetrics(f.metricsAddr)
	if err != nil {
		return err
	}
	defer stop()

	sb := e.config.KernelOptions().Sandbox
	if f.root != "" {
		sb.Root = f.root
	}
	sb.WritablePath = f.writable
	sb.Network = f.network

	var result any
	err = e.kernel.Run(ctx, kernel.Call{
		Module:   module,
		Function: f.function,
		Args:     args,
		Sandbox:  sb,
		Timeout:  f.timeout,
	}, &result)
	if err != nil {
		return err
	}
	return writeOutput(os.Stdout, result)
}

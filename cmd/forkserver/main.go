// Command forkserver runs module calls in sandboxed module processes.
//
// The binary is its own helper and module process: init hands control to
// them before main when started in those modes.
package main

import (
	"fmt"
	"os"

	"github.com/criyle/go-forkserver/config"
	_ "github.com/criyle/go-forkserver/entry/builtin"
	"github.com/criyle/go-forkserver/kernel"
	"github.com/criyle/go-forkserver/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	output     string
)

// helper / module process init
func init() {
	kernel.Init()
}

func main() {
	root := &cobra.Command{
		Use:          "forkserver",
		Short:        "Run module calls in sandboxed processes",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./config.yaml)")
	root.PersistentFlags().StringVarP(&output, "output", "o", "json", "Output format (json, yaml)")

	root.AddCommand(newRunCmd(), newValidateCmd(), newStressCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what every command starts with
type env struct {
	config *config.Config
	logger *zap.Logger
	kernel *kernel.Kernel
}

func setup() (*env, error) {
	cfg, err := config.New(configPath)
	if err != nil {
		return nil, err
	}
	l, err := logger.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	kc := cfg.KernelOptions()
	kc.Stderr = os.Stderr
	k, err := kernel.New(kc, kernel.WithLogger(l))
	if err != nil {
		l.Sync()
		return nil, fmt.Errorf("start kernel: %w", err)
	}
	return &env{config: cfg, logger: l, kernel: k}, nil
}

func (e *env) close() {
	if err := e.kernel.Close(); err != nil {
		e.logger.Warn("kernel close", zap.Error(err))
	}
	e.logger.Sync()
}

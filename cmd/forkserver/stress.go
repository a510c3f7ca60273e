package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/criyle/go-forkserver/kernel"
	"github.com/criyle/go-forkserver/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type stressFlags struct {
	count       int
	concurrency int
	timeout     time.Duration
	metricsAddr string
}

type stressSummary struct {
	Calls      int     `json:"calls" yaml:"calls"`
	Failed     int64   `json:"failed" yaml:"failed"`
	Mismatched int64   `json:"mismatched" yaml:"mismatched"`
	Duration   string  `json:"duration" yaml:"duration"`
	PerSecond  float64 `json:"per_second" yaml:"per_second"`
}

// echoArgs is unique per call so a result delivered to the wrong caller
// is detected
type echoArgs struct {
	Index int    `cbor:"index"`
	Nonce string `cbor:"nonce"`
}

func newStressCmd() *cobra.Command {
	var f stressFlags
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent echo calls and check every caller gets its own result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStress(cmd.Context(), &f)
		},
	}
	cmd.Flags().IntVarP(&f.count, "count", "n", 1000, "Number of calls")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "c", 16, "Calls in flight")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Timeout of each call")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default metrics.listen)")
	return cmd
}

func runStress(ctx context.Context, f *stressFlags) error {
	if f.count <= 0 || f.concurrency <= 0 {
		return errors.New("count and concurrency must be positive")
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
	module := types.NewCompiledModule("stress", []byte("stress"))

	var failed, mismatched atomic.Int64
	g := errgroup.Group{}
	g.SetLimit(f.concurrency)

	start := time.Now()
	for i := range f.count {
		g.Go(func() error {
			want := echoArgs{Index: i, Nonce: uuid.NewString()}
			var got echoArgs
			err := e.kernel.Run(ctx, kernel.Call{
				Module:   module,
				Function: types.FuncEcho,
				Args:     want,
				Sandbox:  sb,
				Timeout:  f.timeout,
			}, &got)
			switch {
			case err != nil:
				failed.Add(1)
				e.logger.Warn("stress call failed", zap.Int("index", i), zap.Error(err))
			case got != want:
				mismatched.Add(1)
				e.logger.Error("stress result mismatch", zap.Int("index", i), zap.Any("got", got))
			}
			return nil
		})
	}
	g.Wait()
	d := time.Since(start)

	err = writeOutput(os.Stdout, stressSummary{
		Calls:      f.count,
		Failed:     failed.Load(),
		Mismatched: mismatched.Load(),
		Duration:   d.Round(time.Millisecond).String(),
		PerSecond:  float64(f.count) / d.Seconds(),
	})
	if err != nil {
		return err
	}
	if n := failed.Load() + mismatched.Load(); n > 0 {
		return fmt.Errorf("%d of %d calls failed", n, f.count)
	}
	return nil
}

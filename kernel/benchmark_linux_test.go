package kernel

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/criyle/go-forkserver/types"
	"go.uber.org/zap"
)

func BenchmarkRun(b *testing.B) {
	k, err := New(Config{
		Sandbox: testSandbox(),
		Preload: []string{"seccomp"},
		Stderr:  os.Stderr,
	}, WithLogger(zap.NewNop()))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		k.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			var result string
			err := k.Run(context.Background(), Call{
				Module:   testModule,
				Function: types.FuncEcho,
				Args:     "benchmark",
				Sandbox:  testSandbox(),
				Timeout:  10 * time.Second,
			}, &result)
			if err != nil {
				b.Error(err)
			}
		}
	})
}

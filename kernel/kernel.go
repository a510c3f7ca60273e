// Package kernel runs module calls in sandboxed module processes and turns
// their output into results or classified failures.
package kernel

import (
	"fmt"
	"io"
	"time"

	"github.com/criyle/go-forkserver/entry"
	"github.com/criyle/go-forkserver/pkg/cgroup"
	"github.com/criyle/go-forkserver/sandbox"
	"github.com/criyle/go-forkserver/spawner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Defaults of Config
const (
	DefaultTimeout        = 600 * time.Second
	DefaultOutputMaxBytes = 2 << 20
	DefaultLogMaxBytes    = 100 << 10
	DefaultReapAttempts   = 50
	DefaultReapInterval   = 20 * time.Millisecond
)

// Timeouts are the per function timeouts of the call wrappers
type Timeouts struct {
	Validate      time.Duration
	MigrateParams time.Duration
	Render        time.Duration
	Fetch         time.Duration
}

// Config configures a Kernel. Zero values take the defaults.
type Config struct {
	Timeouts Timeouts

	// OutputMaxBytes bounds the result frame read from stdout
	OutputMaxBytes int
	// LogMaxBytes bounds the diagnostic text read from stderr
	LogMaxBytes int

	// ReapAttempts and ReapInterval bound the non-blocking waits after the
	// output closed, before the process is killed
	ReapAttempts int
	ReapInterval time.Duration

	// Sandbox is the base sandbox of the wrappers. Root is the read-only
	// root of validate and migrate_params.
	Sandbox sandbox.Config

	// CgroupParent is the delegated cgroup v2 directory the cgroups of
	// StepCgroup calls are created in, empty disables StepCgroup
	CgroupParent string

	// ExecFile, Env, Preload and Stderr configure the helper
	ExecFile string
	Env      []string
	Preload  []string
	Stderr   io.Writer
}

func (c *Config) setDefaults() {
	for _, t := range []*time.Duration{&c.Timeouts.Validate, &c.Timeouts.MigrateParams, &c.Timeouts.Render, &c.Timeouts.Fetch} {
		if *t <= 0 {
			*t = DefaultTimeout
		}
	}
	if c.OutputMaxBytes <= 0 {
		c.OutputMaxBytes = DefaultOutputMaxBytes
	}
	if c.LogMaxBytes <= 0 {
		c.LogMaxBytes = DefaultLogMaxBytes
	}
	if c.ReapAttempts <= 0 {
		c.ReapAttempts = DefaultReapAttempts
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
}

// Option configures a Kernel
type Option func(*Kernel)

// WithLogger sets the logger, default is no logging
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) {
		k.logger = l
	}
}

// WithMetrics sets the metrics, default is a private registry
func WithMetrics(m *Metrics) Option {
	return func(k *Kernel) {
		k.metrics = m
	}
}

// WithTracerProvider sets the tracer provider, default is the global one
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(k *Kernel) {
		k.tracer = tp.Tracer(tracerName)
	}
}

// Kernel runs module calls. It is safe for concurrent use.
type Kernel struct {
	config  Config
	spawner *spawner.Client
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	cgroup  *cgroup.Cgroup
}

// New starts the helper and returns a Kernel using it
func New(c Config, opts ...Option) (*Kernel, error) {
	c.setDefaults()
	k := &Kernel{config: c}
	for _, o := range opts {
		o(k)
	}
	if k.logger == nil {
		k.logger = zap.NewNop()
	}
	if k.metrics == nil {
		k.metrics = NewMetrics()
	}
	if k.tracer == nil {
		k.tracer = otel.Tracer(tracerName)
	}

	if c.CgroupParent != "" {
		cg, err := cgroup.Parent(c.CgroupParent)
		if err != nil {
			return nil, fmt.Errorf("kernel: %w", err)
		}
		k.cgroup = cg
	}

	b := spawner.Builder{
		ExecFile: c.ExecFile,
		Env:      c.Env,
		Preload:  c.Preload,
		Stderr:   c.Stderr,
		Logger:   k.logger.Named("spawner"),
	}
	client, err := b.Start()
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	k.spawner = client
	return k, nil
}

// Metrics returns the metrics of the kernel
func (k *Kernel) Metrics() *Metrics {
	return k.metrics
}

// Close stops the helper. Calls in progress are not interrupted but new
// spawns fail.
func (k *Kernel) Close() error {
	return k.spawner.Close()
}

// Init is called at the start of the program. It is a noop in the host, and
// never returns in the helper and module processes.
func Init() {
	spawner.Init()
	entry.Init()
}

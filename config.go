package engine

import (
	"runtime"

	"github.com/tinydl/engine/internal/logging"
)

// Kind selects which dispatch implementation backs an Engine.
type Kind string

const (
	// KindNaive executes every pushed operator inline on the caller's
	// goroutine. Intended for debugging: no worker pools, no concurrency.
	KindNaive Kind = "naive"
	// KindPooled runs every device through a single shared worker pool.
	KindPooled Kind = "pooled"
	// KindPerDevice is the production variant: one CPU compute pool plus,
	// per configured GPU id, a compute pool and a single-thread copy pool.
	KindPerDevice Kind = "per_device"
)

// Config is the engine's external configuration surface.
type Config struct {
	// Kind selects the dispatch implementation. Defaults to KindPerDevice.
	Kind Kind

	// CPUWorkerThreads sizes the CPU compute pool. Defaults to
	// runtime.NumCPU(), capped at 32.
	CPUWorkerThreads int

	// GPUWorkerThreads sizes each GPU's compute pool. Defaults to 2.
	GPUWorkerThreads int

	// GPUCopyThreads sizes each GPU's copy pool. Fixed at 1; any other
	// value is rejected by Validate.
	GPUCopyThreads int

	// GPUDevices lists the GPU device ids the per_device variant should
	// spawn pools for; pooled routes these ids to its one shared pool.
	// Ignored by naive.
	GPUDevices []int

	// DebugDeps is accepted as the debug_deps option. No engine code reads
	// it, so setting it enables no additional checks.
	DebugDeps bool

	// CPUAffinity optionally pins CPU pool worker threads, round-robin.
	CPUAffinity []int

	// Logger receives all engine log output. Defaults to logging.Default().
	Logger *logging.Logger

	// Observer receives dispatch/completion metrics events. Defaults to a
	// *Metrics-backed observer created by New.
	Observer Observer
}

// DefaultConfig returns a Config with the production per_device variant
// and sensible worker counts.
func DefaultConfig() *Config {
	return &Config{
		Kind:             KindPerDevice,
		CPUWorkerThreads: defaultCPUThreads(),
		GPUWorkerThreads: 2,
		GPUCopyThreads:   1,
	}
}

func defaultCPUThreads() int {
	n := runtime.NumCPU()
	if n > 32 {
		return 32
	}
	if n < 1 {
		return 1
	}
	return n
}

// Validate checks the configuration for the kind of internal
// inconsistency that should abort engine construction rather than
// surface as a mysterious runtime failure.
func (c *Config) Validate() error {
	switch c.Kind {
	case KindNaive, KindPooled, KindPerDevice:
	default:
		return NewError("Config.Validate", ErrCodeInvalidConfig, "unknown engine_kind: "+string(c.Kind))
	}
	if c.CPUWorkerThreads < 0 {
		return NewError("Config.Validate", ErrCodeInvalidConfig, "cpu_worker_threads must be >= 0")
	}
	if c.GPUWorkerThreads < 0 {
		return NewError("Config.Validate", ErrCodeInvalidConfig, "gpu_worker_threads must be >= 0")
	}
	if c.GPUCopyThreads != 0 && c.GPUCopyThreads != 1 {
		return NewError("Config.Validate", ErrCodeInvalidConfig, "gpu_copy_threads is fixed at 1")
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.Kind == "" {
		cfg.Kind = KindPerDevice
	}
	if cfg.CPUWorkerThreads == 0 {
		cfg.CPUWorkerThreads = defaultCPUThreads()
	}
	if cfg.GPUWorkerThreads == 0 {
		cfg.GPUWorkerThreads = 2
	}
	if cfg.GPUCopyThreads == 0 {
		cfg.GPUCopyThreads = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &cfg
}

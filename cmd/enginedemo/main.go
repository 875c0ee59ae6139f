package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/tinydl/engine"
	"github.com/tinydl/engine/internal/logging"
)

func main() {
	var (
		kind       = flag.String("kind", "per_device", "engine kind: naive|pooled|per_device")
		cpuThreads = flag.Int("cpu-threads", 0, "CPU compute pool thread count (0 = default)")
		gpuThreads = flag.Int("gpu-threads", 2, "per-GPU compute pool thread count")
		gpuDevices = flag.Int("gpus", 0, "number of simulated GPU devices")
		numVars    = flag.Int("vars", 8, "number of variables in the synthetic workload")
		numOps     = flag.Int("ops", 200, "number of operators pushed against those variables")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := engine.DefaultConfig()
	cfg.Kind = engine.Kind(*kind)
	cfg.CPUWorkerThreads = *cpuThreads
	cfg.GPUWorkerThreads = *gpuThreads
	cfg.Logger = logger
	for g := 0; g < *gpuDevices; g++ {
		cfg.GPUDevices = append(cfg.GPUDevices, g)
	}

	e, err := engine.New(cfg)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("engine started", "kind", *kind, "gpus", *gpuDevices)

	go func() {
		for err := range e.Errors() {
			if ee, ok := engine.AsError(err); ok {
				logger.Error("callable failed", "op", ee.Op, "code", string(ee.Code), "var", ee.VarID, "opr", ee.OprID)
				continue
			}
			logger.Error("callable failed", "error", err)
		}
	}()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	runSyntheticWorkload(e, *numVars, *numOps, *gpuDevices)

	metrics := e.Metrics()
	fmt.Printf("pushed=%d completed=%d failed=%d avg_latency=%s pending=%d\n",
		metrics.OpsPushed.Load(), metrics.OpsCompleted.Load(), metrics.OpsFailed.Load(),
		metrics.AverageLatency(), e.PendingOps())
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	if err := e.Stop(); err != nil {
		logger.Error("error stopping engine", "error", err)
		os.Exit(1)
	}
	logger.Info("engine stopped cleanly")
}

// runSyntheticWorkload pushes a mix of reads and writes across a small
// variable set, mimicking the kind of dependency graph a training step
// produces, and blocks until every operator has drained.
func runSyntheticWorkload(e *engine.Engine, numVars, numOps, numGPUs int) {
	vars := make([]*engine.Variable, numVars)
	for i := range vars {
		vars[i] = e.NewVariable()
	}

	var wg sync.WaitGroup
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < numOps; i++ {
		v := vars[rng.Intn(numVars)]
		device := engine.CPUDevice
		prop := engine.Normal
		if numGPUs > 0 && rng.Intn(3) == 0 {
			device = rng.Intn(numGPUs)
		}

		wg.Add(1)
		if rng.Intn(4) == 0 {
			e.Push(engine.CallableFunc(func(rc engine.RunContext) {
				wg.Done()
			}), nil, []*engine.Variable{v}, engine.PushOpts{Device: device, Property: prop, Priority: int64(rng.Intn(10))})
		} else {
			e.Push(engine.CallableFunc(func(rc engine.RunContext) {
				wg.Done()
			}), []*engine.Variable{v}, nil, engine.PushOpts{Device: device, Property: prop, Priority: int64(rng.Intn(10))})
		}
	}
	wg.Wait()
	e.WaitForAll()

	for _, v := range vars {
		e.DeleteVariable(v)
	}
}

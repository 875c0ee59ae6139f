//go:build !linux

package pool

import "github.com/tinydl/engine/internal/logging"

// setAffinity is a no-op outside Linux: sched_setaffinity has no portable
// equivalent, and worker correctness never depends on pinning.
func setAffinity(workerIdx int, mask []int, log *logging.Logger) {}

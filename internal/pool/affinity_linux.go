//go:build linux

package pool

import (
	"golang.org/x/sys/unix"

	"github.com/tinydl/engine/internal/logging"
)

// setAffinity pins the calling OS thread (already locked via
// runtime.LockOSThread) to one CPU from mask, round-robin by worker index.
// A nil or empty mask leaves scheduling to the OS, which is the default for
// every pool unless the caller opts in via Config.CPUAffinity.
func setAffinity(workerIdx int, mask []int, log *logging.Logger) {
	if len(mask) == 0 {
		return
	}
	cpu := mask[workerIdx%len(mask)]
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.WithError(err).Warn("failed to set worker CPU affinity", "cpu", cpu)
		return
	}
	log.Debug("set worker CPU affinity", "cpu", cpu)
}

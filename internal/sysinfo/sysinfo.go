// Package sysinfo resolves hardware concurrency for default pool
// sizing, the way the spec's browser original falls back to
// navigator.hardwareConcurrency || 2.
package sysinfo

import (
	"log/slog"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// MaxThreads returns the logical CPU count via gopsutil, falling back
// to runtime.NumCPU() if the probe errors. This is the one place in
// the module that reaches for the standard library over gopsutil:
// NumCPU never fails and gopsutil's own Counts implementation is
// itself built on it for most platforms, so a hard failure here is a
// genuinely exceptional OS condition rather than routine variance.
func MaxThreads() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		slog.Warn("gopsutil cpu.Counts failed, falling back to runtime.NumCPU", "error", err)
		return runtime.NumCPU()
	}
	return n
}

// MinThreads is the spec's floor for a pool that never shrinks to zero
// live workers.
const MinThreads = 1

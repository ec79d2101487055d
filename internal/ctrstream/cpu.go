package ctrstream

import (
	"runtime"

	"github.com/shirou/gopsutil/cpu"
)

// workerCount picks the pregen worker pool size from the host topology:
// half the cores without SMT, a quarter of the logical cores with SMT
// (the same thing, counted either way), clamped to [2, MaxThreads].
// Peak throughput flattens past six workers even on large machines.
func workerCount() int {
	logical, lerr := cpu.Counts(true)
	physical, perr := cpu.Counts(false)

	var n int
	switch {
	case lerr != nil || logical <= 0:
		n = runtime.NumCPU() / 2
	case perr == nil && physical > 0 && logical > physical:
		// SMT enabled
		n = logical / 4
	default:
		n = logical / 2
	}

	if n < 2 {
		n = 2
	}
	if n > MaxThreads {
		n = MaxThreads
	}
	return n
}

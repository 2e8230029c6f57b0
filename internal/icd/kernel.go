package icd

import (
	"log/slog"

	"golang.org/x/sys/cpu"
)

// ForwardTermKernel selects which accumulation stride
// computeForwardTerm uses when reducing a voxel's sparse support.
type ForwardTermKernel int

const (
	KernelNarrow ForwardTermKernel = iota
	KernelWide
)

func (k ForwardTermKernel) String() string {
	if k == KernelWide {
		return "wide"
	}
	return "narrow"
}

// ActiveForwardTermKernel records which kernel init() selected, for
// diagnostics and tests.
var ActiveForwardTermKernel ForwardTermKernel

type forwardTermFunc func(aij, e, w []float32) (theta1, theta2 float32)

var activeForwardTermFunc forwardTermFunc

func init() {
	switch {
	case cpu.X86.HasAVX2:
		slog.Debug("icd: forward-term kernel selected", "kernel", "wide", "reason", "AVX2 detected")
		ActiveForwardTermKernel = KernelWide
	case cpu.ARM64.HasASIMD:
		slog.Debug("icd: forward-term kernel selected", "kernel", "wide", "reason", "NEON detected")
		ActiveForwardTermKernel = KernelWide
	default:
		slog.Debug("icd: forward-term kernel selected", "kernel", "narrow", "reason", "no wide accumulation ISA detected")
		ActiveForwardTermKernel = KernelNarrow
	}
	activeForwardTermFunc = dispatchForwardTermFunc(ActiveForwardTermKernel)
}

func dispatchForwardTermFunc(k ForwardTermKernel) forwardTermFunc {
	if k == KernelWide {
		return forwardTermKernelWide
	}
	return forwardTermKernelNarrow
}

// SetForwardTermKernel overrides the dispatch, an escape hatch for
// benchmarking and tests that need a specific kernel variant.
func SetForwardTermKernel(k ForwardTermKernel) {
	ActiveForwardTermKernel = k
	activeForwardTermFunc = dispatchForwardTermFunc(k)
}

// forwardTermKernelWide is a 4-wide unrolled accumulation — the
// portable stand-in for a real AVX2/NEON reduction: it widens the
// accumulation stride the way the vector ISA would, without emitting
// actual vector instructions (see DESIGN.md: the corpus's real AVX2/NEON
// kernels target 8-bit RGB SSD, not float32 sparse dot products).
func forwardTermKernelWide(aij, e, w []float32) (float32, float32) {
	var t1a, t1b, t1c, t1d float32
	var t2a, t2b, t2c, t2d float32
	n := len(aij)
	i := 0
	for ; i+4 <= n; i += 4 {
		t1a += -w[i] * aij[i] * e[i]
		t1b += -w[i+1] * aij[i+1] * e[i+1]
		t1c += -w[i+2] * aij[i+2] * e[i+2]
		t1d += -w[i+3] * aij[i+3] * e[i+3]
		t2a += w[i] * aij[i] * aij[i]
		t2b += w[i+1] * aij[i+1] * aij[i+1]
		t2c += w[i+2] * aij[i+2] * aij[i+2]
		t2d += w[i+3] * aij[i+3] * aij[i+3]
	}
	t1 := t1a + t1b + t1c + t1d
	t2 := t2a + t2b + t2c + t2d
	for ; i < n; i++ {
		t1 += -w[i] * aij[i] * e[i]
		t2 += w[i] * aij[i] * aij[i]
	}
	return t1, t2
}

// forwardTermKernelNarrow is the straight-line scalar fallback.
func forwardTermKernelNarrow(aij, e, w []float32) (float32, float32) {
	var t1, t2 float32
	for i := range aij {
		t1 += -w[i] * aij[i] * e[i]
		t2 += w[i] * aij[i] * aij[i]
	}
	return t1, t2
}

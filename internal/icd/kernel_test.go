package icd

import "testing"

func TestForwardTermKernelsAgree(t *testing.T) {
	aij := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	e := []float32{1, -1, 2, -2, 0.5, -0.5, 3}
	w := []float32{1, 1, 0.5, 0.5, 2, 2, 1}

	t1w, t2w := forwardTermKernelWide(aij, e, w)
	t1n, t2n := forwardTermKernelNarrow(aij, e, w)

	const tol = 1e-4
	if diff := float64(t1w - t1n); diff > tol || diff < -tol {
		t.Errorf("theta1 mismatch: wide=%v narrow=%v", t1w, t1n)
	}
	if diff := float64(t2w - t2n); diff > tol || diff < -tol {
		t.Errorf("theta2 mismatch: wide=%v narrow=%v", t2w, t2n)
	}
}

func TestForwardTermKernelsAgreeOnEmptySupport(t *testing.T) {
	var aij, e, w []float32
	t1w, t2w := forwardTermKernelWide(aij, e, w)
	t1n, t2n := forwardTermKernelNarrow(aij, e, w)
	if t1w != 0 || t2w != 0 || t1n != 0 || t2n != 0 {
		t.Errorf("expected all-zero on empty support, got wide=(%v,%v) narrow=(%v,%v)", t1w, t2w, t1n, t2n)
	}
}

func TestSetForwardTermKernelOverridesDispatch(t *testing.T) {
	original := ActiveForwardTermKernel
	defer SetForwardTermKernel(original)

	SetForwardTermKernel(KernelNarrow)
	if ActiveForwardTermKernel != KernelNarrow {
		t.Errorf("ActiveForwardTermKernel = %v, want KernelNarrow", ActiveForwardTermKernel)
	}
	t1, t2 := activeForwardTermFunc([]float32{1}, []float32{2}, []float32{1})
	wantT1, wantT2 := forwardTermKernelNarrow([]float32{1}, []float32{2}, []float32{1})
	if t1 != wantT1 || t2 != wantT2 {
		t.Errorf("dispatch mismatch after override: got (%v,%v), want (%v,%v)", t1, t2, wantT1, wantT2)
	}

	SetForwardTermKernel(KernelWide)
	if ActiveForwardTermKernel != KernelWide {
		t.Errorf("ActiveForwardTermKernel = %v, want KernelWide", ActiveForwardTermKernel)
	}
}

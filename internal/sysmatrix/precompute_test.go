package sysmatrix

import (
	"math"
	"testing"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
)

// isotropicGeom builds the scenario-1 seed geometry from spec.md §8:
// N_x=N_y=N_z=8, N_beta=4, angles {0, pi/2, pi, 3pi/2}, isotropic
// pitches, a detector grid large enough to hold every footprint.
func isotropicGeom() *geom.GeomParams {
	return &geom.GeomParams{
		Sino: geom.SinoParams{
			NBeta: 4, NDv: 32, NDw: 32,
			Us: -100, Ud0: 100, Vd0: -16, Wd0: -16,
			DeltaDv: 1, DeltaDw: 1,
		},
		Image: geom.ImageParams{
			NX: 8, NY: 8, NZ: 8,
			X0: -4, Y0: -4, Z0: -4,
			DeltaXY: 1, DeltaZ: 1,
		},
		Views: geom.ViewAngleList{Beta: []float64{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2}},
	}
}

func computeBoth(t *testing.T, compressed bool) (*geom.GeomParams, *SysMatrix) {
	t.Helper()
	g := isotropicGeom()
	config := MatrixConfig{BCompressed: compressed, CCompressed: compressed, Rho: 1, IndexCodec: IndexRaw}
	m, err := Compute(g, config)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	return g, m
}

func TestInvariant1BoundsWithinDetector(t *testing.T) {
	g, m := computeBoth(t, true)
	for jx := 0; jx < m.NX; jx++ {
		for jy := 0; jy < m.NY; jy++ {
			for ib := 0; ib < m.NBeta; ib++ {
				start := m.IVStartAt(jx, jy, ib)
				stride := m.IVStrideAt(jx, jy, ib)
				if start < 0 || start+stride > g.Sino.NDv {
					t.Errorf("v-window out of range at (%d,%d,%d): start=%d stride=%d NDv=%d", jx, jy, ib, start, stride, g.Sino.NDv)
				}
			}
		}
	}
	for ju := 0; ju < m.NU; ju++ {
		for jz := 0; jz < m.NZ; jz++ {
			start := m.IWStartAt(ju, jz)
			stride := m.IWStrideAt(ju, jz)
			if start < 0 || start+stride > g.Sino.NDw {
				t.Errorf("w-window out of range at (%d,%d): start=%d stride=%d NDw=%d", ju, jz, start, stride, g.Sino.NDw)
			}
		}
	}
}

func TestInvariant2StrideBoundedByMax(t *testing.T) {
	_, m := computeBoth(t, true)
	for jx := 0; jx < m.NX; jx++ {
		for jy := 0; jy < m.NY; jy++ {
			for ib := 0; ib < m.NBeta; ib++ {
				if s := m.IVStrideAt(jx, jy, ib); s > m.IVStrideMax {
					t.Errorf("ivstride %d exceeds ivstride_max %d", s, m.IVStrideMax)
				}
			}
		}
	}
	for ju := 0; ju < m.NU; ju++ {
		for jz := 0; jz < m.NZ; jz++ {
			if s := m.IWStrideAt(ju, jz); s > m.IWStrideMax {
				t.Errorf("iwstride %d exceeds iwstride_max %d", s, m.IWStrideMax)
			}
		}
	}
}

func TestInvariant3UGridAlignment(t *testing.T) {
	_, m := computeBoth(t, true)
	got := m.U0 + float64(m.NU)*m.DeltaU
	if math.Abs(got-m.U1) > 1e-9 {
		t.Errorf("u1 = %v, want u0+NU*deltaU = %v", m.U1, got)
	}
}

func TestInvariant4CompressionScalerBound(t *testing.T) {
	_, m := computeBoth(t, true)
	maxStored := 0.0
	for jx := 0; jx < m.NX; jx++ {
		for jy := 0; jy < m.NY; jy++ {
			for ib := 0; ib < m.NBeta; ib++ {
				start := m.IVStartAt(jx, jy, ib)
				stride := m.IVStrideAt(jx, jy, ib)
				for iv := start; iv < start+stride; iv++ {
					if v := m.StoredBCell(jx, jy, ib, iv); v > maxStored {
						maxStored = v
					}
				}
			}
		}
	}
	got := maxStored * m.BIJScaler
	if math.Abs(got-m.BIJMax) > m.BIJScaler+1e-9 {
		t.Errorf("max(stored)*scaler = %v, want within +-scaler of B_ij_max = %v", got, m.BIJMax)
	}
}

func TestInvariant5NonNegativeCells(t *testing.T) {
	_, m := computeBoth(t, false)
	for jx := 0; jx < m.NX; jx++ {
		for jy := 0; jy < m.NY; jy++ {
			for ib := 0; ib < m.NBeta; ib++ {
				start := m.IVStartAt(jx, jy, ib)
				stride := m.IVStrideAt(jx, jy, ib)
				for iv := start; iv < start+stride; iv++ {
					if v := m.BAt(jx, jy, ib, iv); v < 0 {
						t.Errorf("B[%d,%d,%d,%d] = %v < 0", jx, jy, ib, iv, v)
					}
				}
			}
		}
	}
	for ju := 0; ju < m.NU; ju++ {
		for jz := 0; jz < m.NZ; jz++ {
			start := m.IWStartAt(ju, jz)
			stride := m.IWStrideAt(ju, jz)
			for iw := start; iw < start+stride; iw++ {
				if v := m.CAt(ju, jz, iw); v < 0 {
					t.Errorf("C[%d,%d,%d] = %v < 0", ju, jz, iw, v)
				}
			}
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	g := isotropicGeom()
	config := DefaultMatrixConfig()
	a, err := Compute(g, config)
	if err != nil {
		t.Fatalf("first Compute() error = %v", err)
	}
	b, err := Compute(g, config)
	if err != nil {
		t.Fatalf("second Compute() error = %v", err)
	}
	if a.IVStrideMax != b.IVStrideMax || a.IWStrideMax != b.IWStrideMax || a.NU != b.NU {
		t.Fatalf("bounds differ between identical runs: %+v vs %+v", a, b)
	}
	for i := range a.B {
		if a.B[i] != b.B[i] {
			t.Fatalf("B differs at byte %d: %v vs %v", i, a.B[i], b.B[i])
		}
	}
}

func TestSourceBehindVoxelIsParameterError(t *testing.T) {
	g := isotropicGeom()
	g.Sino.Us = 0 // places the source inside the image volume
	_, err := Compute(g, DefaultMatrixConfig())
	if err == nil {
		t.Fatal("expected a parameter error for a source behind/within the voxel grid")
	}
}

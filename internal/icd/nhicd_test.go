package icd

import (
	"math/rand"
	"testing"

	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

func TestHotTrackerRecordAndDecay(t *testing.T) {
	g := smallGeom()
	image := volume.NewImage(g)
	h := NewHotTracker(image)
	h.Record(1, 1, 1, 0.5)

	image.Set(1, 1, 1, 1.0) // imageScale references image values, not lastChange

	if !h.IsVoxelHot(1, 1, 1, image, 0.1) {
		t.Error("expected voxel to be hot right after a large recorded change")
	}
	for i := 0; i < 20; i++ {
		h.Decay(1, 1, 1)
	}
	if h.IsVoxelHot(1, 1, 1, image, 0.1) {
		t.Error("expected voxel to cool down after repeated decay")
	}
}

func TestIsPartialZiplineHotRequiresOnlyOneHotVoxel(t *testing.T) {
	g := smallGeom()
	image := volume.NewImage(g)
	image.Fill(1)
	h := NewHotTracker(image)
	h.Record(0, 0, 2, 10) // only jz=2 in [0,4) is hot

	if !h.IsPartialZiplineHot(0, 0, 0, 4, image, 0.1) {
		t.Error("expected partial zipline containing one hot voxel to be reported hot")
	}
	if h.IsPartialZiplineHot(0, 0, 4, 6, image, 0.1) {
		t.Error("expected partial zipline with no recorded changes to be cold")
	}
}

func TestActivatePartialUpdateThreshold(t *testing.T) {
	if !ActivatePartialUpdate(0.01, 0.05) {
		t.Error("expected activation when relative error is below threshold")
	}
	if ActivatePartialUpdate(0.1, 0.05) {
		t.Error("expected no activation when relative error is above threshold")
	}
}

// TestRunNHICDSweepOnlyUpdatesHotRegionsOnceActivated exercises spec.md
// §8 scenario 6: once NHICD is activated, voxels whose partial zipline
// is not hot must be skipped (no change applied), while every voxel in
// a hot partial zipline is updated.
func TestRunNHICDSweepOnlyUpdatesHotRegionsOnceActivated(t *testing.T) {
	g := smallGeom()
	a, _, image, e, weights := buildProblem(g)
	params := DefaultReconParams()
	params.NumVoxelsPerZipline = 2
	s, err := NewSolver(g, a, params)
	if err != nil {
		t.Fatalf("NewSolver() error = %v", err)
	}

	tracker := NewHotTracker(image)
	// Mark only the zipline at (0,0,[0,2)) as hot; everything else cold.
	tracker.Record(0, 0, 0, 10)
	tracker.Record(0, 0, 1, 10)
	before := image.Clone()

	rng := rand.New(rand.NewSource(1))
	_, _, err = s.RunNHICDSweep(image, e, weights, tracker, rng, 0.0 /* forces activation */)
	if err != nil {
		t.Fatalf("RunNHICDSweep() error = %v", err)
	}

	nx, ny, nz := image.D0, image.D1, image.D2
	for jx := 0; jx < nx; jx++ {
		for jy := 0; jy < ny; jy++ {
			for jz := 0; jz < nz; jz++ {
				changed := image.At(jx, jy, jz) != before.At(jx, jy, jz)
				inHotZipline := jx == 0 && jy == 0 && jz < 2
				if changed && !inHotZipline {
					t.Errorf("voxel (%d,%d,%d) outside the hot zipline was updated", jx, jy, jz)
				}
				if inHotZipline && !changed {
					t.Errorf("voxel (%d,%d,%d) inside the hot zipline was not updated", jx, jy, jz)
				}
			}
		}
	}
}

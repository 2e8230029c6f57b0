//go:build debug

package icd

import (
	"fmt"

	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
)

// assertZiplineDisjoint verifies, in debug builds only, the static
// invariant the zipline scheme depends on for correctness: voxels j_z
// in [zStart,zStop) sharing (jx,jy) must have pairwise-disjoint
// w-windows in every view's C-table row. Panics loudly on violation
// rather than silently corrupting the error sinogram.
func assertZiplineDisjoint(a *sysmatrix.SysMatrix, jx, jy, zStart, zStop int) {
	for ib := 0; ib < a.NBeta; ib++ {
		ju := a.JUAt(jx, jy, ib)
		type window struct{ start, stop int }
		var windows []window
		for jz := zStart; jz < zStop; jz++ {
			start := a.IWStartAt(ju, jz)
			stride := a.IWStrideAt(ju, jz)
			if stride == 0 {
				continue
			}
			windows = append(windows, window{start, start + stride})
		}
		for i := 0; i < len(windows); i++ {
			for j := i + 1; j < len(windows); j++ {
				if windows[i].start < windows[j].stop && windows[j].start < windows[i].stop {
					panic(fmt.Sprintf("icd: zipline disjointness violated at (jx=%d,jy=%d,beta=%d): windows %v and %v overlap", jx, jy, ib, windows[i], windows[j]))
				}
			}
		}
	}
}

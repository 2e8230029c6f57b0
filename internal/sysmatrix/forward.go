package sysmatrix

// Project computes the dense forward projection sino = A·image using
// the separable representation A_{ij} = B[j_x,j_y,i_beta,i_v] ·
// C[j_u,j_z,i_w]. image is a flat N_x*N_y*N_z array in (j_x,j_y,j_z)
// row-major order; the returned sinogram is a flat N_beta*ndv*ndw
// array in (i_beta,i_v,i_w) row-major order. This is the reference
// collaborator the ICD forward term mirrors incrementally via the
// error sinogram, and what the resume command uses to recompute the
// error sinogram from a checkpointed image.
func (m *SysMatrix) Project(image []float32, ndv, ndw int) []float32 {
	sino := make([]float32, m.NBeta*ndv*ndw)
	for jx := 0; jx < m.NX; jx++ {
		for jy := 0; jy < m.NY; jy++ {
			for jz := 0; jz < m.NZ; jz++ {
				x := image[(jx*m.NY+jy)*m.NZ+jz]
				if x == 0 {
					continue
				}
				for ib := 0; ib < m.NBeta; ib++ {
					start := m.IVStartAt(jx, jy, ib)
					stride := m.IVStrideAt(jx, jy, ib)
					ju := m.JUAt(jx, jy, ib)
					for iv := start; iv < start+stride; iv++ {
						bij := m.BAt(jx, jy, ib, iv)
						if bij == 0 {
							continue
						}
						wStart := m.IWStartAt(ju, jz)
						wStride := m.IWStrideAt(ju, jz)
						for iw := wStart; iw < wStart+wStride; iw++ {
							cij := m.CAt(ju, jz, iw)
							sino[(ib*ndv+iv)*ndw+iw] += float32(bij*cij) * x
						}
					}
				}
			}
		}
	}
	return sino
}

package icd

import "github.com/cwbudde/conebeam-mbir/internal/volume"

// MAPCost computes the full MAP cost (data term + prior term),
// grounded on the original's MAPCost3D = MAPCostForward +
// MAPCostPrior_{QGGMRF,ProxMap}. Used for per-iteration reporting,
// not on the hot path of a voxel update.
func (s *Solver) MAPCost(e, weights, image *volume.Array3D) float64 {
	return s.forwardCost(e, weights) + s.priorCost(image)
}

// forwardCost is 0.5*sum(w*e^2), the data-fidelity half of the MAP
// cost (MAPCostForward).
func (s *Solver) forwardCost(e, weights *volume.Array3D) float64 {
	var sum float64
	for i := range e.Data {
		w := float64(weights.Data[i])
		ei := float64(e.Data[i])
		sum += 0.5 * w * ei * ei
	}
	return sum
}

// priorCost sums the QGGMRF potential (or the ProxMap quadratic) over
// every unique neighbor pair, counting each edge once by only looking
// at the +1 direction neighbors (MAPCostPrior_QGGMRF /
// MAPCostPrior_ProxMap).
func (s *Solver) priorCost(image *volume.Array3D) float64 {
	if s.Params.Prior == PriorProxMap {
		sigmaP2 := s.Params.ProxMap.SigmaP * s.Params.ProxMap.SigmaP
		if sigmaP2 == 0 {
			return 0
		}
		var sum float64
		for jx := 0; jx < image.D0; jx++ {
			for jy := 0; jy < image.D1; jy++ {
				for jz := 0; jz < image.D2; jz++ {
					xj := float64(image.At(jx, jy, jz))
					xHat := xj
					if s.ProxTarget != nil {
						xHat = float64(s.ProxTarget.At(jx, jy, jz))
					}
					d := xj - xHat
					sum += 0.5 * d * d / sigmaP2
				}
			}
		}
		return sum
	}

	forwardOnly := []neighborOffset{
		{1, 0, 0, 1}, {0, 1, 0, 1}, {0, 0, 1, 1},
	}
	var sum float64
	for jx := 0; jx < image.D0; jx++ {
		for jy := 0; jy < image.D1; jy++ {
			for jz := 0; jz < image.D2; jz++ {
				xj := float64(image.At(jx, jy, jz))
				for _, n := range forwardOnly {
					kx, ky, kz := jx+n.dx, jy+n.dy, jz+n.dz
					if kx >= image.D0 || ky >= image.D1 || kz >= image.D2 {
						continue
					}
					xk := float64(image.At(kx, ky, kz))
					sum += n.weight * qggmrfPotential(xj-xk, s.Params.QGGMRF)
				}
			}
		}
	}
	return sum
}

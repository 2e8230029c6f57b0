package icd

import (
	"math"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

// neighborOffset is a face neighbor of a voxel in the 6-connected
// subset of the full 26-neighborhood a Markov random field prior may
// use.
type neighborOffset struct {
	dx, dy, dz int
	weight     float64
}

var faceNeighbors = []neighborOffset{
	{1, 0, 0, 1}, {-1, 0, 0, 1},
	{0, 1, 0, 1}, {0, -1, 0, 1},
	{0, 0, 1, 1}, {0, 0, -1, 1},
}

// Solver runs ICD over a fixed SysMatrix and geometry; Image,
// Sinogram, error sinogram and weights are borrowed for the duration
// of a run rather than owned by the Solver.
type Solver struct {
	G      *geom.GeomParams
	A      *sysmatrix.SysMatrix
	Params ReconParams

	// ProxTarget is the reference image x-hat the ProxMap prior
	// regresses toward; unused when Params.Prior is PriorQGGMRF.
	ProxTarget *volume.Array3D

	// OnIteration, if set, is called after each outer iteration's
	// stats are recorded — e.g. to append them to a trace log. Driver
	// loops call it synchronously between iterations, so it must not
	// block for long.
	OnIteration func(IterationStats)
}

// NewSolver validates params and returns a ready-to-run Solver.
func NewSolver(g *geom.GeomParams, a *sysmatrix.SysMatrix, params ReconParams) (*Solver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Solver{G: g, A: a, Params: params}, nil
}

// forwardSupport visits every (i_beta, i_v, i_w) detector cell in
// voxel (jx,jy,jz)'s sparse support, calling fn with its value A_ij =
// B_ij * C_ij and its (i_beta, i_v, i_w) sinogram index.
func (s *Solver) forwardSupport(jx, jy, jz int, fn func(ib, iv, iw int, aij float64)) {
	for ib := 0; ib < s.A.NBeta; ib++ {
		vStart := s.A.IVStartAt(jx, jy, ib)
		vStride := s.A.IVStrideAt(jx, jy, ib)
		ju := s.A.JUAt(jx, jy, ib)
		wStart := s.A.IWStartAt(ju, jz)
		wStride := s.A.IWStrideAt(ju, jz)
		for iv := vStart; iv < vStart+vStride; iv++ {
			bij := s.A.BAt(jx, jy, ib, iv)
			if bij == 0 {
				continue
			}
			for iw := wStart; iw < wStart+wStride; iw++ {
				cij := s.A.CAt(ju, jz, iw)
				if cij == 0 {
					continue
				}
				fn(ib, iv, iw, bij*cij)
			}
		}
	}
}

// forwardTerm computes theta1^f = -sum(w*A_ij*e_i), theta2^f =
// sum(w*A_ij^2) over voxel (jx,jy,jz)'s support. The support is
// gathered into flat slices once, then reduced by the dispatched
// forward-term kernel (see kernel.go); sums accumulate in float32.
func (s *Solver) forwardTerm(jx, jy, jz int, e, weights *volume.Array3D) (theta1, theta2 float64) {
	var aij, ei, w []float32
	s.forwardSupport(jx, jy, jz, func(ib, iv, iw int, a float64) {
		aij = append(aij, float32(a))
		ei = append(ei, e.At(ib, iv, iw))
		w = append(w, weights.At(ib, iv, iw))
	})
	t1, t2 := activeForwardTermFunc(aij, ei, w)
	return float64(t1), float64(t2)
}

// priorTerm computes theta1^p, theta2^p by dispatching on the
// configured prior.
func (s *Solver) priorTerm(jx, jy, jz int, image *volume.Array3D) (theta1, theta2 float64) {
	switch s.Params.Prior {
	case PriorProxMap:
		sigmaP2 := s.Params.ProxMap.SigmaP * s.Params.ProxMap.SigmaP
		if sigmaP2 == 0 {
			return 0, 0
		}
		xj := float64(image.At(jx, jy, jz))
		xHat := xj
		if s.ProxTarget != nil {
			xHat = float64(s.ProxTarget.At(jx, jy, jz))
		}
		return (xj - xHat) / sigmaP2, 1 / sigmaP2
	default:
		xj := float64(image.At(jx, jy, jz))
		var t1, t2 float64
		for _, n := range faceNeighbors {
			kx, ky, kz := jx+n.dx, jy+n.dy, jz+n.dz
			if kx < 0 || kx >= image.D0 || ky < 0 || ky >= image.D1 || kz < 0 || kz >= image.D2 {
				continue
			}
			xk := float64(image.At(kx, ky, kz))
			delta := xj - xk
			a := n.weight * qggmrfSurrogateCoeff(delta, s.Params.QGGMRF)
			t1 += 2 * a * delta
			t2 += 2 * a
		}
		return t1, t2
	}
}

// updateVoxel performs one ICD step at (jx,jy,jz): compute forward and
// prior terms, the closed-form clipped update, apply it to image, and
// maintain e in lock-step. Returns the applied delta alpha.
func (s *Solver) updateVoxel(jx, jy, jz int, image, e, weights *volume.Array3D) (float64, error) {
	theta1f, theta2f := s.forwardTerm(jx, jy, jz, e, weights)
	theta1p, theta2p := s.priorTerm(jx, jy, jz, image)

	theta1 := theta1f + theta1p
	theta2 := theta2f + theta2p

	var alpha float64
	if theta2 == 0 {
		if theta1 != 0 {
			return 0, ErrNumerical
		}
		alpha = 0
	} else {
		alpha = -theta1 / theta2
	}

	xj := float64(image.At(jx, jy, jz))
	lo := s.Params.XLow - xj
	hi := s.Params.XHigh - xj
	if alpha < lo {
		alpha = lo
	}
	if alpha > hi {
		alpha = hi
	}
	if math.IsNaN(alpha) {
		return 0, ErrNumerical
	}

	image.Add(jx, jy, jz, float32(alpha))
	s.forwardSupport(jx, jy, jz, func(ib, iv, iw int, aij float64) {
		e.Add(ib, iv, iw, -float32(aij*alpha))
	})
	return alpha, nil
}

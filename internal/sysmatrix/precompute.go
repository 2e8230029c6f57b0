package sysmatrix

import (
	"fmt"
	"math"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
)

// ErrSourceBehindVoxel is the parameter error raised when a voxel's
// scanner-u coordinate does not lie strictly in front of the source,
// matching the original implementation's "u_v <= u_s" fatal check.
var ErrSourceBehindVoxel = fmt.Errorf("sysmatrix: source behind voxel (u_v <= u_s)")

// ErrDegenerateNU is raised when the derived N_u is less than one.
var ErrDegenerateNU = fmt.Errorf("sysmatrix: derived N_u < 1")

// bounds holds the scalars Precompute-A derives in its two passes,
// before SysMatrix is allocated.
type bounds struct {
	ivStrideMax, iwStrideMax, nU int
	deltaU, u0, u1               float64
	bIJMax, cIJMax               float64
	bIJScaler, cIJScaler         float64
}

// Compute runs Precompute-A, allocates the SysMatrix, then runs
// Precompute-B and Precompute-C, mirroring the original pipeline:
// computeAMatrixParameters → allocateSysMatrix → computeBMatrix →
// computeCMatrix.
func Compute(g *geom.GeomParams, config MatrixConfig) (*SysMatrix, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	b, err := precomputeA(g, config)
	if err != nil {
		return nil, err
	}
	m := New(g.Image.NX, g.Image.NY, g.Image.NZ, g.Sino.NBeta, b.ivStrideMax, b.iwStrideMax, b.nU, config)
	m.DeltaU, m.U0, m.U1 = b.deltaU, b.u0, b.u1
	m.BIJMax, m.CIJMax = b.bIJMax, b.cIJMax
	m.BIJScaler, m.CIJScaler = b.bIJScaler, b.cIJScaler

	if err := precomputeB(m, g); err != nil {
		return nil, err
	}
	if err := precomputeC(m, g); err != nil {
		return nil, err
	}
	return m, nil
}

// wrapFootprintAngle wraps alpha_xy into [-pi/4, pi/4]:
// ((beta - theta) + pi/4) mod (pi/2) - pi/4. The footprint shape is
// pi/2-periodic (a square pixel viewed edge-on repeats every quarter
// turn), so only this reduced range needs tabulating.
func wrapFootprintAngle(raw float64) float64 {
	const quarter = math.Pi / 4
	const half = math.Pi / 2
	x := math.Mod(raw+quarter, half)
	if x < 0 {
		x += half
	}
	return x - quarter
}

// voxelCenterXY returns the in-plane voxel center (x_v, y_v).
func voxelCenterXY(g *geom.GeomParams, jx, jy int) (float64, float64) {
	img := g.Image
	xv := float64(jx)*img.DeltaXY + img.X0 + img.DeltaXY/2
	yv := float64(jy)*img.DeltaXY + img.Y0 + img.DeltaXY/2
	return xv, yv
}

// projectInPlane computes the scanner-u/v coordinates, magnification,
// angle and footprint angle for a voxel column at a given view, shared
// by Precompute-A pass 1 and Precompute-B.
func projectInPlane(g *geom.GeomParams, xv, yv, beta float64) (uv, vv, mag, theta, alphaXY float64, err error) {
	s := g.Sino
	c, sn := math.Cos(beta), math.Sin(beta)
	uv = c*xv - sn*yv + s.Ur
	vv = sn*xv + c*yv + s.Vr
	if uv <= s.Us {
		return 0, 0, 0, 0, 0, ErrSourceBehindVoxel
	}
	mag = (s.Ud0 - s.Us) / (uv - s.Us)
	theta = math.Atan2(vv, uv-s.Us)
	alphaXY = wrapFootprintAngle(beta - theta)
	return uv, vv, mag, theta, alphaXY, nil
}

// vWindow computes i_vstart/i_vstop/i_vstride given the v-footprint
// center and full footprint width (half of it on each side), rounding
// each edge to the nearest detector column.
func vWindow(mv, wpv float64, s geom.SinoParams) (start, stride int) {
	lo := (mv - wpv/2 - (s.Vd0 + s.DeltaDv/2)) / s.DeltaDv
	hi := (mv + wpv/2 - (s.Vd0 + s.DeltaDv/2)) / s.DeltaDv
	iStart := int(math.Round(lo))
	iStop := int(math.Round(hi))
	if iStart < 0 {
		iStart = 0
	}
	if iStop > s.NDv-1 {
		iStop = s.NDv - 1
	}
	str := iStop - iStart + 1
	if str < 0 {
		str = 0
	}
	return iStart, str
}

// wWindow computes i_wstart/i_wstop/i_wstride given the w-footprint
// center and full footprint width. Uses (·)+0.5 truncation rather than
// math.Round, valid because the expression is non-negative in-range.
func wWindow(mw, wpw float64, s geom.SinoParams) (start, stride int) {
	lo := (mw - wpw/2 - (s.Wd0 + s.DeltaDw/2)) / s.DeltaDw
	hi := (mw + wpw/2 - (s.Wd0 + s.DeltaDw/2)) / s.DeltaDw
	iStart := int(lo + 0.5)
	iStop := int(hi + 0.5)
	if iStart < 0 {
		iStart = 0
	}
	if iStop > s.NDw-1 {
		iStop = s.NDw - 1
	}
	str := iStop - iStart + 1
	if str < 0 {
		str = 0
	}
	return iStart, str
}

func footprintLength(halfWidth, pitch, delta float64) float64 {
	a := (halfWidth + pitch) / 2
	b := math.Abs((halfWidth - pitch) / 2)
	if b < delta {
		b = delta
	}
	l := a - b
	if l < 0 {
		l = 0
	}
	return l
}

func precomputeA(g *geom.GeomParams, config MatrixConfig) (*bounds, error) {
	img, sino := g.Image, g.Sino
	b := &bounds{u0: math.Inf(1), u1: math.Inf(-1)}

	for jx := 0; jx < img.NX; jx++ {
		for jy := 0; jy < img.NY; jy++ {
			xv, yv := voxelCenterXY(g, jx, jy)
			for ib := 0; ib < sino.NBeta; ib++ {
				uv, vv, mag, theta, alphaXY, err := projectInPlane(g, xv, yv, g.Views.Beta[ib])
				if err != nil {
					return nil, err
				}
				wpv := mag * img.DeltaXY * math.Cos(alphaXY) / math.Cos(theta)
				_, stride := vWindow(mag*vv, wpv, sino)
				if stride > b.ivStrideMax {
					b.ivStrideMax = stride
				}
				uCenter := uv - img.DeltaXY/2
				if uCenter < b.u0 {
					b.u0 = uCenter
				}
				if uCenter > b.u1 {
					b.u1 = uCenter
				}
				if config.BCompressed {
					lv := footprintLength(wpv, sino.DeltaDv, 0)
					bij := img.DeltaXY * lv / (math.Cos(alphaXY) * sino.DeltaDv)
					if bij > b.bIJMax {
						b.bIJMax = bij
					}
				}
			}
		}
	}

	b.deltaU = img.DeltaXY / config.Rho
	b.nU = int(math.Ceil((b.u1-b.u0)/b.deltaU)) + 1
	if b.nU < 1 {
		return nil, ErrDegenerateNU
	}
	b.u1 = b.u0 + float64(b.nU)*b.deltaU

	for ju := 0; ju < b.nU; ju++ {
		uv := float64(ju)*b.deltaU + b.u0 + img.DeltaXY/2
		if uv == sino.Us {
			return nil, ErrSourceBehindVoxel
		}
		mag := (sino.Ud0 - sino.Us) / (uv - sino.Us)
		wpw := mag * img.DeltaZ
		for jz := 0; jz < img.NZ; jz++ {
			wv := float64(jz)*img.DeltaZ + img.Z0 + img.DeltaZ/2
			_, stride := wWindow(mag*wv, wpw, sino)
			if stride > b.iwStrideMax {
				b.iwStrideMax = stride
			}
			if config.CCompressed {
				lw := footprintLength(wpw, sino.DeltaDw, 0)
				cij := (1 / sino.DeltaDw) * math.Sqrt(1+(wv*wv)/((uv-sino.Us)*(uv-sino.Us))) * lw
				if cij > b.cIJMax {
					b.cIJMax = cij
				}
			}
		}
	}

	if config.BCompressed && b.bIJMax > 0 {
		b.bIJScaler = b.bIJMax / 255
	} else {
		b.bIJScaler = 1
	}
	if config.CCompressed && b.cIJMax > 0 {
		b.cIJScaler = b.cIJMax / 255
	} else {
		b.cIJScaler = 1
	}
	return b, nil
}

func precomputeB(m *SysMatrix, g *geom.GeomParams) error {
	img, sino := g.Image, g.Sino
	for jx := 0; jx < img.NX; jx++ {
		for jy := 0; jy < img.NY; jy++ {
			xv, yv := voxelCenterXY(g, jx, jy)
			for ib := 0; ib < sino.NBeta; ib++ {
				uv, vv, mag, theta, alphaXY, err := projectInPlane(g, xv, yv, g.Views.Beta[ib])
				if err != nil {
					return err
				}
				wpv := mag * img.DeltaXY * math.Cos(alphaXY) / math.Cos(theta)
				mv := mag * vv
				start, stride := vWindow(mv, wpv, sino)
				m.setIVStart(jx, jy, ib, start)
				m.setIVStride(jx, jy, ib, stride)

				ju := int(math.Round((uv - (m.U0 + img.DeltaXY/2)) / m.DeltaU))
				m.setJU(jx, jy, ib, ju)

				for iv := start; iv < start+stride; iv++ {
					vd := sino.Vd0 + sino.DeltaDv/2 + float64(iv)*sino.DeltaDv
					deltaV := math.Abs(vd - mv)
					lv := footprintLength(wpv, sino.DeltaDv, deltaV)
					bij := img.DeltaXY * lv / (math.Cos(alphaXY) * sino.DeltaDv)
					m.setBAtOffset(jx, jy, ib, iv-start, bij)
				}
			}
		}
	}
	return nil
}

func precomputeC(m *SysMatrix, g *geom.GeomParams) error {
	img, sino := g.Image, g.Sino
	for ju := 0; ju < m.NU; ju++ {
		uv := float64(ju)*m.DeltaU + m.U0 + img.DeltaXY/2
		if uv == sino.Us {
			return ErrSourceBehindVoxel
		}
		mag := (sino.Ud0 - sino.Us) / (uv - sino.Us)
		wpw := mag * img.DeltaZ
		for jz := 0; jz < img.NZ; jz++ {
			wv := float64(jz)*img.DeltaZ + img.Z0 + img.DeltaZ/2
			mw := mag * wv
			start, stride := wWindow(mw, wpw, sino)
			m.setIWStart(ju, jz, start)
			m.setIWStride(ju, jz, stride)

			for iw := start; iw < start+stride; iw++ {
				wd := sino.Wd0 + sino.DeltaDw/2 + float64(iw)*sino.DeltaDw
				deltaW := math.Abs(wd - mw)
				lw := footprintLength(wpw, sino.DeltaDw, deltaW)
				cij := (1 / sino.DeltaDw) * math.Sqrt(1+(wv*wv)/((uv-sino.Us)*(uv-sino.Us))) * lw
				m.setCAtOffset(ju, jz, iw-start, cij)
			}
		}
	}
	return nil
}

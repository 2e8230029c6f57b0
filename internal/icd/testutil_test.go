package icd

import (
	"math"
	"math/rand"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

func smallGeom() *geom.GeomParams {
	return &geom.GeomParams{
		Sino: geom.SinoParams{
			NBeta: 4, NDv: 24, NDw: 24,
			Us: -60, Ud0: 60, Vd0: -12, Wd0: -12,
			DeltaDv: 1, DeltaDw: 1,
		},
		Image: geom.ImageParams{
			NX: 6, NY: 6, NZ: 6,
			X0: -3, Y0: -3, Z0: -3,
			DeltaXY: 1, DeltaZ: 1,
		},
		Views: geom.ViewAngleList{Beta: []float64{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2}},
	}
}

func randomImage(g *geom.GeomParams, seed int64) *volume.Array3D {
	img := volume.NewImage(g)
	rng := rand.New(rand.NewSource(seed))
	for i := range img.Data {
		img.Data[i] = rng.Float32()
	}
	return img
}

// buildProblem returns a matrix, a ground-truth image, its exact
// sinogram, a starting zero image with the corresponding error
// sinogram (e = sino - A*0 = sino), and unit weights.
func buildProblem(g *geom.GeomParams) (a *sysmatrix.SysMatrix, trueImage, image, e, weights *volume.Array3D) {
	m, err := sysmatrix.Compute(g, sysmatrix.DefaultMatrixConfig())
	if err != nil {
		panic(err)
	}
	trueImage = randomImage(g, 3)
	sino := m.Project(trueImage.Data, g.Sino.NDv, g.Sino.NDw)

	image = volume.NewImage(g)
	e = volume.NewSinogram(g)
	copy(e.Data, sino)
	weights = volume.NewSinogram(g)
	weights.Fill(1)
	return m, trueImage, image, e, weights
}

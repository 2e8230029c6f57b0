package geom

import "testing"

func validParams() GeomParams {
	return GeomParams{
		Sino: SinoParams{
			NBeta: 4, NDv: 16, NDw: 16,
			Us: -100, Ud0: 50, Vd0: -8, Wd0: -8,
			DeltaDv: 1, DeltaDw: 1,
		},
		Image: ImageParams{
			NX: 8, NY: 8, NZ: 8,
			X0: -4, Y0: -4, Z0: -4,
			DeltaXY: 1, DeltaZ: 1,
		},
		Views: ViewAngleList{Beta: []float64{0, 1.5707963267948966, 3.141592653589793, 4.71238898038469}},
	}
}

func TestGeomParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GeomParams)
		wantErr bool
	}{
		{name: "valid", mutate: func(g *GeomParams) {}, wantErr: false},
		{name: "zero NX", mutate: func(g *GeomParams) { g.Image.NX = 0 }, wantErr: true},
		{name: "negative DeltaXY", mutate: func(g *GeomParams) { g.Image.DeltaXY = -1 }, wantErr: true},
		{name: "zero NBeta", mutate: func(g *GeomParams) { g.Sino.NBeta = 0 }, wantErr: true},
		{name: "beta length mismatch", mutate: func(g *GeomParams) { g.Views.Beta = g.Views.Beta[:2] }, wantErr: true},
		{name: "NaN beta", mutate: func(g *GeomParams) { g.Views.Beta[0] = nan() }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := validParams()
			tt.mutate(&g)
			err := g.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

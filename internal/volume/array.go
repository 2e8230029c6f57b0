// Package volume holds the dense 3D arrays the ICD loop reads and
// mutates: the reconstructed image, the sinogram, the error sinogram,
// and the data-term weights. All four share the same flat-array
// representation; only their shape's semantic axes differ.
package volume

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
)

// ErrIO wraps file open/read/write failures and size mismatches.
var ErrIO = fmt.Errorf("volume: I/O error")

// Array3D is a dense row-major 3D float32 array. For an Image, the
// axes are (j_x, j_y, j_z); for a Sinogram or error sinogram, (i_beta,
// i_v, i_w).
type Array3D struct {
	D0, D1, D2 int
	Data       []float32
}

// New allocates a zero-filled Array3D of the given shape.
func New(d0, d1, d2 int) *Array3D {
	return &Array3D{D0: d0, D1: d1, D2: d2, Data: make([]float32, d0*d1*d2)}
}

// NewImage allocates an image-shaped array from GeomParams.
func NewImage(g *geom.GeomParams) *Array3D {
	return New(g.Image.NX, g.Image.NY, g.Image.NZ)
}

// NewSinogram allocates a sinogram-shaped array from GeomParams.
func NewSinogram(g *geom.GeomParams) *Array3D {
	return New(g.Sino.NBeta, g.Sino.NDv, g.Sino.NDw)
}

func (a *Array3D) index(i0, i1, i2 int) int {
	return (i0*a.D1+i1)*a.D2 + i2
}

// At returns the value at (i0,i1,i2).
func (a *Array3D) At(i0, i1, i2 int) float32 {
	return a.Data[a.index(i0, i1, i2)]
}

// Set writes the value at (i0,i1,i2).
func (a *Array3D) Set(i0, i1, i2 int, v float32) {
	a.Data[a.index(i0, i1, i2)] = v
}

// Add accumulates delta into the value at (i0,i1,i2), the access
// pattern the error-sinogram update uses on every ICD voxel step.
func (a *Array3D) Add(i0, i1, i2 int, delta float32) {
	a.Data[a.index(i0, i1, i2)] += delta
}

// Fill sets every cell to v.
func (a *Array3D) Fill(v float32) {
	for i := range a.Data {
		a.Data[i] = v
	}
}

// Clone returns a deep copy.
func (a *Array3D) Clone() *Array3D {
	out := &Array3D{D0: a.D0, D1: a.D1, D2: a.D2, Data: make([]float32, len(a.Data))}
	copy(out.Data, a.Data)
	return out
}

// WriteTo dumps the array as a raw little-endian float32 stream,
// shape-less on disk (the caller is expected to already know D0,D1,D2
// from GeomParams, mirroring the system matrix codec's own convention
// of trusting externally-supplied geometry rather than embedding a
// shape header).
func (a *Array3D) WriteTo(path string) (err error) {
	f, createErr := os.Create(path)
	if createErr != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, path, createErr)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrIO, path, cerr)
		}
	}()
	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for _, v := range a.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %v", ErrIO, path, err)
	}
	return nil
}

// Load reads a raw little-endian float32 stream of exactly d0*d1*d2
// values. A length mismatch is a fatal I/O error.
func Load(path string, d0, d1, d2 int) (a *Array3D, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, openErr)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrIO, path, cerr)
		}
	}()
	a = New(d0, d1, d2)
	r := bufio.NewReader(f)
	buf := make([]byte, 4)
	for i := range a.Data {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: read %s: expected %d cells, failed at cell %d: %v", ErrIO, path, len(a.Data), i, err)
		}
		a.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
	}
	// A trailing byte beyond the expected cell count is also a length
	// mismatch: check for unexpected leftover data.
	if n, _ := io.ReadFull(r, buf[:1]); n > 0 {
		return nil, fmt.Errorf("%w: read %s: trailing bytes beyond expected %d cells", ErrIO, path, len(a.Data))
	}
	return a, nil
}

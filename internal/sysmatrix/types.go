// Package sysmatrix implements the separable sparse cone-beam system
// matrix A = B ⊗ C: precomputation, in-memory ragged storage, and its
// binary on-disk codec.
package sysmatrix

import (
	"encoding/binary"
	"fmt"
	"math"
)

// IndexCodec selects how the five index arrays (i_vstart, i_vstride,
// j_u, i_wstart, i_wstride) are packed on disk.
type IndexCodec int

const (
	// IndexRaw stores each index as a fixed-width little-endian int32.
	IndexRaw IndexCodec = iota
	// IndexStreamVByte stores each index array using streamvbyte
	// variable-length encoding of its uint32 representation.
	IndexStreamVByte
)

func (c IndexCodec) String() string {
	switch c {
	case IndexStreamVByte:
		return "streamvbyte"
	default:
		return "raw"
	}
}

// MatrixConfig replaces the original implementation's compile-time
// macros (ISBIJCOMPRESSED, ISCIJCOMPRESSED, AMATRIX_RHO, typed cell
// widths) with a runtime configuration struct, carried explicitly
// through precompute and the codec and embedded in the file header.
type MatrixConfig struct {
	BCompressed bool       `json:"bCompressed"`
	CCompressed bool       `json:"cCompressed"`
	Rho         float64    `json:"rho"` // AMATRIX_RHO, typical 1
	IndexCodec  IndexCodec `json:"indexCodec"`
}

// DefaultMatrixConfig mirrors the original's typical build: both
// compressed, rho=1, raw index arrays.
func DefaultMatrixConfig() MatrixConfig {
	return MatrixConfig{BCompressed: true, CCompressed: true, Rho: 1, IndexCodec: IndexRaw}
}

func cellSize(compressed bool) int {
	if compressed {
		return 1
	}
	return 4
}

// SysMatrix is the central aggregate: the separable forward-projection
// operator A = B ⊗ C, stored as flat ragged buffers plus explicit
// stride/index arrays (an arena-plus-index model, the Go analogue of
// the original's multialloc-based container).
type SysMatrix struct {
	Config MatrixConfig

	// Shape, supplied by the caller's GeomParams; not persisted in the
	// file format — the reader trusts the GeomParams it's given rather
	// than re-deriving shape from the file.
	NX, NY, NZ, NBeta int

	IVStrideMax int
	IWStrideMax int
	NU          int

	DeltaU, U0, U1                       float64
	BIJMax, CIJMax, BIJScaler, CIJScaler float64

	// B is the in-plane footprint table, NX*NY*NBeta*IVStrideMax cells
	// of cellSize(Config.BCompressed) bytes each, indexed by
	// bIndex(jx,jy,iBeta,iv-ivstart).
	B []byte
	// IVStart/IVStride/JU are NX*NY*NBeta int32 triples.
	IVStart []int32
	IVStride []int32
	JU       []int32

	// C is the axial footprint table, NU*NZ*IWStrideMax cells of
	// cellSize(Config.CCompressed) bytes each, indexed by
	// cIndex(jU,jZ,iw-iwstart).
	C []byte
	// IWStart/IWStride are NU*NZ int32 pairs.
	IWStart  []int32
	IWStride []int32
}

// New allocates a SysMatrix with the given shape and bounds. Mirrors
// the original's allocateSysMatrix, called both from precompute (after
// Precompute-A derives the bounds) and from the codec reader (after
// the header is parsed).
func New(nx, ny, nz, nBeta, ivStrideMax, iwStrideMax, nU int, config MatrixConfig) *SysMatrix {
	m := &SysMatrix{
		Config:      config,
		NX:          nx,
		NY:          ny,
		NZ:          nz,
		NBeta:       nBeta,
		IVStrideMax: ivStrideMax,
		IWStrideMax: iwStrideMax,
		NU:          nU,
	}
	bCells := nx * ny * nBeta * ivStrideMax
	cCells := nU * nz * iwStrideMax
	m.B = make([]byte, bCells*cellSize(config.BCompressed))
	m.C = make([]byte, cCells*cellSize(config.CCompressed))
	m.IVStart = make([]int32, nx*ny*nBeta)
	m.IVStride = make([]int32, nx*ny*nBeta)
	m.JU = make([]int32, nx*ny*nBeta)
	m.IWStart = make([]int32, nU*nz)
	m.IWStride = make([]int32, nU*nz)
	return m
}

func (m *SysMatrix) index3(jx, jy, iBeta int) int {
	return (jx*m.NY+jy)*m.NBeta + iBeta
}

func (m *SysMatrix) index2(jU, jZ int) int {
	return jU*m.NZ + jZ
}

func (m *SysMatrix) bIndex(jx, jy, iBeta, ivOffset int) int {
	return m.index3(jx, jy, iBeta)*m.IVStrideMax + ivOffset
}

func (m *SysMatrix) cIndex(jU, jZ, iwOffset int) int {
	return jU*(m.NZ*m.IWStrideMax) + jZ*m.IWStrideMax + iwOffset
}

// IVStartAt, IVStrideAt, JUAt, IWStartAt, IWStrideAt are the ragged
// index-array accessors used by precompute and ICD alike.
func (m *SysMatrix) IVStartAt(jx, jy, iBeta int) int  { return int(m.IVStart[m.index3(jx, jy, iBeta)]) }
func (m *SysMatrix) IVStrideAt(jx, jy, iBeta int) int { return int(m.IVStride[m.index3(jx, jy, iBeta)]) }
func (m *SysMatrix) JUAt(jx, jy, iBeta int) int       { return int(m.JU[m.index3(jx, jy, iBeta)]) }
func (m *SysMatrix) IWStartAt(jU, jZ int) int         { return int(m.IWStart[m.index2(jU, jZ)]) }
func (m *SysMatrix) IWStrideAt(jU, jZ int) int        { return int(m.IWStride[m.index2(jU, jZ)]) }

func (m *SysMatrix) setIVStart(jx, jy, iBeta, v int)  { m.IVStart[m.index3(jx, jy, iBeta)] = int32(v) }
func (m *SysMatrix) setIVStride(jx, jy, iBeta, v int) { m.IVStride[m.index3(jx, jy, iBeta)] = int32(v) }
func (m *SysMatrix) setJU(jx, jy, iBeta, v int)       { m.JU[m.index3(jx, jy, iBeta)] = int32(v) }
func (m *SysMatrix) setIWStart(jU, jZ, v int)         { m.IWStart[m.index2(jU, jZ)] = int32(v) }
func (m *SysMatrix) setIWStride(jU, jZ, v int)        { m.IWStride[m.index2(jU, jZ)] = int32(v) }

// BAt returns the in-plane footprint coefficient B_{jx,jy,iBeta,iv},
// decoding the compressed 8-bit cell (if enabled) back to float64.
func (m *SysMatrix) BAt(jx, jy, iBeta, iv int) float64 {
	start := m.IVStartAt(jx, jy, iBeta)
	offset := iv - start
	idx := m.bIndex(jx, jy, iBeta, offset)
	return getCell(m.B, idx, m.Config.BCompressed, m.BIJScaler)
}

// CAt returns the axial footprint coefficient C_{jU,jZ,iw}.
func (m *SysMatrix) CAt(jU, jZ, iw int) float64 {
	start := m.IWStartAt(jU, jZ)
	offset := iw - start
	idx := m.cIndex(jU, jZ, offset)
	return getCell(m.C, idx, m.Config.CCompressed, m.CIJScaler)
}

func (m *SysMatrix) setBAtOffset(jx, jy, iBeta, offset int, value float64) {
	idx := m.bIndex(jx, jy, iBeta, offset)
	setCell(m.B, idx, m.Config.BCompressed, m.BIJScaler, value)
}

func (m *SysMatrix) setCAtOffset(jU, jZ, offset int, value float64) {
	idx := m.cIndex(jU, jZ, offset)
	setCell(m.C, idx, m.Config.CCompressed, m.CIJScaler, value)
}

func getCell(buf []byte, idx int, compressed bool, scaler float64) float64 {
	if compressed {
		return float64(buf[idx]) * scaler
	}
	off := idx * 4
	bits := binary.LittleEndian.Uint32(buf[off : off+4])
	return float64(math.Float32frombits(bits))
}

func setCell(buf []byte, idx int, compressed bool, scaler float64, value float64) {
	if compressed {
		q := math.Round(value / scaler)
		if q < 0 {
			q = 0
		}
		if q > 255 {
			q = 255
		}
		buf[idx] = byte(q)
		return
	}
	off := idx * 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(float32(value)))
}

// StoredBCell returns the raw stored cell value at offset
// (0..255 when compressed, the float32 value otherwise) — used by
// invariant tests that check the compression scaler bound.
func (m *SysMatrix) StoredBCell(jx, jy, iBeta, iv int) float64 {
	start := m.IVStartAt(jx, jy, iBeta)
	idx := m.bIndex(jx, jy, iBeta, iv-start)
	if m.Config.BCompressed {
		return float64(m.B[idx])
	}
	return getCell(m.B, idx, false, 1)
}

func invalidDimension(field string, got int) error {
	return fmt.Errorf("sysmatrix: invalid dimension %s=%d", field, got)
}

package sysmatrix

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/mhr3/streamvbyte"
)

// ErrIO wraps file open/read/write failures and byte-count mismatches.
var ErrIO = fmt.Errorf("sysmatrix: I/O error")

// ErrLengthMismatch is returned when a decoded payload's length does
// not match what the header's shape implies.
var ErrLengthMismatch = fmt.Errorf("sysmatrix: length mismatch")

// headerScalars is the fixed little-endian prologue: three int64
// strides/counts followed by seven float32 scalars, then the
// MatrixConfig extension.
type headerScalars struct {
	IVStrideMax, IWStrideMax, NU int64
	BIJMax, CIJMax               float32
	BIJScaler, CIJScaler         float32
	DeltaU, U0, U1               float32
}

// Write serializes m as: header, then B / i_vstart / i_vstride / j_u /
// C / i_wstart / i_wstride in order. Index arrays are packed raw int32
// or streamvbyte-compressed uint32 depending on m.Config.IndexCodec.
func (m *SysMatrix) Write(path string) (err error) {
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
	hdr := headerScalars{
		IVStrideMax: int64(m.IVStrideMax), IWStrideMax: int64(m.IWStrideMax), NU: int64(m.NU),
		BIJMax: float32(m.BIJMax), CIJMax: float32(m.CIJMax),
		BIJScaler: float32(m.BIJScaler), CIJScaler: float32(m.CIJScaler),
		DeltaU: float32(m.DeltaU), U0: float32(m.U0), U1: float32(m.U1),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("%w: write header: %v", ErrIO, err)
	}
	if err := writeIndexCodecByte(w, m.Config.IndexCodec); err != nil {
		return err
	}
	if err := writeCompressionFlags(w, m.Config); err != nil {
		return err
	}

	if _, err := w.Write(m.B); err != nil {
		return fmt.Errorf("%w: write B payload: %v", ErrIO, err)
	}
	if err := writeIndexArray(w, m.IVStart, m.Config.IndexCodec); err != nil {
		return err
	}
	if err := writeIndexArray(w, m.IVStride, m.Config.IndexCodec); err != nil {
		return err
	}
	if err := writeIndexArray(w, m.JU, m.Config.IndexCodec); err != nil {
		return err
	}
	if _, err := w.Write(m.C); err != nil {
		return fmt.Errorf("%w: write C payload: %v", ErrIO, err)
	}
	if err := writeIndexArray(w, m.IWStart, m.Config.IndexCodec); err != nil {
		return err
	}
	if err := writeIndexArray(w, m.IWStride, m.Config.IndexCodec); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %v", ErrIO, path, err)
	}
	return nil
}

// Read deserializes a SysMatrix previously written by Write. Shape
// (N_x, N_y, N_z, N_β) is not stored in the file and must be supplied
// via g, trusted as-is.
func Read(path string, g *geom.GeomParams) (m *SysMatrix, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, openErr)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrIO, path, cerr)
		}
	}()

	r := bufio.NewReader(f)
	var hdr headerScalars
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrIO, err)
	}
	indexCodec, err := readIndexCodecByte(r)
	if err != nil {
		return nil, err
	}
	config, err := readCompressionFlags(r, indexCodec)
	if err != nil {
		return nil, err
	}

	m = New(g.Image.NX, g.Image.NY, g.Image.NZ, g.Sino.NBeta, int(hdr.IVStrideMax), int(hdr.IWStrideMax), int(hdr.NU), config)
	m.BIJMax, m.CIJMax = float64(hdr.BIJMax), float64(hdr.CIJMax)
	m.BIJScaler, m.CIJScaler = float64(hdr.BIJScaler), float64(hdr.CIJScaler)
	m.DeltaU, m.U0, m.U1 = float64(hdr.DeltaU), float64(hdr.U0), float64(hdr.U1)

	if _, err := io.ReadFull(r, m.B); err != nil {
		return nil, fmt.Errorf("%w: read B payload: %v", ErrIO, err)
	}
	if err := readIndexArray(r, m.IVStart, config.IndexCodec); err != nil {
		return nil, err
	}
	if err := readIndexArray(r, m.IVStride, config.IndexCodec); err != nil {
		return nil, err
	}
	if err := readIndexArray(r, m.JU, config.IndexCodec); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, m.C); err != nil {
		return nil, fmt.Errorf("%w: read C payload: %v", ErrIO, err)
	}
	if err := readIndexArray(r, m.IWStart, config.IndexCodec); err != nil {
		return nil, err
	}
	if err := readIndexArray(r, m.IWStride, config.IndexCodec); err != nil {
		return nil, err
	}
	return m, nil
}

func writeIndexCodecByte(w io.Writer, codec IndexCodec) error {
	if _, err := w.Write([]byte{byte(codec)}); err != nil {
		return fmt.Errorf("%w: write index codec flag: %v", ErrIO, err)
	}
	return nil
}

func readIndexCodecByte(r io.Reader) (IndexCodec, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: read index codec flag: %v", ErrIO, err)
	}
	return IndexCodec(b[0]), nil
}

// writeCompressionFlags persists the MatrixConfig as a small header
// extension — a forward-compatible way to record which arrays were
// compressed without requiring every reader to assume one codec.
func writeCompressionFlags(w io.Writer, config MatrixConfig) error {
	var flags byte
	if config.BCompressed {
		flags |= 1
	}
	if config.CCompressed {
		flags |= 2
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return fmt.Errorf("%w: write compression flags: %v", ErrIO, err)
	}
	var rho [8]byte
	binary.LittleEndian.PutUint64(rho[:], math.Float64bits(config.Rho))
	if _, err := w.Write(rho[:]); err != nil {
		return fmt.Errorf("%w: write rho: %v", ErrIO, err)
	}
	return nil
}

func readCompressionFlags(r io.Reader, indexCodec IndexCodec) (MatrixConfig, error) {
	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return MatrixConfig{}, fmt.Errorf("%w: read compression flags: %v", ErrIO, err)
	}
	var rho [8]byte
	if _, err := io.ReadFull(r, rho[:]); err != nil {
		return MatrixConfig{}, fmt.Errorf("%w: read rho: %v", ErrIO, err)
	}
	return MatrixConfig{
		BCompressed: flags[0]&1 != 0,
		CCompressed: flags[0]&2 != 0,
		Rho:         math.Float64frombits(binary.LittleEndian.Uint64(rho[:])),
		IndexCodec:  indexCodec,
	}, nil
}

func writeIndexArray(w io.Writer, arr []int32, codec IndexCodec) error {
	switch codec {
	case IndexStreamVByte:
		values := make([]uint32, len(arr))
		for i, v := range arr {
			values[i] = uint32(v)
		}
		encoded := streamvbyte.EncodeUint32(values, nil)
		var lenBytes [8]byte
		binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(encoded)))
		if _, err := w.Write(lenBytes[:]); err != nil {
			return fmt.Errorf("%w: write index array length: %v", ErrIO, err)
		}
		if _, err := w.Write(encoded); err != nil {
			return fmt.Errorf("%w: write streamvbyte index array: %v", ErrIO, err)
		}
	default:
		for _, v := range arr {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(v))
			if _, err := w.Write(b[:]); err != nil {
				return fmt.Errorf("%w: write index array: %v", ErrIO, err)
			}
		}
	}
	return nil
}

func readIndexArray(r io.Reader, arr []int32, codec IndexCodec) error {
	switch codec {
	case IndexStreamVByte:
		var lenBytes [8]byte
		if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
			return fmt.Errorf("%w: read index array length: %v", ErrIO, err)
		}
		n := binary.LittleEndian.Uint64(lenBytes[:])
		encoded := make([]byte, n)
		if _, err := io.ReadFull(r, encoded); err != nil {
			return fmt.Errorf("%w: read streamvbyte index array: %v", ErrIO, err)
		}
		values := make([]uint32, len(arr))
		decoded := streamvbyte.DecodeUint32(encoded, len(arr), values)
		if len(decoded) != len(arr) {
			return fmt.Errorf("%w: streamvbyte decoded %d values, want %d", ErrLengthMismatch, len(decoded), len(arr))
		}
		for i, v := range decoded {
			arr[i] = int32(v)
		}
	default:
		for i := range arr {
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return fmt.Errorf("%w: read index array: %v", ErrIO, err)
			}
			arr[i] = int32(binary.LittleEndian.Uint32(b[:]))
		}
	}
	return nil
}

package sysmatrix

import (
	"os"
	"path/filepath"
	"testing"
)

func readAllOrFail(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return data
}

func writeAllOrFail(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		config MatrixConfig
	}{
		{"uncompressed-raw-index", MatrixConfig{Rho: 1, IndexCodec: IndexRaw}},
		{"compressed-raw-index", MatrixConfig{BCompressed: true, CCompressed: true, Rho: 1, IndexCodec: IndexRaw}},
		{"compressed-streamvbyte-index", MatrixConfig{BCompressed: true, CCompressed: true, Rho: 1, IndexCodec: IndexStreamVByte}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := isotropicGeom()
			original, err := Compute(g, tt.config)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}

			path := filepath.Join(t.TempDir(), "matrix.bin")
			if err := original.Write(path); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			loaded, err := Read(path, g)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}

			if loaded.IVStrideMax != original.IVStrideMax || loaded.IWStrideMax != original.IWStrideMax || loaded.NU != original.NU {
				t.Fatalf("bounds mismatch after round trip: got %+v, want shape from %+v", loaded, original)
			}
			if len(loaded.B) != len(original.B) {
				t.Fatalf("B length mismatch: got %d, want %d", len(loaded.B), len(original.B))
			}
			for i := range original.B {
				if loaded.B[i] != original.B[i] {
					t.Fatalf("B differs at byte %d: got %v, want %v", i, loaded.B[i], original.B[i])
				}
			}
			for i := range original.C {
				if loaded.C[i] != original.C[i] {
					t.Fatalf("C differs at byte %d: got %v, want %v", i, loaded.C[i], original.C[i])
				}
			}
			for i := range original.IVStart {
				if loaded.IVStart[i] != original.IVStart[i] {
					t.Fatalf("i_vstart differs at %d: got %v, want %v", i, loaded.IVStart[i], original.IVStart[i])
				}
				if loaded.IVStride[i] != original.IVStride[i] {
					t.Fatalf("i_vstride differs at %d: got %v, want %v", i, loaded.IVStride[i], original.IVStride[i])
				}
				if loaded.JU[i] != original.JU[i] {
					t.Fatalf("j_u differs at %d: got %v, want %v", i, loaded.JU[i], original.JU[i])
				}
			}
			for i := range original.IWStart {
				if loaded.IWStart[i] != original.IWStart[i] {
					t.Fatalf("i_wstart differs at %d: got %v, want %v", i, loaded.IWStart[i], original.IWStart[i])
				}
				if loaded.IWStride[i] != original.IWStride[i] {
					t.Fatalf("i_wstride differs at %d: got %v, want %v", i, loaded.IWStride[i], original.IWStride[i])
				}
			}
		})
	}
}

func TestCodecLengthMismatchOnTruncatedFile(t *testing.T) {
	g := isotropicGeom()
	m, err := Compute(g, DefaultMatrixConfig())
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "matrix.bin")
	if err := m.Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	truncated := path + ".truncated"
	data := readAllOrFail(t, path)
	writeAllOrFail(t, truncated, data[:len(data)/2])

	if _, err := Read(truncated, g); err == nil {
		t.Fatal("expected an I/O error reading a truncated file")
	}
}

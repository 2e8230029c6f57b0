package icd

import (
	"path/filepath"
	"testing"
)

func TestPriorKindJSONRoundTrip(t *testing.T) {
	for _, p := range []PriorKind{PriorQGGMRF, PriorProxMap} {
		data, err := p.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%v) error = %v", p, err)
		}
		var got PriorKind
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("UnmarshalJSON(%s) error = %v", data, err)
		}
		if got != p {
			t.Errorf("round trip = %v, want %v", got, p)
		}
	}
}

func TestReconParamsSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recon-params.json")

	want := DefaultReconParams()
	want.Prior = PriorProxMap
	want.ProxMap.SigmaP = 2.5
	want.MaxIterations = 42
	want.NHICDEnabled = true

	if err := SaveReconParams(path, want); err != nil {
		t.Fatalf("SaveReconParams() error = %v", err)
	}

	got, err := LoadReconParams(path)
	if err != nil {
		t.Fatalf("LoadReconParams() error = %v", err)
	}
	if got.Prior != want.Prior || got.ProxMap.SigmaP != want.ProxMap.SigmaP ||
		got.MaxIterations != want.MaxIterations || got.NHICDEnabled != want.NHICDEnabled {
		t.Errorf("LoadReconParams() = %+v, want %+v", got, want)
	}
}

func TestLoadReconParamsRejectsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadReconParams(filepath.Join(dir, "does-not-exist.json"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

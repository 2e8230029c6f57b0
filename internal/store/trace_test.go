package store

import (
	"errors"
	"io"
	"testing"
)

func TestTraceWriterAndReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTraceWriter(dir, "run-1", false)
	if err != nil {
		t.Fatalf("NewTraceWriter() error = %v", err)
	}

	entries := []TraceEntry{
		{Iteration: 1, Cost: 10.0, RelUpdate: 0.5},
		{Iteration: 2, Cost: 6.0, RelUpdate: 0.2},
		{Iteration: 3, Cost: 4.0, RelUpdate: 0.05},
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := NewTraceReader(dir, "run-1")
	if err != nil {
		t.Fatalf("NewTraceReader() error = %v", err)
	}
	defer r.Close()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("ReadAll() returned %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i].Iteration != e.Iteration || got[i].Cost != e.Cost {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestTraceWriterAppendMode(t *testing.T) {
	dir := t.TempDir()
	w1, err := NewTraceWriter(dir, "run-2", false)
	if err != nil {
		t.Fatalf("NewTraceWriter() error = %v", err)
	}
	if err := w1.Write(TraceEntry{Iteration: 1, Cost: 1.0}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	w2, err := NewTraceWriter(dir, "run-2", true)
	if err != nil {
		t.Fatalf("NewTraceWriter(append) error = %v", err)
	}
	if err := w2.Write(TraceEntry{Iteration: 2, Cost: 0.5}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := NewTraceReader(dir, "run-2")
	if err != nil {
		t.Fatalf("NewTraceReader() error = %v", err)
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ReadAll() returned %d entries, want 2", len(entries))
	}
}

func TestTraceReaderMissingFileReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := NewTraceReader(dir, "no-such-run")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("NewTraceReader() error = %v, want *NotFoundError", err)
	}
}

func TestTraceReaderReadReturnsEOFWhenExhausted(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewTraceWriter(dir, "run-3", false)
	_ = w.Write(TraceEntry{Iteration: 1, Cost: 1.0})
	_ = w.Close()

	r, err := NewTraceReader(dir, "run-3")
	if err != nil {
		t.Fatalf("NewTraceReader() error = %v", err)
	}
	defer r.Close()

	if _, err := r.Read(); err != nil {
		t.Fatalf("Read() first entry error = %v", err)
	}
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("Read() after last entry error = %v, want io.EOF", err)
	}
}

func TestDeleteTraceIsNilWhenMissing(t *testing.T) {
	dir := t.TempDir()
	if err := DeleteTrace(dir, "no-such-run"); err != nil {
		t.Errorf("DeleteTrace() on missing file error = %v, want nil", err)
	}
}

func TestDeleteTraceRemovesFile(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewTraceWriter(dir, "run-4", false)
	_ = w.Write(TraceEntry{Iteration: 1, Cost: 1.0})
	_ = w.Close()

	if err := DeleteTrace(dir, "run-4"); err != nil {
		t.Fatalf("DeleteTrace() error = %v", err)
	}
	if _, err := NewTraceReader(dir, "run-4"); err == nil {
		t.Error("NewTraceReader() after delete: want error, got nil")
	}
}

package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_Chaos_Passthrough_Never_Injects(t *testing.T) {
	t.Parallel()

	chaos := NewChaos(NewReal(), 1, ChaosConfig{
		OpenFailRate:   1,
		ReadFailRate:   1,
		WriteFailRate:  1,
		RemoveFailRate: 1,
		StatFailRate:   1,
	})

	path := filepath.Join(t.TempDir(), "cache.bin")

	if err := chaos.WriteFileAtomic(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic in passthrough: %v", err)
	}

	if _, err := chaos.ReadFile(path); err != nil {
		t.Fatalf("ReadFile in passthrough: %v", err)
	}

	if got := chaos.TotalFaults(); got != 0 {
		t.Fatalf("TotalFaults()=%d, want 0", got)
	}
}

func Test_Chaos_Inject_Fails_Write_Without_Touching_Target(t *testing.T) {
	t.Parallel()

	chaos := NewChaos(NewReal(), 1, ChaosConfig{WriteFailRate: 1})
	chaos.SetMode(ChaosModeInject)

	path := filepath.Join(t.TempDir(), "cache.bin")
	if err := os.WriteFile(path, []byte("committed"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := chaos.WriteFileAtomic(path, []byte("lost"), 0o644)
	if err == nil {
		t.Fatal("WriteFileAtomic: want injected error, got nil")
	}

	if !IsInjected(err) {
		t.Fatalf("IsInjected(%v)=false, want true", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "committed" {
		t.Fatalf("content=%q, want %q", got, "committed")
	}

	if got, want := chaos.Stats().WriteFails, int64(1); got != want {
		t.Fatalf("WriteFails=%d, want %d", got, want)
	}
}

func Test_Chaos_Inject_Partial_Read_Truncates(t *testing.T) {
	t.Parallel()

	chaos := NewChaos(NewReal(), 7, ChaosConfig{PartialReadRate: 1})
	chaos.SetMode(ChaosModeInject)

	path := filepath.Join(t.TempDir(), "cache.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got, err := chaos.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if len(got) == 0 || len(got) >= 10 {
		t.Fatalf("len=%d, want truncated length in [1,9]", len(got))
	}
}

func Test_IsInjected_Returns_False_For_Real_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewReal().ReadFile(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("ReadFile on missing file: want error")
	}

	if IsInjected(err) {
		t.Fatalf("IsInjected(%v)=true for a real error", err)
	}

	if IsInjected(nil) {
		t.Fatal("IsInjected(nil)=true")
	}
}

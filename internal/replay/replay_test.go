package replay

import (
	"path/filepath"
	"testing"

	"github.com/example/go-kernelopt/internal/renderer"
)

func TestStorePutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	rec := Record{
		AST:         "SINK(...)",
		Opts:        renderer.Renderer{HasLocal: true, Device: "GPU"},
		AppliedOpts: []renderer.Opt{{Op: renderer.OptUpcast}},
		Name:        "r_1",
		CallerLoc:   "kernel_test.go:10",
	}
	if err := store.Put("abc", rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.Get("abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if got.Name != "r_1" || got.Opts.Device != "GPU" {
		t.Errorf("Get() = %+v, want matching name/device", got)
	}

	if _, found, err := store.Get("missing"); err != nil || found {
		t.Errorf("Get(missing) = (_, %v, %v), want (_, false, nil)", found, err)
	}
}

func TestStoreCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	for i := 0; i < 3; i++ {
		key := string(rune('a' + i))
		if err := store.Put(key, Record{Name: key}); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}
	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

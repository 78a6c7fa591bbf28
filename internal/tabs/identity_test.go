package tabs

import (
	"context"
	"path/filepath"
	"testing"
)

func openTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "tabs.db")
	s, err := OpenStore(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestEnsureIsStable(t *testing.T) {
	m := NewMap(nil)
	ctx := context.Background()

	a := m.Ensure(ctx, "T1")
	if a == "" {
		t.Fatal("Ensure() returned empty identity")
	}
	if b := m.Ensure(ctx, "T1"); b != a {
		t.Fatalf("Ensure() second call = %q; want %q", b, a)
	}
	if other := m.Ensure(ctx, "T2"); other == a {
		t.Fatal("distinct handles share an identity")
	}
	if got := m.Ensure(ctx, ""); got != "" {
		t.Fatalf("Ensure(\"\") = %q; want empty", got)
	}
	if m.Count() != 2 {
		t.Fatalf("Count() = %d; want 2", m.Count())
	}
}

func TestRemoveForgetsHandle(t *testing.T) {
	m := NewMap(nil)
	ctx := context.Background()
	first := m.Ensure(ctx, "T1")

	if !m.Remove(ctx, "T1") {
		t.Fatal("Remove() = false; want true")
	}
	if m.Remove(ctx, "T1") {
		t.Fatal("second Remove() = true; want false")
	}
	if _, ok := m.Lookup("T1"); ok {
		t.Fatal("Lookup() found removed handle")
	}
	if again := m.Ensure(ctx, "T1"); again == first {
		t.Fatal("reopened handle reused the old identity")
	}
}

func TestIdentitySurvivesReload(t *testing.T) {
	store, path := openTempStore(t)
	ctx := context.Background()

	m := NewMap(store)
	id := m.Ensure(ctx, "T1")
	m.Ensure(ctx, "T2")
	m.Remove(ctx, "T2")
	_ = store.Close()

	reopened, err := OpenStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenStore() reopen error = %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	m2 := NewMap(reopened)
	if err := m2.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, ok := m2.Lookup("T1"); !ok || got != id {
		t.Fatalf("Lookup(T1) = %q, %v; want %q, true", got, ok, id)
	}
	if _, ok := m2.Lookup("T2"); ok {
		t.Fatal("removed identity came back after reload")
	}
}

func TestReconcile(t *testing.T) {
	store, _ := openTempStore(t)
	ctx := context.Background()
	m := NewMap(store)

	kept := m.Ensure(ctx, "live")
	m.Ensure(ctx, "gone")

	m.Reconcile(ctx, []string{"live", "new"})

	if got, _ := m.Lookup("live"); got != kept {
		t.Fatalf("live identity = %q; want %q", got, kept)
	}
	if _, ok := m.Lookup("gone"); ok {
		t.Fatal("stale handle survived Reconcile()")
	}
	if _, ok := m.Lookup("new"); !ok {
		t.Fatal("new live handle missing after Reconcile()")
	}

	persisted, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted entries = %d; want 2", len(persisted))
	}

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].Handle != "live" || snap[1].Handle != "new" {
		t.Fatalf("Snapshot() = %+v", snap)
	}
}

package kv

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
)

// RunConformance exercises the Adapter contract against a backend. Exported so
// the external test package can run it against the bridge client.
func RunConformance(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	open := func(t *testing.T, db, store string) Adapter {
		t.Helper()
		a, err := b.Open(ctx, Namespace{Database: db, Store: store})
		if err != nil {
			t.Fatalf("Open(%s/%s): %v", db, store, err)
		}
		return a
	}

	t.Run("MissingKey", func(t *testing.T) {
		a := open(t, "conf-missing", "items")
		v, ok, err := a.Get(ctx, "nope")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok || v != nil {
			t.Fatalf("expected absent, got ok=%v v=%q", ok, v)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		a := open(t, "conf-roundtrip", "items")
		payload := []byte{0x00, 0x01, 0xff, 'q', 'c', 'u', 't', 0x00}
		if err := a.Set(ctx, "k1", payload); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := a.Get(ctx, "k1")
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(v, payload) {
			t.Fatalf("expected %v, got %v", payload, v)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		a := open(t, "conf-overwrite", "items")
		_ = a.Set(ctx, "k", []byte("first"))
		if err := a.Set(ctx, "k", []byte("second")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, _, _ := a.Get(ctx, "k")
		if string(v) != "second" {
			t.Fatalf("expected second, got %q", v)
		}
	})

	t.Run("EmptyValue", func(t *testing.T) {
		a := open(t, "conf-empty", "items")
		if err := a.Set(ctx, "blank", []byte{}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := a.Get(ctx, "blank")
		if err != nil || !ok {
			t.Fatalf("expected present empty value, ok=%v err=%v", ok, err)
		}
		if len(v) != 0 {
			t.Fatalf("expected empty value, got %q", v)
		}
	})

	t.Run("EmptyKeyRejected", func(t *testing.T) {
		a := open(t, "conf-emptykey", "items")
		if err := a.Set(ctx, "", []byte("x")); !errors.Is(err, ErrEmptyKey) {
			t.Fatalf("expected ErrEmptyKey, got %v", err)
		}
	})

	t.Run("SpecialCharacterKeys", func(t *testing.T) {
		a := open(t, "conf-special", "items")
		keys := []string{"a/b", "with space", "percent%20", "q?x=1#frag", "ünïcødé"}
		for _, k := range keys {
			if err := a.Set(ctx, k, []byte(k)); err != nil {
				t.Fatalf("Set(%q): %v", k, err)
			}
		}
		for _, k := range keys {
			v, ok, err := a.Get(ctx, k)
			if err != nil || !ok || string(v) != k {
				t.Fatalf("Get(%q): v=%q ok=%v err=%v", k, v, ok, err)
			}
		}
		got, err := a.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		assertKeys(t, got, keys)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		a := open(t, "conf-remove", "items")
		_ = a.Set(ctx, "gone", []byte("x"))
		if err := a.Remove(ctx, "gone"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := a.Remove(ctx, "gone"); err != nil {
			t.Fatalf("second Remove: %v", err)
		}
		if _, ok, _ := a.Get(ctx, "gone"); ok {
			t.Fatal("expected key to be removed")
		}
	})

	t.Run("ListAndIsolation", func(t *testing.T) {
		a := open(t, "conf-iso-a", "items")
		b2 := open(t, "conf-iso-b", "items")
		c := open(t, "conf-iso-a", "other")

		empty, err := a.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if empty == nil || len(empty) != 0 {
			t.Fatalf("expected empty non-nil list, got %#v", empty)
		}

		_ = a.Set(ctx, "x", []byte("1"))
		_ = a.Set(ctx, "y", []byte("2"))
		_ = b2.Set(ctx, "z", []byte("3"))
		_ = c.Set(ctx, "w", []byte("4"))

		got, _ := a.List(ctx)
		assertKeys(t, got, []string{"x", "y"})
		got, _ = b2.List(ctx)
		assertKeys(t, got, []string{"z"})
		got, _ = c.List(ctx)
		assertKeys(t, got, []string{"w"})
	})

	t.Run("ClearScopedToNamespace", func(t *testing.T) {
		a := open(t, "conf-clear", "items")
		other := open(t, "conf-clear", "keep")
		_ = a.Set(ctx, "one", []byte("1"))
		_ = a.Set(ctx, "two", []byte("2"))
		_ = other.Set(ctx, "stay", []byte("3"))

		if err := a.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		got, _ := a.List(ctx)
		if len(got) != 0 {
			t.Fatalf("expected empty after clear, got %v", got)
		}
		if _, ok, _ := other.Get(ctx, "stay"); !ok {
			t.Fatal("clear leaked into sibling namespace")
		}
		// Store stays usable after clear.
		if err := a.Set(ctx, "again", []byte("x")); err != nil {
			t.Fatalf("Set after Clear: %v", err)
		}
	})

	t.Run("ReopenSharesState", func(t *testing.T) {
		first := open(t, "conf-reopen", "items")
		_ = first.Set(ctx, "k", []byte("v"))
		second := open(t, "conf-reopen", "items")
		if v, ok, _ := second.Get(ctx, "k"); !ok || string(v) != "v" {
			t.Fatalf("expected shared state, got ok=%v v=%q", ok, v)
		}
	})
}

func assertKeys(t *testing.T, got, want []string) {
	t.Helper()
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	if len(g) != len(w) {
		t.Fatalf("expected keys %v, got %v", w, g)
	}
	for i := range g {
		if g[i] != w[i] {
			t.Fatalf("expected keys %v, got %v", w, g)
		}
	}
}

package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryBackend_Conformance(t *testing.T) {
	RunConformance(t, NewMemoryBackend("memory"))
}

func TestBoltBackend_Conformance(t *testing.T) {
	b, err := OpenBolt(filepath.Join(t.TempDir(), "nested", "qcut.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer b.Close()
	RunConformance(t, b)
}

func TestBoltBackend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qcut.db")
	ctx := context.Background()
	ns := Namespace{Database: "projects", Store: "projects"}

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	a, _ := b.Open(ctx, ns)
	if err := a.Set(ctx, "p1", []byte(`{"id":"p1"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b.Close()

	b, err = OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	a, _ = b.Open(ctx, ns)
	v, ok, err := a.Get(ctx, "p1")
	if err != nil || !ok || string(v) != `{"id":"p1"}` {
		t.Fatalf("expected persisted value, got v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestFallbackBackend_Conformance(t *testing.T) {
	b, err := OpenFallback(filepath.Join(t.TempDir(), "fallback.json"))
	if err != nil {
		t.Fatalf("OpenFallback: %v", err)
	}
	RunConformance(t, b)
}

func TestFallbackBackend_InMemoryConformance(t *testing.T) {
	b, err := OpenFallback("")
	if err != nil {
		t.Fatalf("OpenFallback: %v", err)
	}
	RunConformance(t, b)
}

func TestFallbackBackend_StoresBase64Strings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.json")
	ctx := context.Background()

	b, _ := OpenFallback(path)
	a, _ := b.Open(ctx, Namespace{Database: "media-p1", Store: "media-metadata"})
	if err := a.Set(ctx, "m1", []byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("document is not a string map: %v", err)
	}
	want := base64.StdEncoding.EncodeToString([]byte{0xde, 0xad, 0xbe, 0xef})
	if doc["media-p1/media-metadata/m1"] != want {
		t.Fatalf("expected %q, got %v", want, doc)
	}

	// A fresh instance reads the same document back.
	again, err := OpenFallback(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	a2, _ := again.Open(ctx, Namespace{Database: "media-p1", Store: "media-metadata"})
	v, ok, _ := a2.Get(ctx, "m1")
	if !ok || len(v) != 4 || v[0] != 0xde {
		t.Fatalf("expected decoded bytes, got %v", v)
	}
}

func TestFallbackBackend_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFallback(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFallbackBackend_FailedWriteRollsBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	b, err := OpenFallback(filepath.Join(dir, "fallback.json"))
	if err != nil {
		t.Fatalf("OpenFallback: %v", err)
	}
	ctx := context.Background()
	a, _ := b.Open(ctx, Namespace{Database: "projects", Store: "projects"})
	if err := a.Set(ctx, "p1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Replace the directory with a file so every flush fails.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := a.Set(ctx, "p1", []byte("v2")); err == nil {
		t.Fatal("expected overwrite to fail")
	}
	if err := a.Set(ctx, "p2", []byte("new")); err == nil {
		t.Fatal("expected insert to fail")
	}
	if err := a.Remove(ctx, "p1"); err == nil {
		t.Fatal("expected remove to fail")
	}
	if err := a.Clear(ctx); err == nil {
		t.Fatal("expected clear to fail")
	}

	v, ok, _ := a.Get(ctx, "p1")
	if !ok || string(v) != "v1" {
		t.Fatalf("p1 = %q (ok=%v), want v1", v, ok)
	}
	if _, ok, _ := a.Get(ctx, "p2"); ok {
		t.Fatal("failed insert is visible")
	}
	if keys, _ := a.List(ctx); len(keys) != 1 {
		t.Fatalf("keys = %v, want [p1]", keys)
	}
}

func TestFSBlobBackend_Conformance(t *testing.T) {
	b, err := OpenFSBlobs(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("OpenFSBlobs: %v", err)
	}
	RunConformance(t, b)
}

func TestFSBlobBackend_UsageAndTempFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	b, _ := OpenFSBlobs(root)
	ctx := context.Background()
	a, _ := b.Open(ctx, Namespace{Database: "media-p1", Store: "media-files"})

	_ = a.Set(ctx, "m1", make([]byte, 100))
	_ = a.Set(ctx, "m2", make([]byte, 50))

	// Leftover temp file from an interrupted write is not a key.
	dir := filepath.Join(root, "media-p1", "media-files")
	if err := os.WriteFile(filepath.Join(dir, tempPrefix+"123"), []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}

	keys, _ := a.List(ctx)
	assertKeys(t, keys, []string{"m1", "m2"})

	usage, err := b.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage != 157 {
		t.Fatalf("expected 157 bytes, got %d", usage)
	}
}

func TestFSBlobBackend_RejectsEscapingNamespace(t *testing.T) {
	b, _ := OpenFSBlobs(t.TempDir())
	for _, ns := range []Namespace{
		{Database: "..", Store: "x"},
		{Database: "a/b", Store: "x"},
		{Database: "a", Store: ""},
	} {
		if _, err := b.Open(context.Background(), ns); err == nil {
			t.Errorf("expected error for %v", ns)
		}
	}
}

func TestRedisBackend_Conformance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackendFromClient(client, "")
	defer b.Close()
	RunConformance(t, b)
}

func TestRedisBackend_HashLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackendFromClient(client, "studio")
	defer b.Close()

	ctx := context.Background()
	a, _ := b.Open(ctx, Namespace{Database: "projects", Store: "projects"})
	if err := a.Set(ctx, "p1", []byte("doc")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mr.HGet("studio:projects:projects", "p1"); got != "doc" {
		t.Fatalf("expected value in namespace hash, got %q", got)
	}
}

func TestTyped_RoundTripAndMissing(t *testing.T) {
	type doc struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	ctx := context.Background()
	a, _ := NewMemoryBackend("").Open(ctx, Namespace{Database: "projects", Store: "projects"})
	typed := NewTyped[doc](a)

	got, err := typed.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for missing key, got %v, %v", got, err)
	}

	if err := typed.Set(ctx, "p1", &doc{ID: "p1", Name: "Trailer"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = typed.Get(ctx, "p1")
	if err != nil || got == nil || got.Name != "Trailer" {
		t.Fatalf("unexpected result %v, %v", got, err)
	}

	_ = a.Set(ctx, "bad", []byte("{"))
	if _, err := typed.Get(ctx, "bad"); err == nil {
		t.Fatal("expected decode error")
	}
}

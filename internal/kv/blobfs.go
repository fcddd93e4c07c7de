// -------------------------------------------------------------------------------
// FSBlobBackend - Origin-Private Binary Payload Store
//
// Author: Alex Freidah
//
// Stores media payloads as one file per key under {root}/{database}/{store}.
// File names are the base64url form of the key so arbitrary ids never escape
// the namespace directory. Writes go to a temp file and are renamed into place.
// -------------------------------------------------------------------------------

package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempPrefix = ".tmp-"

// FSBlobBackend implements Backend on the local filesystem.
type FSBlobBackend struct {
	root string
}

// OpenFSBlobs creates the root directory if needed.
func OpenFSBlobs(root string) (*FSBlobBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSBlobBackend{root: root}, nil
}

// Name returns "fs".
func (b *FSBlobBackend) Name() string { return "fs" }

// Root returns the directory holding every namespace.
func (b *FSBlobBackend) Root() string { return b.root }

// Open creates the namespace directory and returns an adapter over it.
func (b *FSBlobBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	if !safeSegment(ns.Database) || !safeSegment(ns.Store) {
		return nil, fmt.Errorf("invalid blob namespace %q", ns)
	}
	dir := filepath.Join(b.root, ns.Database, ns.Store)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &fsBlobAdapter{dir: dir, ns: ns}, nil
}

// Close is a no-op.
func (b *FSBlobBackend) Close() error { return nil }

// Usage returns the total size in bytes of every stored payload.
func (b *FSBlobBackend) Usage(_ context.Context) (int64, error) {
	return DirSize(b.root)
}

// DirSize sums regular file sizes under dir. A missing dir is zero.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// safeSegment rejects namespace parts that could escape the root.
func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

type fsBlobAdapter struct {
	dir string
	ns  Namespace
}

func (a *fsBlobAdapter) path(key string) string {
	return filepath.Join(a.dir, base64.RawURLEncoding.EncodeToString([]byte(key)))
}

func (a *fsBlobAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	_, op := startOperation(ctx, "fs", opGet, a.ns, key)
	data, err := os.ReadFile(a.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		op.end(nil)
		return nil, false, nil
	}
	op.end(err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob %s/%s: %w", a.ns, key, err)
	}
	return data, true, nil
}

func (a *fsBlobAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, op := startOperation(ctx, "fs", opSet, a.ns, key)
	err := a.write(key, value)
	op.end(err)
	return err
}

func (a *fsBlobAdapter) write(key string, value []byte) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(a.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write blob %s/%s: %w", a.ns, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close blob %s/%s: %w", a.ns, key, err)
	}
	if err := os.Rename(tmpName, a.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit blob %s/%s: %w", a.ns, key, err)
	}
	return nil
}

func (a *fsBlobAdapter) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, op := startOperation(ctx, "fs", opRemove, a.ns, key)
	err := os.Remove(a.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	op.end(err)
	if err != nil {
		return fmt.Errorf("failed to remove blob %s/%s: %w", a.ns, key, err)
	}
	return nil
}

func (a *fsBlobAdapter) List(ctx context.Context) ([]string, error) {
	_, op := startOperation(ctx, "fs", opList, a.ns, "")
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, fs.ErrNotExist) {
		op.end(nil)
		return []string{}, nil
	}
	op.end(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs %s: %w", a.ns, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		key, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil {
			// Foreign file dropped into the directory.
			continue
		}
		keys = append(keys, string(key))
	}
	return keys, nil
}

func (a *fsBlobAdapter) Clear(ctx context.Context) error {
	_, op := startOperation(ctx, "fs", opClear, a.ns, "")
	err := os.RemoveAll(a.dir)
	if err == nil {
		err = os.MkdirAll(a.dir, 0o755)
	}
	op.end(err)
	if err != nil {
		return fmt.Errorf("failed to clear blobs %s: %w", a.ns, err)
	}
	return nil
}

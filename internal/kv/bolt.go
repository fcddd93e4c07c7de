// -------------------------------------------------------------------------------
// BoltBackend - On-Device Structured Database
//
// Author: Alex Freidah
//
// Durable metadata backend on a single bbolt file. Each namespace maps to one
// top-level bucket named "database/store". Values are copied out of the mmap
// before the read transaction ends.
// -------------------------------------------------------------------------------

package kv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// BoltBackend implements Backend over a bbolt database file.
type BoltBackend struct {
	db   *bbolt.DB
	path string
}

// OpenBolt opens (or creates) the bbolt file at path.
func OpenBolt(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return &BoltBackend{db: db, path: path}, nil
}

// Name returns "bolt".
func (b *BoltBackend) Name() string { return "bolt" }

// Path returns the database file location.
func (b *BoltBackend) Path() string { return b.path }

// Open ensures the bucket for ns exists and returns an adapter over it.
func (b *BoltBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	bucket := []byte(ns.String())
	err := b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", ns, err)
	}
	return &boltAdapter{db: b.db, ns: ns, bucket: bucket}, nil
}

// Close closes the database file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

type boltAdapter struct {
	db     *bbolt.DB
	ns     Namespace
	bucket []byte
}

func (a *boltAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, op := startOperation(ctx, "bolt", opGet, a.ns, key)

	var value []byte
	found := false
	err := a.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(a.bucket)
		if bkt == nil {
			return nil
		}
		// Seek distinguishes a stored empty value from a missing key.
		k, v := bkt.Cursor().Seek([]byte(key))
		if k == nil || !bytes.Equal(k, []byte(key)) {
			return nil
		}
		found = true
		value = append([]byte{}, v...)
		return nil
	})
	op.end(err)
	if err != nil {
		return nil, false, fmt.Errorf("bolt get %s/%s failed: %w", a.ns, key, err)
	}
	return value, found, nil
}

func (a *boltAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, op := startOperation(ctx, "bolt", opSet, a.ns, key)
	err := a.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(a.bucket)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), value)
	})
	op.end(err)
	if err != nil {
		return fmt.Errorf("bolt set %s/%s failed: %w", a.ns, key, err)
	}
	return nil
}

func (a *boltAdapter) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, op := startOperation(ctx, "bolt", opRemove, a.ns, key)
	err := a.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(a.bucket)
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(key))
	})
	op.end(err)
	if err != nil {
		return fmt.Errorf("bolt remove %s/%s failed: %w", a.ns, key, err)
	}
	return nil
}

func (a *boltAdapter) List(ctx context.Context) ([]string, error) {
	_, op := startOperation(ctx, "bolt", opList, a.ns, "")
	var keys []string
	err := a.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(a.bucket)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	op.end(err)
	if err != nil {
		return nil, fmt.Errorf("bolt list %s failed: %w", a.ns, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (a *boltAdapter) Clear(ctx context.Context) error {
	_, op := startOperation(ctx, "bolt", opClear, a.ns, "")
	err := a.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(a.bucket) != nil {
			if err := tx.DeleteBucket(a.bucket); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(a.bucket)
		return err
	})
	op.end(err)
	if err != nil {
		return fmt.Errorf("bolt clear %s failed: %w", a.ns, err)
	}
	return nil
}

// -------------------------------------------------------------------------------
// S3BlobBackend - S3-Compatible Binary Payload Store
//
// Author: Alex Freidah
//
// Media payload backend using AWS SDK v2. Connects to any S3-compatible endpoint
// (AWS, MinIO, B2) via custom endpoint configuration. Each namespace maps to the
// object prefix "{prefix}/{database}/{store}/" inside one bucket.
// -------------------------------------------------------------------------------

package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// deleteBatchSize is the DeleteObjects per-request key limit.
const deleteBatchSize = 1000

// s3API is the subset of the S3 client used by the blob backend.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3BlobBackend implements Backend over an S3 bucket.
type S3BlobBackend struct {
	client s3API
	bucket string
	prefix string
}

// NewS3BlobBackend creates an S3-compatible blob backend. Uses BaseEndpoint
// to direct requests to the configured provider instead of AWS.
func NewS3BlobBackend(cfg config.S3Config) *S3BlobBackend {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: cfg.ForcePathStyle,
	})
	return newS3BlobBackend(client, cfg.Bucket, cfg.Prefix)
}

func newS3BlobBackend(client s3API, bucket, prefix string) *S3BlobBackend {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3BlobBackend{client: client, bucket: bucket, prefix: prefix}
}

// Name returns "s3".
func (b *S3BlobBackend) Name() string { return "s3" }

// Open returns an adapter over the namespace prefix. No request is made.
func (b *S3BlobBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	return &s3BlobAdapter{
		backend: b,
		ns:      ns,
		prefix:  b.prefix + ns.Database + "/" + ns.Store + "/",
	}, nil
}

// Close is a no-op; the SDK client holds no long-lived resources.
func (b *S3BlobBackend) Close() error { return nil }

// Usage sums the size of every object under the backend prefix.
func (b *S3BlobBackend) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := b.listObjects(ctx, b.prefix, func(objects []types.Object) error {
		for _, obj := range objects {
			total += aws.ToInt64(obj.Size)
		}
		return nil
	})
	return total, err
}

// listObjects iterates every object with the given prefix, calling fn per
// page. Uses ListObjectsV2 pagination internally.
func (b *S3BlobBackend) listObjects(ctx context.Context, prefix string, fn func([]types.Object) error) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects failed: %w", err)
		}
		if len(page.Contents) > 0 {
			if err := fn(page.Contents); err != nil {
				return err
			}
		}
	}
	return nil
}

// isNotFound reports whether err is an S3 missing-object response. Some
// S3-compatible providers return a bare NotFound code instead of NoSuchKey.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

type s3BlobAdapter struct {
	backend *S3BlobBackend
	ns      Namespace
	prefix  string
}

func (a *s3BlobAdapter) objectKey(key string) string {
	return a.prefix + key
}

func (a *s3BlobAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, op := startOperation(ctx, "s3", opGet, a.ns, key)
	out, err := a.backend.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.backend.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			op.end(nil)
			return nil, false, nil
		}
		op.end(err)
		return nil, false, fmt.Errorf("get object failed: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	op.end(err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, true, nil
}

func (a *s3BlobAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ctx, op := startOperation(ctx, "s3", opSet, a.ns, key)

	// The SDK requires a seekable body to compute the SigV4 payload hash.
	_, err := a.backend.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.backend.bucket),
		Key:           aws.String(a.objectKey(key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
		ContentType:   aws.String("application/octet-stream"),
	})
	op.end(err)
	if err != nil {
		return fmt.Errorf("put object failed: %w", err)
	}
	return nil
}

func (a *s3BlobAdapter) Remove(ctx context.Context, key string) error {
	ctx, op := startOperation(ctx, "s3", opRemove, a.ns, key)
	_, err := a.backend.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.backend.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if isNotFound(err) {
		err = nil
	}
	op.end(err)
	if err != nil {
		return fmt.Errorf("delete object failed: %w", err)
	}
	return nil
}

func (a *s3BlobAdapter) List(ctx context.Context) ([]string, error) {
	ctx, op := startOperation(ctx, "s3", opList, a.ns, "")
	keys := []string{}
	err := a.backend.listObjects(ctx, a.prefix, func(objects []types.Object) error {
		for _, obj := range objects {
			k := strings.TrimPrefix(aws.ToString(obj.Key), a.prefix)
			if k != "" {
				keys = append(keys, k)
			}
		}
		return nil
	})
	op.end(err)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (a *s3BlobAdapter) Clear(ctx context.Context) error {
	ctx, op := startOperation(ctx, "s3", opClear, a.ns, "")
	err := a.backend.listObjects(ctx, a.prefix, func(objects []types.Object) error {
		for start := 0; start < len(objects); start += deleteBatchSize {
			end := min(start+deleteBatchSize, len(objects))
			ids := make([]types.ObjectIdentifier, 0, end-start)
			for _, obj := range objects[start:end] {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			_, err := a.backend.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(a.backend.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("delete objects failed: %w", err)
			}
		}
		return nil
	})
	op.end(err)
	return err
}

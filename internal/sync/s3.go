package sync

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectPutter is the subset of *s3.Client the destination uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3Destination.
type S3Options struct {
	Bucket string
	// Key is the object that always holds the latest export.
	Key      string
	Region   string
	Endpoint string
	// Snapshots also keeps a dated copy of every export next to Key.
	Snapshots bool
}

// S3Destination writes journal exports to an S3-compatible bucket.
type S3Destination struct {
	client    objectPutter
	bucket    string
	key       string
	snapshots bool
	now       func() time.Time
}

// NewS3Destination creates an S3 destination. If opts.Endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, opts S3Options) (*S3Destination, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("s3 destination needs a bucket and a key")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}
	return newS3Destination(s3.NewFromConfig(cfg, s3opts...), opts), nil
}

func newS3Destination(client objectPutter, opts S3Options) *S3Destination {
	return &S3Destination{
		client:    client,
		bucket:    opts.Bucket,
		key:       opts.Key,
		snapshots: opts.Snapshots,
		now:       time.Now,
	}
}

func (d *S3Destination) String() string { return "s3://" + d.bucket + "/" + d.key }

// Write uploads data as the configured key, plus a dated snapshot when
// enabled.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	if err := d.put(ctx, d.key, data); err != nil {
		return err
	}
	if d.snapshots {
		return d.put(ctx, snapshotKey(d.key, d.now()), data)
	}
	return nil
}

func (d *S3Destination) put(ctx context.Context, key string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// snapshotKey turns "dir/journal.jsonl" into
// "dir/journal-20260110T120000Z.jsonl".
func snapshotKey(key string, t time.Time) string {
	stamp := t.UTC().Format("20060102T150405Z")
	if i := strings.LastIndex(key, "."); i > strings.LastIndex(key, "/") {
		return key[:i] + "-" + stamp + key[i:]
	}
	return key + "-" + stamp
}

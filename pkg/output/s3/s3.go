package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittomirror/pkg/output"
)

const (
	minPartSize     = 5 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024
)

// API is the subset of *s3.Client the sink uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Config configures the S3 sink.
type Config struct {
	Client API

	// Bucket must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "mirror/".
	KeyPrefix string

	// PartSize is the multipart threshold and part size (default 10MB,
	// minimum 5MB).
	PartSize int64

	// SpoolDir holds in-flight files before upload (default os.TempDir()).
	SpoolDir string
}

// Sink uploads fetched files as S3 objects.
//
// Content is spooled to a local temporary file while it is fetched and
// uploaded on Commit: with PutObject for small files and a multipart upload
// above PartSize.
type Sink struct {
	client    API
	bucket    string
	keyPrefix string
	partSize  int64
	spoolDir  string
}

func New(cfg Config) (*Sink, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}

	return &Sink{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		spoolDir:  cfg.SpoolDir,
	}, nil
}

func (s *Sink) Name() string { return "s3" }

// ObjectKey returns the object key for an output key.
func (s *Sink) ObjectKey(key string) string {
	return s.keyPrefix + strings.TrimPrefix(key, "/")
}

func (s *Sink) Create(ctx context.Context, key string) (output.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimPrefix(key, "/") == "" {
		return nil, fmt.Errorf("%w: empty key", output.ErrInvalidPath)
	}

	spool, err := os.CreateTemp(s.spoolDir, "dittomirror-*.spool")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &object{sink: s, key: s.ObjectKey(key), spool: spool}, nil
}

type object struct {
	sink  *Sink
	key   string
	spool *os.File
	size  int64
	done  bool
}

func (o *object) Write(p []byte) (int, error) {
	n, err := o.spool.Write(p)
	o.size += int64(n)
	return n, err
}

func (o *object) Commit(ctx context.Context) error {
	if o.done {
		return fmt.Errorf("object %s already finished", o.key)
	}
	o.done = true
	defer o.discard()

	if _, err := o.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool for %s: %w", o.key, err)
	}

	if o.size <= o.sink.partSize {
		_, err := o.sink.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(o.sink.bucket),
			Key:           aws.String(o.key),
			Body:          o.spool,
			ContentLength: aws.Int64(o.size),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s to S3: %w", o.key, err)
		}
		return nil
	}

	return o.multipart(ctx)
}

func (o *object) multipart(ctx context.Context) error {
	bucket := aws.String(o.sink.bucket)
	key := aws.String(o.key)

	created, err := o.sink.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: bucket,
		Key:    key,
	})
	if err != nil {
		return fmt.Errorf("failed to start multipart upload for %s: %w", o.key, err)
	}
	uploadID := created.UploadId

	abort := func(cause error) error {
		_, _ = o.sink.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   bucket,
			Key:      key,
			UploadId: uploadID,
		})
		return cause
	}

	var parts []types.CompletedPart
	for offset, number := int64(0), int32(1); offset < o.size; offset, number = offset+o.sink.partSize, number+1 {
		length := min(o.sink.partSize, o.size-offset)
		out, err := o.sink.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        bucket,
			Key:           key,
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			Body:          io.NewSectionReader(o.spool, offset, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			return abort(fmt.Errorf("failed to upload part %d of %s: %w", number, o.key, err))
		}
		parts = append(parts, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(number),
		})
	}

	_, err = o.sink.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          bucket,
		Key:             key,
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("failed to complete multipart upload for %s: %w", o.key, err))
	}
	return nil
}

func (o *object) Abort() error {
	if o.done {
		return nil
	}
	o.done = true
	o.discard()
	return nil
}

func (o *object) discard() {
	_ = o.spool.Close()
	_ = os.Remove(o.spool.Name())
}

var _ output.Sink = (*Sink)(nil)

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomirror/pkg/output"
)

// fakeS3 keeps objects and multipart uploads in memory.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]map[int32][]byte
	aborted  int
	failPart bool
}

func newFake() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.failPart {
		return nil, errors.New("injected part failure")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[*in.UploadId][*in.PartNumber] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", *in.PartNumber))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(f.uploads[*in.UploadId][*p.PartNumber])
	}
	f.objects[*in.Key] = buf.Bytes()
	delete(f.uploads, *in.UploadId)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	delete(f.uploads, *in.UploadId)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(Config{Client: newFake()})
	assert.Error(t, err)
	_, err = New(Config{Client: newFake(), Bucket: "b", PartSize: 1024})
	assert.Error(t, err)
}

func TestSmallObject(t *testing.T) {
	fake := newFake()
	sink, err := New(Config{Client: fake, Bucket: "mirror", KeyPrefix: "runs/", SpoolDir: t.TempDir()})
	require.NoError(t, err)

	_, err = output.Write(context.Background(), sink, "h_1/a.txt", bytes.NewReader([]byte("small")))
	require.NoError(t, err)

	assert.Equal(t, []byte("small"), fake.objects["runs/h_1/a.txt"])
}

func TestMultipartObject(t *testing.T) {
	fake := newFake()
	sink, err := New(Config{Client: fake, Bucket: "mirror", PartSize: minPartSize, SpoolDir: t.TempDir()})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("0123456789"), (minPartSize*2+500)/10)
	_, err = output.Write(context.Background(), sink, "h_1/big.bin", bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, payload, fake.objects["h_1/big.bin"])
	assert.Empty(t, fake.uploads)
}

func TestMultipartFailureAborts(t *testing.T) {
	fake := newFake()
	fake.failPart = true
	sink, err := New(Config{Client: fake, Bucket: "mirror", PartSize: minPartSize, SpoolDir: t.TempDir()})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{'x'}, minPartSize+1)
	_, err = output.Write(context.Background(), sink, "h_1/big.bin", bytes.NewReader(payload))
	require.Error(t, err)

	assert.Equal(t, 1, fake.aborted)
	assert.NotContains(t, fake.objects, "h_1/big.bin")
}

func TestAbortBeforeCommit(t *testing.T) {
	fake := newFake()
	sink, err := New(Config{Client: fake, Bucket: "mirror", SpoolDir: t.TempDir()})
	require.NoError(t, err)

	f, err := sink.Create(context.Background(), "h_1/x")
	require.NoError(t, err)
	_, _ = f.Write([]byte("data"))
	require.NoError(t, f.Abort())

	assert.Empty(t, fake.objects)
}

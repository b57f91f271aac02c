package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory, keyed by object key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	copies  []string
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	f.objects[key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	bucket := aws.ToString(in.Bucket)
	key := strings.TrimPrefix(src, bucket+"/")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, aws.ToString(in.CopySource))
	b, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = append([]byte(nil), b...)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Lifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newS3(fake, "media", "/site-a/")

	ok, err := s.Exists(ctx, "tmp/images/a/b/ab.png")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Write(ctx, "tmp/images/a/b/ab.png", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Contains(t, fake.objects, "site-a/tmp/images/a/b/ab.png")

	ok, err = s.Exists(ctx, "tmp/images/a/b/ab.png")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Rename(ctx, "tmp/images/a/b/ab.png", "images/a/b/ab.png"))
	assert.NotContains(t, fake.objects, "site-a/tmp/images/a/b/ab.png")
	assert.Equal(t, "abc", readAll(t, s, "images/a/b/ab.png"))
	assert.Equal(t, []string{"media/site-a/tmp/images/a/b/ab.png"}, fake.copies)

	require.NoError(t, s.Delete(ctx, "images/a/b/ab.png"))
	_, err = s.Open(ctx, "images/a/b/ab.png")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestS3CreateKeepsExistingObject(t *testing.T) {
	ctx := context.Background()
	s := newS3(newFakeS3(), "media", "")

	_, err := s.Create(ctx, "images/p/h/photo.png", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "images/p/h/photo.png", strings.NewReader("second"))
	assert.ErrorIs(t, err, ErrExist)
	assert.Equal(t, "first", readAll(t, s, "images/p/h/photo.png"))

	_, err = s.Write(ctx, "images/p/h/photo.png", strings.NewReader("third"))
	require.NoError(t, err)
	assert.Equal(t, "third", readAll(t, s, "images/p/h/photo.png"))
}

func TestS3RenameRefusesTakenTarget(t *testing.T) {
	ctx := context.Background()
	s := newS3(newFakeS3(), "media", "")
	_, err := s.Write(ctx, "tmp/a.png", strings.NewReader("new"))
	require.NoError(t, err)
	_, err = s.Write(ctx, "images/a.png", strings.NewReader("old"))
	require.NoError(t, err)

	err = s.Rename(ctx, "tmp/a.png", "images/a.png")
	assert.ErrorIs(t, err, ErrExist)
	assert.Equal(t, "old", readAll(t, s, "images/a.png"))
	assert.Equal(t, "new", readAll(t, s, "tmp/a.png"))
}

func TestS3CopyMissingSource(t *testing.T) {
	s := newS3(newFakeS3(), "media", "")
	err := s.Copy(context.Background(), "tmp/none.png", "images/none.png")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestS3WriteError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("connection reset")
	s := newS3(fake, "media", "")

	_, err := s.Write(context.Background(), "a.png", strings.NewReader("a"))
	assert.ErrorContains(t, err, "connection reset")
}

func TestS3RejectsTraversal(t *testing.T) {
	s := newS3(newFakeS3(), "media", "site-a")
	_, err := s.Exists(context.Background(), "../site-b/secret.png")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestS3AbsolutePathAndCopySource(t *testing.T) {
	s := newS3(newFakeS3(), "media", "site-a")
	assert.Equal(t, "s3://media/site-a/images/a.png", s.AbsolutePath("/images/a.png"))
	assert.Equal(t, "media/images/my%20photo.png", copySource("media", "images/my photo.png"))
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.False(t, isNotFound(errors.New("boom")))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.False(t, isPreconditionFailed(nil))
	assert.False(t, isPreconditionFailed(&types.NotFound{}))
	assert.True(t, isPreconditionFailed(&smithy.GenericAPIError{Code: "PreconditionFailed"}))
	assert.True(t, isPreconditionFailed(&smithy.GenericAPIError{Code: "ConditionalRequestConflict"}))
}

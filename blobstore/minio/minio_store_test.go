package minio

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/hupe1980/knnshard/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucket, object, r, size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockClient) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error) {
	args := m.Called(ctx, bucket, object, opts)
	obj, _ := args.Get(0).(*minio.Object)
	return obj, args.Error(1)
}

func (m *mockClient) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucket, object, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *mockClient) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucket, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

func objects(infos ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(infos))
	for _, info := range infos {
		ch <- info
	}
	close(ch)
	return ch
}

func TestStore_Put(t *testing.T) {
	client := new(mockClient)
	store := NewStore(client, "bucket", "knn/")

	client.On("PutObject", mock.Anything, "bucket", "knn/run/shard_0.csv", mock.Anything, int64(5),
		mock.MatchedBy(func(o minio.PutObjectOptions) bool {
			return o.ContentType == "text/tab-separated-values"
		})).Return(minio.UploadInfo{}, nil).Once()

	require.NoError(t, store.Put(context.Background(), "run/shard_0.csv", strings.NewReader("hello"), 5))
	client.AssertExpectations(t)
}

func TestStore_OpenNotFound(t *testing.T) {
	client := new(mockClient)
	store := NewStore(client, "bucket", "knn")

	client.On("StatObject", mock.Anything, "bucket", "knn/missing", mock.Anything).
		Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"}).Once()

	_, err := store.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_List(t *testing.T) {
	client := new(mockClient)
	store := NewStore(client, "bucket", "knn/")

	client.On("ListObjects", mock.Anything, "bucket", mock.MatchedBy(func(o minio.ListObjectsOptions) bool {
		return o.Prefix == "knn/run-1/" && o.Recursive
	})).Return(objects(
		minio.ObjectInfo{Key: "knn/run-1/shard_1.csv"},
		minio.ObjectInfo{Key: "knn/run-1/manifest.json"},
	)).Once()

	names, err := store.List(context.Background(), "run-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1/manifest.json", "run-1/shard_1.csv"}, names)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("x/manifest.json"))
	assert.Equal(t, "application/octet-stream", contentType("shard_0.csv.zst"))
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	endpoint := "localhost:9000"
	bucket := "test-knnshard"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	data := "a\tb\t0.5\n"
	require.NoError(t, store.Put(ctx, "run/shard_0.csv", strings.NewReader(data), int64(len(data))))

	rc, err := store.Open(ctx, "run/shard_0.csv")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, string(got))

	names, err := store.List(ctx, "run/")
	require.NoError(t, err)
	assert.Contains(t, names, "run/shard_0.csv")
}

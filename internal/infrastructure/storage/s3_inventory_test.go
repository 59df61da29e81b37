package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labdata/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewS3Inventory_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3Inventory(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3Inventory(&config.StorageConfig{AccessKeyID: "k", SecretAccessKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("missing access key returns error", func(t *testing.T) {
		_, err := NewS3Inventory(&config.StorageConfig{Bucket: "cold", SecretAccessKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access key is required")
	})

	t.Run("missing secret key returns error", func(t *testing.T) {
		_, err := NewS3Inventory(&config.StorageConfig{Bucket: "cold", AccessKeyID: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret key is required")
	})

	t.Run("valid config creates inventory", func(t *testing.T) {
		inv, err := NewS3Inventory(&config.StorageConfig{
			Bucket:          "cold",
			Prefix:          "/archive/",
			AccessKeyID:     "k",
			SecretAccessKey: "s",
			Endpoint:        "localhost:9000",
		})
		require.NoError(t, err)
		assert.Equal(t, "cold", inv.GetBucket())
		assert.Equal(t, "archive/proj-a/", inv.ProjectPrefix("proj-a"))
	})
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "", normalizePrefix(""))
	assert.Equal(t, "", normalizePrefix("/"))
	assert.Equal(t, "cold/", normalizePrefix("cold"))
	assert.Equal(t, "a/b/", normalizePrefix("/a/b/"))
}

const listPageOne = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>cold</Name>
  <Prefix>archive/proj-a/</Prefix>
  <KeyCount>3</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>page-2</NextContinuationToken>
  <Contents><Key>archive/proj-a/</Key><Size>0</Size></Contents>
  <Contents><Key>archive/proj-a/run-1/a.fastq</Key><Size>600</Size></Contents>
  <Contents><Key>archive/proj-a/run-1/b.fastq</Key><Size>300</Size></Contents>
</ListBucketResult>`

const listPageTwo = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>cold</Name>
  <Prefix>archive/proj-a/</Prefix>
  <KeyCount>1</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>archive/proj-a/run-2/c.fastq</Key><Size>100</Size></Contents>
</ListBucketResult>`

func newTestInventory(t *testing.T, handler http.HandlerFunc) *S3Inventory {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	inv, err := NewS3Inventory(&config.StorageConfig{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "cold",
		Prefix:          "archive",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return inv
}

func TestS3Inventory_Summarize(t *testing.T) {
	var calls atomic.Int32
	inv := newTestInventory(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/cold", strings.TrimSuffix(r.URL.Path, "/"))
		assert.Equal(t, "2", r.URL.Query().Get("list-type"))
		assert.Equal(t, "archive/proj-a/", r.URL.Query().Get("prefix"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256"))

		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Get("continuation-token") == "page-2" {
			_, _ = w.Write([]byte(listPageTwo))
			return
		}
		_, _ = w.Write([]byte(listPageOne))
	})

	summary, err := inv.Summarize(context.Background(), "proj-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), summary.Bytes)
	assert.Equal(t, int64(3), summary.Files)
	assert.Equal(t, int32(2), calls.Load())
}

func TestS3Inventory_Summarize_Empty(t *testing.T) {
	inv := newTestInventory(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>cold</Name><Prefix>archive/proj-b/</Prefix><KeyCount>0</KeyCount>
  <MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
</ListBucketResult>`))
	})

	summary, err := inv.Summarize(context.Background(), "proj-b")
	require.NoError(t, err)
	assert.Zero(t, summary.Bytes)
	assert.Zero(t, summary.Files)
}

func TestS3Inventory_Summarize_Errors(t *testing.T) {
	t.Run("missing bucket", func(t *testing.T) {
		inv := newTestInventory(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchBucket</Code><Message>The specified bucket does not exist</Message></Error>`))
		})

		_, err := inv.Summarize(context.Background(), "proj-a")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "archive/proj-a/")
	})

	t.Run("empty slug", func(t *testing.T) {
		inv := newTestInventory(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		_, err := inv.Summarize(context.Background(), "")
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		inv := newTestInventory(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(listPageTwo))
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := inv.Summarize(ctx, "proj-a")
		require.Error(t, err)
	})
}

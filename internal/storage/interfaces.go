package storage

import (
	"context"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/Log-Tools/secops-forwarder/internal/config"
)

// BlobRef is an immutable snapshot of one blob's listing metadata
type BlobRef struct {
	StorageAccount string
	Container      string
	Path           string
	ETag           string
	Size           int64
	LastModified   time.Time
}

// BlobSource abstracts blob listing and streaming so workers can be tested
// without Azure connectivity
type BlobSource interface {
	// List returns a snapshot of the blobs under the given prefixes.
	// An empty prefix list scans the whole container.
	List(ctx context.Context, container string, prefixes []string) ([]BlobRef, error)

	// Open returns a streaming reader over the blob's content. Reads
	// return bounded chunks; the blob is never materialized in memory.
	Open(ctx context.Context, ref BlobRef) (io.ReadCloser, error)
}

// ClientFactory abstracts Azure client creation to enable dependency
// injection and testing
type ClientFactory interface {
	CreateClient(account config.StorageAccount) (*azblob.Client, error)
}

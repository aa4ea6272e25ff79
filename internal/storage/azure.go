package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/Log-Tools/secops-forwarder/internal/config"
)

// azureClientFactory implements ClientFactory for production use
type azureClientFactory struct{}

// NewAzureClientFactory creates a factory producing real Azure blob clients
func NewAzureClientFactory() ClientFactory {
	return &azureClientFactory{}
}

// CreateClient builds a blob service client from the account configuration.
// Connection string wins, then shared key, then the ambient default Azure
// credential (managed identity, workload identity, az login).
func (f *azureClientFactory) CreateClient(account config.StorageAccount) (*azblob.Client, error) {
	if account.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(account.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client for %s from connection string: %w", account.Name, err)
		}
		return client, nil
	}

	serviceURL := account.AccountURL
	if !strings.HasSuffix(serviceURL, "/") {
		serviceURL += "/"
	}

	if account.AccessKey != "" {
		cred, err := azblob.NewSharedKeyCredential(account.Name, account.AccessKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential for %s: %w", account.Name, err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client for %s: %w", account.Name, err)
		}
		return client, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire default Azure credential for %s: %w", account.Name, err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client for %s: %w", account.Name, err)
	}
	return client, nil
}

// AzureBlobSource implements BlobSource on top of one storage account's
// blob service client
type AzureBlobSource struct {
	accountName string
	client      *azblob.Client
}

// NewAzureBlobSource wraps an Azure blob client as a BlobSource
func NewAzureBlobSource(accountName string, client *azblob.Client) *AzureBlobSource {
	return &AzureBlobSource{
		accountName: accountName,
		client:      client,
	}
}

// List pages through the container once per prefix and returns the combined
// snapshot. Blobs matched by more than one prefix are reported once.
func (s *AzureBlobSource) List(ctx context.Context, containerName string, prefixes []string) ([]BlobRef, error) {
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}

	containerClient := s.client.ServiceClient().NewContainerClient(containerName)

	var refs []BlobRef
	seen := make(map[string]bool)

	for _, prefix := range prefixes {
		opts := &container.ListBlobsFlatOptions{}
		if prefix != "" {
			opts.Prefix = &prefix
		}

		pager := containerClient.NewListBlobsFlatPager(opts)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list blobs in %s/%s (prefix %q): %w",
					s.accountName, containerName, prefix, err)
			}

			for _, item := range page.Segment.BlobItems {
				if item.Name == nil || seen[*item.Name] {
					continue
				}
				seen[*item.Name] = true

				ref := BlobRef{
					StorageAccount: s.accountName,
					Container:      containerName,
					Path:           *item.Name,
				}
				if props := item.Properties; props != nil {
					if props.ETag != nil {
						ref.ETag = string(*props.ETag)
					}
					if props.ContentLength != nil {
						ref.Size = *props.ContentLength
					}
					if props.LastModified != nil {
						ref.LastModified = *props.LastModified
					}
				}
				refs = append(refs, ref)
			}
		}
	}

	return refs, nil
}

// Open starts a streaming download of the blob's content
func (s *AzureBlobSource) Open(ctx context.Context, ref BlobRef) (io.ReadCloser, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(ref.Container).NewBlobClient(ref.Path)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream for %s/%s/%s: %w",
			s.accountName, ref.Container, ref.Path, err)
	}
	return resp.Body, nil
}

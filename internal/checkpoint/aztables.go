package checkpoint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// Entity property names used in the checkpoint table
const (
	propBlobETag    = "BlobEtag"
	propBlobSize    = "BlobSize"
	propProcessedAt = "ProcessedAt"
)

// TableStore persists checkpoints in Azure Table Storage. PartitionKey is
// the container key and RowKey is the base64url-encoded blob path, since
// table row keys cannot contain '/', '\', '#' or '?'.
type TableStore struct {
	client *aztables.Client
}

// NewTableStore connects to the checkpoint table, creating it when absent
func NewTableStore(ctx context.Context, connectionString, table string) (*TableStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create table service client: %w", err)
	}

	client := svc.NewClient(table)
	if _, err := client.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusConflict {
			return nil, fmt.Errorf("failed to create checkpoint table %s: %w", table, err)
		}
	}

	return &TableStore{client: client}, nil
}

func (s *TableStore) Get(ctx context.Context, containerKey, blobPath string) (*Checkpoint, error) {
	resp, err := s.client.GetEntity(ctx, containerKey, encodeRowKey(blobPath), nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint for %s/%s: %w", containerKey, blobPath, err)
	}

	var entity aztables.EDMEntity
	if err := json.Unmarshal(resp.Value, &entity); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint entity for %s/%s: %w", containerKey, blobPath, err)
	}

	cp := &Checkpoint{}
	if v, ok := entity.Properties[propBlobETag].(string); ok {
		cp.ETag = v
	}
	switch v := entity.Properties[propBlobSize].(type) {
	case aztables.EDMInt64:
		cp.Size = int64(v)
	case int64:
		cp.Size = v
	case int32:
		cp.Size = int64(v)
	case float64:
		cp.Size = int64(v)
	}
	if v, ok := entity.Properties[propProcessedAt].(aztables.EDMDateTime); ok {
		cp.ProcessedAt = time.Time(v)
	}
	return cp, nil
}

func (s *TableStore) Put(ctx context.Context, containerKey, blobPath string, cp Checkpoint) error {
	entity := aztables.EDMEntity{
		Entity: aztables.Entity{
			PartitionKey: containerKey,
			RowKey:       encodeRowKey(blobPath),
		},
		Properties: map[string]any{
			propBlobETag:    cp.ETag,
			propBlobSize:    aztables.EDMInt64(cp.Size),
			propProcessedAt: aztables.EDMDateTime(cp.ProcessedAt),
		},
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint entity for %s/%s: %w", containerKey, blobPath, err)
	}

	_, err = s.client.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return fmt.Errorf("failed to write checkpoint for %s/%s: %w", containerKey, blobPath, err)
	}
	return nil
}

func encodeRowKey(blobPath string) string {
	return base64.URLEncoding.EncodeToString([]byte(blobPath))
}

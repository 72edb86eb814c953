package cosmosdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
)

// ContainerItemCreator creates documents in a Cosmos DB container.
type ContainerItemCreator struct {
	client *azcosmos.ContainerClient
}

// NewContainerItemCreator wraps a Cosmos DB container client.
func NewContainerItemCreator(client *azcosmos.ContainerClient) *ContainerItemCreator {
	return &ContainerItemCreator{client: client}
}

// CreateItem creates item under partitionKey. A 409 maps to ErrItemExists.
func (c *ContainerItemCreator) CreateItem(ctx context.Context, partitionKey string, item []byte) error {
	_, err := c.client.CreateItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), item, nil)
	if isConflict(err) {
		return fmt.Errorf("%w: %w", ErrItemExists, err)
	}
	return err
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}

// BlobContainer uploads block blobs into one container.
type BlobContainer struct {
	client *container.Client
}

// NewBlobContainer wraps a blob container client.
func NewBlobContainer(client *container.Client) *BlobContainer {
	return &BlobContainer{client: client}
}

// Upload writes data to the block blob called name, replacing any existing blob.
func (b *BlobContainer) Upload(ctx context.Context, name string, data []byte) error {
	_, err := b.client.NewBlockBlobClient(name).UploadBuffer(ctx, data, nil)
	return err
}

// Open builds both stores from configuration using an Entra ID credential.
func Open(cfg configuration.TraceStoreConfig, cred azcore.TokenCredential) (*ContainerItemCreator, *BlobContainer, error) {
	if !cfg.Enabled() {
		return nil, nil, errors.New("trace store is not configured")
	}

	cosmos, err := azcosmos.NewClient(cfg.CosmosEndpoint, cred, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("cosmos client: %w", err)
	}
	spans, err := cosmos.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, nil, fmt.Errorf("cosmos container %s/%s: %w", cfg.Database, cfg.Container, err)
	}

	containerURL := strings.TrimSuffix(cfg.BlobServiceURL, "/") + "/" + cfg.BlobContainer
	blobs, err := container.NewClient(containerURL, cred, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("blob container %s: %w", containerURL, err)
	}

	return NewContainerItemCreator(spans), NewBlobContainer(blobs), nil
}

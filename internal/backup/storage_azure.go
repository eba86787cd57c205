package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStorageProvider stores artifacts and metadata in an Azure Blob
// container under a configurable blob prefix.
type AzureStorageProvider struct {
	serviceURL    azblob.ServiceURL
	containerName string
	prefix        string
}

// NewAzureStorageProvider creates an Azure provider from shared key
// credentials.
func NewAzureStorageProvider(config *AzureConfig) (*AzureStorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("Azure storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStorageProvider{
		serviceURL:    azblob.NewServiceURL(*serviceURL, pipeline),
		containerName: config.ContainerName,
		prefix:        strings.Trim(config.Prefix, "/"),
	}, nil
}

// StoreArtifact uploads an artifact payload, replacing any existing
// blob at the key.
func (azp *AzureStorageProvider) StoreArtifact(ctx context.Context, key string, data []byte) error {
	blobURL := azp.containerURL().NewBlockBlobURL(azp.blobName(key))

	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: contentTypeForKey(key),
		},
	})
	if err != nil {
		return NewStorageError("failed to upload artifact to Azure", err)
	}
	return nil
}

// RetrieveArtifact downloads an artifact payload.
func (azp *AzureStorageProvider) RetrieveArtifact(ctx context.Context, key string) ([]byte, error) {
	blobURL := azp.containerURL().NewBlockBlobURL(azp.blobName(key))

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from Azure", key), err)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, NewStorageError("failed to read artifact body", err)
	}
	return data, nil
}

// DeleteArtifact removes an artifact and its snapshots.
func (azp *AzureStorageProvider) DeleteArtifact(ctx context.Context, key string) error {
	blobURL := azp.containerURL().NewBlockBlobURL(azp.blobName(key))

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if isAzureNotFound(err) {
			return NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return NewStorageError("failed to delete artifact from Azure", err)
	}
	return nil
}

// ArtifactExists reports whether a blob exists at the key.
func (azp *AzureStorageProvider) ArtifactExists(ctx context.Context, key string) (bool, error) {
	blobURL := azp.containerURL().NewBlockBlobURL(azp.blobName(key))

	_, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, NewStorageError("failed to stat artifact in Azure", err)
	}
	return true, nil
}

// ListArtifacts returns stored keys under a prefix, sorted.
func (azp *AzureStorageProvider) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	containerURL := azp.containerURL()
	for marker := (azblob.Marker{}); marker.NotDone(); {
		response, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: azp.blobName(prefix),
		})
		if err != nil {
			return nil, NewStorageError("failed to list artifacts in Azure", err)
		}
		for _, blob := range response.Segment.BlobItems {
			if key := azp.trimPrefix(blob.Name); key != "" {
				keys = append(keys, key)
			}
		}
		marker = response.NextMarker
	}

	sort.Strings(keys)
	return keys, nil
}

// SaveMetadata uploads the metadata record for a backup id.
func (azp *AzureStorageProvider) SaveMetadata(ctx context.Context, meta *BackupMetadata) error {
	if meta == nil {
		return NewValidationError("metadata cannot be nil", nil)
	}
	if err := meta.Validate(); err != nil {
		return err
	}

	data, err := meta.ToJSON()
	if err != nil {
		return NewStorageError("failed to serialize metadata", err)
	}
	return azp.StoreArtifact(ctx, MetadataKey(meta.BackupID), data)
}

// LoadMetadata downloads the metadata record for a backup id.
func (azp *AzureStorageProvider) LoadMetadata(ctx context.Context, backupID string) (*BackupMetadata, error) {
	data, err := azp.RetrieveArtifact(ctx, MetadataKey(backupID))
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("backup %s not found", backupID), err)
		}
		return nil, err
	}

	meta := &BackupMetadata{}
	if err := meta.FromJSON(data); err != nil {
		return nil, NewCorruptionError("failed to parse metadata", err)
	}
	return meta, nil
}

// ListMetadata returns metadata records matching the filter, newest
// first.
func (azp *AzureStorageProvider) ListMetadata(ctx context.Context, filter MetadataFilter) ([]*BackupMetadata, error) {
	var metas []*BackupMetadata

	containerURL := azp.containerURL()
	for marker := (azblob.Marker{}); marker.NotDone(); {
		response, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: azp.blobName(DirMetadata + "/"),
		})
		if err != nil {
			return nil, NewStorageError("failed to list metadata in Azure", err)
		}

		for _, blob := range response.Segment.BlobItems {
			key := azp.trimPrefix(blob.Name)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			data, err := azp.RetrieveArtifact(ctx, key)
			if err != nil {
				continue
			}
			meta := &BackupMetadata{}
			if err := meta.FromJSON(data); err != nil {
				continue
			}
			if filter.Matches(meta) {
				metas = append(metas, meta)
			}
		}
		marker = response.NextMarker
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	if filter.Limit > 0 && len(metas) > filter.Limit {
		metas = metas[:filter.Limit]
	}
	return metas, nil
}

// DeleteMetadata removes the metadata record for a backup id.
func (azp *AzureStorageProvider) DeleteMetadata(ctx context.Context, backupID string) error {
	return azp.DeleteArtifact(ctx, MetadataKey(backupID))
}

// HealthCheck verifies the container is reachable and listable.
func (azp *AzureStorageProvider) HealthCheck(ctx context.Context) error {
	containerURL := azp.containerURL()

	if _, err := containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return NewStorageError("Azure health check failed: container not accessible", err)
	}

	_, err := containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		Prefix:     azp.prefix,
		MaxResults: 1,
	})
	if err != nil {
		return NewStorageError("Azure health check failed: cannot list blobs", err)
	}
	return nil
}

// StorageInfo describes the provider for reports.
func (azp *AzureStorageProvider) StorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":  string(StorageProviderAzure),
		"container": azp.containerName,
		"prefix":    azp.prefix,
	}
}

func (azp *AzureStorageProvider) containerURL() azblob.ContainerURL {
	return azp.serviceURL.NewContainerURL(azp.containerName)
}

func (azp *AzureStorageProvider) blobName(key string) string {
	if azp.prefix == "" {
		return key
	}
	return azp.prefix + "/" + key
}

func (azp *AzureStorageProvider) trimPrefix(blobName string) string {
	if azp.prefix == "" {
		return blobName
	}
	if !strings.HasPrefix(blobName, azp.prefix+"/") {
		return ""
	}
	return strings.TrimPrefix(blobName, azp.prefix+"/")
}

func isAzureNotFound(err error) bool {
	if serr, ok := err.(azblob.StorageError); ok {
		code := serr.ServiceCode()
		return code == azblob.ServiceCodeBlobNotFound || code == azblob.ServiceCodeContainerNotFound
	}
	return false
}

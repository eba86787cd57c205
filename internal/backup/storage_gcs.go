package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageProvider stores artifacts and metadata in a Google Cloud
// Storage bucket under a configurable object prefix.
type GCSStorageProvider struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStorageProvider creates a GCS provider. Without an explicit
// credentials file the client falls back to application default
// credentials.
func NewGCSStorageProvider(ctx context.Context, config *GCSConfig) (*GCSStorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("GCS storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid GCS storage configuration", err)
	}

	var client *storage.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageProvider{
		client: client,
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
	}, nil
}

// StoreArtifact uploads an artifact payload, replacing any existing
// object at the key.
func (gcsp *GCSStorageProvider) StoreArtifact(ctx context.Context, key string, data []byte) error {
	object := gcsp.client.Bucket(gcsp.bucket).Object(gcsp.objectName(key))
	writer := object.NewWriter(ctx)
	writer.ContentType = contentTypeForKey(key)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return NewStorageError("failed to write artifact to GCS", err)
	}
	if err := writer.Close(); err != nil {
		return NewStorageError("failed to upload artifact to GCS", err)
	}
	return nil
}

// RetrieveArtifact downloads an artifact payload.
func (gcsp *GCSStorageProvider) RetrieveArtifact(ctx context.Context, key string) ([]byte, error) {
	object := gcsp.client.Bucket(gcsp.bucket).Object(gcsp.objectName(key))

	reader, err := object.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from GCS", key), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewStorageError("failed to read artifact body", err)
	}
	return data, nil
}

// DeleteArtifact removes an artifact.
func (gcsp *GCSStorageProvider) DeleteArtifact(ctx context.Context, key string) error {
	object := gcsp.client.Bucket(gcsp.bucket).Object(gcsp.objectName(key))

	if err := object.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return NewStorageError("failed to delete artifact from GCS", err)
	}
	return nil
}

// ArtifactExists reports whether an object exists at the key.
func (gcsp *GCSStorageProvider) ArtifactExists(ctx context.Context, key string) (bool, error) {
	object := gcsp.client.Bucket(gcsp.bucket).Object(gcsp.objectName(key))

	_, err := object.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, NewStorageError("failed to stat artifact in GCS", err)
	}
	return true, nil
}

// ListArtifacts returns stored keys under a prefix, sorted.
func (gcsp *GCSStorageProvider) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	query := &storage.Query{Prefix: gcsp.objectName(prefix)}
	it := gcsp.client.Bucket(gcsp.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list artifacts in GCS", err)
		}
		if key := gcsp.trimPrefix(attrs.Name); key != "" {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// SaveMetadata uploads the metadata record for a backup id.
func (gcsp *GCSStorageProvider) SaveMetadata(ctx context.Context, meta *BackupMetadata) error {
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
	return gcsp.StoreArtifact(ctx, MetadataKey(meta.BackupID), data)
}

// LoadMetadata downloads the metadata record for a backup id.
func (gcsp *GCSStorageProvider) LoadMetadata(ctx context.Context, backupID string) (*BackupMetadata, error) {
	data, err := gcsp.RetrieveArtifact(ctx, MetadataKey(backupID))
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
func (gcsp *GCSStorageProvider) ListMetadata(ctx context.Context, filter MetadataFilter) ([]*BackupMetadata, error) {
	var metas []*BackupMetadata

	query := &storage.Query{Prefix: gcsp.objectName(DirMetadata + "/")}
	it := gcsp.client.Bucket(gcsp.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list metadata in GCS", err)
		}

		key := gcsp.trimPrefix(attrs.Name)
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := gcsp.RetrieveArtifact(ctx, key)
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

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	if filter.Limit > 0 && len(metas) > filter.Limit {
		metas = metas[:filter.Limit]
	}
	return metas, nil
}

// DeleteMetadata removes the metadata record for a backup id.
func (gcsp *GCSStorageProvider) DeleteMetadata(ctx context.Context, backupID string) error {
	return gcsp.DeleteArtifact(ctx, MetadataKey(backupID))
}

// HealthCheck verifies the bucket is reachable and listable.
func (gcsp *GCSStorageProvider) HealthCheck(ctx context.Context) error {
	bucket := gcsp.client.Bucket(gcsp.bucket)

	if _, err := bucket.Attrs(ctx); err != nil {
		return NewStorageError("GCS health check failed: bucket not accessible", err)
	}

	it := bucket.Objects(ctx, &storage.Query{Prefix: gcsp.prefix})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return NewStorageError("GCS health check failed: cannot list objects", err)
	}
	return nil
}

// StorageInfo describes the provider for reports.
func (gcsp *GCSStorageProvider) StorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(StorageProviderGCS),
		"bucket":   gcsp.bucket,
		"prefix":   gcsp.prefix,
	}
}

// Close releases the underlying GCS client.
func (gcsp *GCSStorageProvider) Close() error {
	return gcsp.client.Close()
}

func (gcsp *GCSStorageProvider) objectName(key string) string {
	if gcsp.prefix == "" {
		return key
	}
	return gcsp.prefix + "/" + key
}

func (gcsp *GCSStorageProvider) trimPrefix(objectName string) string {
	if gcsp.prefix == "" {
		return objectName
	}
	if !strings.HasPrefix(objectName, gcsp.prefix+"/") {
		return ""
	}
	return strings.TrimPrefix(objectName, gcsp.prefix+"/")
}

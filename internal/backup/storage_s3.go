package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3StorageProvider stores artifacts and metadata in an Amazon S3
// bucket under a configurable key prefix.
type S3StorageProvider struct {
	client *s3.S3
	bucket string
	region string
	prefix string
}

// NewS3StorageProvider creates an S3 provider. Static credentials from
// the configuration take precedence; without them the SDK credential
// chain (environment, shared config, instance role) is used.
func NewS3StorageProvider(config *S3Config) (*S3StorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("S3 storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3StorageProvider{
		client: s3.New(sess),
		bucket: config.Bucket,
		region: config.Region,
		prefix: strings.Trim(config.Prefix, "/"),
	}, nil
}

// StoreArtifact uploads an artifact payload, replacing any existing
// object at the key.
func (s3p *S3StorageProvider) StoreArtifact(ctx context.Context, key string, data []byte) error {
	_, err := s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(s3p.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeForKey(key)),
	})
	if err != nil {
		return NewStorageError("failed to upload artifact to S3", err)
	}
	return nil
}

// RetrieveArtifact downloads an artifact payload.
func (s3p *S3StorageProvider) RetrieveArtifact(ctx context.Context, key string) ([]byte, error) {
	result, err := s3p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(s3p.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from S3", key), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, NewStorageError("failed to read artifact body", err)
	}
	return data, nil
}

// DeleteArtifact removes an artifact. S3 deletes are silent for
// missing keys, so existence is checked first to honor the not-found
// contract.
func (s3p *S3StorageProvider) DeleteArtifact(ctx context.Context, key string) error {
	exists, err := s3p.ArtifactExists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return NewNotFoundError(fmt.Sprintf("artifact %s not found", key), nil)
	}

	_, err = s3p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(s3p.objectKey(key)),
	})
	if err != nil {
		return NewStorageError("failed to delete artifact from S3", err)
	}
	return nil
}

// ArtifactExists reports whether an object exists at the key.
func (s3p *S3StorageProvider) ArtifactExists(ctx context.Context, key string) (bool, error) {
	_, err := s3p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(s3p.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, NewStorageError("failed to stat artifact in S3", err)
	}
	return true, nil
}

// ListArtifacts returns stored keys under a prefix, sorted.
func (s3p *S3StorageProvider) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(s3p.objectKey(prefix)),
	}
	err := s3p.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				if key := s3p.trimPrefix(aws.StringValue(obj.Key)); key != "" {
					keys = append(keys, key)
				}
			}
			return true
		})
	if err != nil {
		return nil, NewStorageError("failed to list artifacts in S3", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// SaveMetadata uploads the metadata record for a backup id.
func (s3p *S3StorageProvider) SaveMetadata(ctx context.Context, meta *BackupMetadata) error {
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
	return s3p.StoreArtifact(ctx, MetadataKey(meta.BackupID), data)
}

// LoadMetadata downloads the metadata record for a backup id.
func (s3p *S3StorageProvider) LoadMetadata(ctx context.Context, backupID string) (*BackupMetadata, error) {
	data, err := s3p.RetrieveArtifact(ctx, MetadataKey(backupID))
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
func (s3p *S3StorageProvider) ListMetadata(ctx context.Context, filter MetadataFilter) ([]*BackupMetadata, error) {
	var metas []*BackupMetadata

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(s3p.objectKey(DirMetadata + "/")),
	}
	err := s3p.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := s3p.trimPrefix(aws.StringValue(obj.Key))
				if !strings.HasSuffix(key, ".json") {
					continue
				}
				data, err := s3p.RetrieveArtifact(ctx, key)
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
			return true
		})
	if err != nil {
		return nil, NewStorageError("failed to list metadata in S3", err)
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
func (s3p *S3StorageProvider) DeleteMetadata(ctx context.Context, backupID string) error {
	return s3p.DeleteArtifact(ctx, MetadataKey(backupID))
}

// HealthCheck verifies the bucket is reachable and listable.
func (s3p *S3StorageProvider) HealthCheck(ctx context.Context) error {
	_, err := s3p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3p.bucket),
	})
	if err != nil {
		return NewStorageError("S3 health check failed: bucket not accessible", err)
	}

	_, err = s3p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s3p.bucket),
		Prefix:  aws.String(s3p.prefix),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return NewStorageError("S3 health check failed: cannot list objects", err)
	}
	return nil
}

// StorageInfo describes the provider for reports.
func (s3p *S3StorageProvider) StorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(StorageProviderS3),
		"bucket":   s3p.bucket,
		"region":   s3p.region,
		"prefix":   s3p.prefix,
	}
}

func (s3p *S3StorageProvider) objectKey(key string) string {
	if s3p.prefix == "" {
		return key
	}
	return s3p.prefix + "/" + key
}

func (s3p *S3StorageProvider) trimPrefix(objectKey string) string {
	if s3p.prefix == "" {
		return objectKey
	}
	if !strings.HasPrefix(objectKey, s3p.prefix+"/") {
		return ""
	}
	return strings.TrimPrefix(objectKey, s3p.prefix+"/")
}

func contentTypeForKey(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

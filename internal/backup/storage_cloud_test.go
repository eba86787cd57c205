package backup

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backupErrorType(t *testing.T, err error) BackupErrorType {
	t.Helper()
	var berr *BackupError
	require.ErrorAs(t, err, &berr)
	return berr.Type
}

func TestNewS3StorageProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *S3Config
	}{
		{name: "nil config", config: nil},
		{
			name:   "missing region",
			config: &S3Config{Bucket: "care-records-backups", AccessKey: "key", SecretKey: "secret"},
		},
		{
			name:   "missing bucket",
			config: &S3Config{Region: "eu-west-2", AccessKey: "key", SecretKey: "secret"},
		},
		{
			name:   "missing access key",
			config: &S3Config{Region: "eu-west-2", Bucket: "care-records-backups", SecretKey: "secret"},
		},
		{
			name:   "missing secret key",
			config: &S3Config{Region: "eu-west-2", Bucket: "care-records-backups", AccessKey: "key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewS3StorageProvider(tt.config)
			require.Error(t, err)
			assert.Nil(t, provider)
			assert.Equal(t, BackupErrorTypeConfiguration, backupErrorType(t, err))
		})
	}
}

func TestNewS3StorageProvider(t *testing.T) {
	provider, err := NewS3StorageProvider(&S3Config{
		Region:    "eu-west-2",
		Bucket:    "care-records-backups",
		AccessKey: "test-access-key",
		SecretKey: "test-secret-key",
		Prefix:    "/nightly/",
	})
	require.NoError(t, err)
	require.NotNil(t, provider)

	// Surrounding slashes are dropped so keys never double up separators.
	assert.Equal(t, "nightly", provider.prefix)

	info := provider.StorageInfo()
	assert.Equal(t, "s3", info["provider"])
	assert.Equal(t, "care-records-backups", info["bucket"])
	assert.Equal(t, "eu-west-2", info["region"])
	assert.Equal(t, "nightly", info["prefix"])
}

func TestS3StorageProvider_ObjectKeys(t *testing.T) {
	provider := &S3StorageProvider{bucket: "care-records-backups", prefix: "nightly"}

	metaKey := MetadataKey("backup-1")
	assert.Equal(t, "nightly/"+metaKey, provider.objectKey(metaKey))
	assert.Equal(t, metaKey, provider.trimPrefix(provider.objectKey(metaKey)))

	// Objects outside the prefix belong to someone else.
	assert.Equal(t, "", provider.trimPrefix("weekly/metadata/backup-1.json"))

	bare := &S3StorageProvider{bucket: "care-records-backups"}
	assert.Equal(t, metaKey, bare.objectKey(metaKey))
	assert.Equal(t, metaKey, bare.trimPrefix(metaKey))
}

func TestNewAzureStorageProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *AzureConfig
	}{
		{name: "nil config", config: nil},
		{
			name:   "missing account name",
			config: &AzureConfig{AccountKey: "key", ContainerName: "care-backups"},
		},
		{
			name:   "missing account key",
			config: &AzureConfig{AccountName: "careaccount", ContainerName: "care-backups"},
		},
		{
			name:   "missing container",
			config: &AzureConfig{AccountName: "careaccount", AccountKey: "key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewAzureStorageProvider(tt.config)
			require.Error(t, err)
			assert.Nil(t, provider)
			assert.Equal(t, BackupErrorTypeConfiguration, backupErrorType(t, err))
		})
	}
}

func TestNewAzureStorageProvider_BadAccountKey(t *testing.T) {
	// The shared key credential decodes the account key, so a key that is
	// not base64 fails past validation.
	provider, err := NewAzureStorageProvider(&AzureConfig{
		AccountName:   "careaccount",
		AccountKey:    "not base64!!",
		ContainerName: "care-backups",
	})
	require.Error(t, err)
	assert.Nil(t, provider)
	assert.Equal(t, BackupErrorTypeStorage, backupErrorType(t, err))
}

func TestNewAzureStorageProvider(t *testing.T) {
	provider, err := NewAzureStorageProvider(&AzureConfig{
		AccountName:   "careaccount",
		AccountKey:    base64.StdEncoding.EncodeToString([]byte("azure-test-account-key")),
		ContainerName: "care-backups",
		Prefix:        "/nightly/",
	})
	require.NoError(t, err)
	require.NotNil(t, provider)

	info := provider.StorageInfo()
	assert.Equal(t, "azure", info["provider"])
	assert.Equal(t, "care-backups", info["container"])
	assert.Equal(t, "nightly", info["prefix"])
}

func TestAzureStorageProvider_BlobNames(t *testing.T) {
	provider := &AzureStorageProvider{containerName: "care-backups", prefix: "nightly"}

	artifactKey := ArtifactKey(BackupTypeFull, "backup-2")
	assert.Equal(t, "nightly/"+artifactKey, provider.blobName(artifactKey))
	assert.Equal(t, artifactKey, provider.trimPrefix(provider.blobName(artifactKey)))
	assert.Equal(t, "", provider.trimPrefix("weekly/"+artifactKey))

	bare := &AzureStorageProvider{containerName: "care-backups"}
	assert.Equal(t, artifactKey, bare.blobName(artifactKey))
	assert.Equal(t, artifactKey, bare.trimPrefix(artifactKey))
}

func TestNewGCSStorageProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *GCSConfig
	}{
		{name: "nil config", config: nil},
		{name: "missing bucket", config: &GCSConfig{CredentialsPath: "/tmp/creds.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewGCSStorageProvider(context.Background(), tt.config)
			require.Error(t, err)
			assert.Nil(t, provider)
			assert.Equal(t, BackupErrorTypeConfiguration, backupErrorType(t, err))
		})
	}
}

func TestNewGCSStorageProvider_MissingCredentialsFile(t *testing.T) {
	// The client reads the credentials file during construction.
	provider, err := NewGCSStorageProvider(context.Background(), &GCSConfig{
		Bucket:          "care-records-backups",
		CredentialsPath: filepath.Join(t.TempDir(), "missing-credentials.json"),
	})
	require.Error(t, err)
	assert.Nil(t, provider)
	assert.Equal(t, BackupErrorTypeStorage, backupErrorType(t, err))
}

func TestGCSStorageProvider_ObjectNames(t *testing.T) {
	provider := &GCSStorageProvider{bucket: "care-records-backups", prefix: "nightly"}

	tempKey := TempArtifactKey("backup-3")
	assert.Equal(t, "nightly/"+tempKey, provider.objectName(tempKey))
	assert.Equal(t, tempKey, provider.trimPrefix(provider.objectName(tempKey)))
	assert.Equal(t, "", provider.trimPrefix("weekly/"+tempKey))

	bare := &GCSStorageProvider{bucket: "care-records-backups"}
	assert.Equal(t, tempKey, bare.objectName(tempKey))
	assert.Equal(t, tempKey, bare.trimPrefix(tempKey))
}

func TestGCSStorageProvider_StorageInfo(t *testing.T) {
	provider := &GCSStorageProvider{bucket: "care-records-backups", prefix: "nightly"}

	info := provider.StorageInfo()
	assert.Equal(t, "gcs", info["provider"])
	assert.Equal(t, "care-records-backups", info["bucket"])
	assert.Equal(t, "nightly", info["prefix"])
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "application/json", contentTypeForKey("metadata/backup-1.json"))
	assert.Equal(t, "application/octet-stream", contentTypeForKey("full/backup-1.car"))
	assert.Equal(t, "application/octet-stream", contentTypeForKey("temp/backup-1"))
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "no such key", err: awserr.New(s3.ErrCodeNoSuchKey, "missing", nil), want: true},
		{name: "head not found", err: awserr.New("NotFound", "missing", nil), want: true},
		{name: "access denied", err: awserr.New("AccessDenied", "denied", nil), want: false},
		{name: "plain error", err: errors.New("connection reset"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isS3NotFound(tt.err))
		})
	}
}

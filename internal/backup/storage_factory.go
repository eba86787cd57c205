package backup

import (
	"context"
	"fmt"
)

// NewStorageProvider creates the artifact store selected by the
// configuration.
func NewStorageProvider(ctx context.Context, config StorageConfig) (StorageProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStorageProvider(config.Local)
	case StorageProviderS3:
		return NewS3StorageProvider(config.S3)
	case StorageProviderGCS:
		return NewGCSStorageProvider(ctx, config.GCS)
	case StorageProviderAzure:
		return NewAzureStorageProvider(config.Azure)
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// SupportedStorageProviders lists the provider types the factory can
// build.
func SupportedStorageProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderGCS,
		StorageProviderAzure,
	}
}

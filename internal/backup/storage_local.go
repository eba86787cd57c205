package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorageProvider stores artifacts and metadata on the local
// filesystem under a base directory partitioned into full/,
// incremental/, metadata/, and temp/.
type LocalStorageProvider struct {
	basePath string
}

// NewLocalStorageProvider creates the provider and its directory
// layout.
func NewLocalStorageProvider(config *LocalConfig) (*LocalStorageProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("local storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid local storage configuration", err)
	}

	provider := &LocalStorageProvider{basePath: config.BasePath}

	for _, dir := range []string{"", DirFull, DirIncremental, DirMetadata, DirTemp} {
		if err := os.MkdirAll(filepath.Join(config.BasePath, dir), 0755); err != nil {
			return nil, NewStorageError("failed to create storage directory", err)
		}
	}

	return provider, nil
}

// StoreArtifact writes an artifact, replacing any existing payload at
// the key. The write goes through a temp file and rename so readers
// never observe a partial artifact.
func (lsp *LocalStorageProvider) StoreArtifact(ctx context.Context, key string, data []byte) error {
	path, err := lsp.keyPath(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewStorageError("artifact store cancelled", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return NewStorageError("failed to create artifact directory", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return NewStorageError("failed to write artifact", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return NewStorageError("failed to finalize artifact", err)
	}
	return nil
}

// RetrieveArtifact reads an artifact payload.
func (lsp *LocalStorageProvider) RetrieveArtifact(ctx context.Context, key string) ([]byte, error) {
	path, err := lsp.keyPath(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("artifact retrieve cancelled", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
	}
	if err != nil {
		return nil, NewStorageError("failed to read artifact", err)
	}
	return data, nil
}

// DeleteArtifact removes an artifact. Missing artifacts are an error
// so retention can distinguish already-gone from deleted.
func (lsp *LocalStorageProvider) DeleteArtifact(ctx context.Context, key string) error {
	path, err := lsp.keyPath(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
	}
	if err := os.Remove(path); err != nil {
		return NewStorageError("failed to delete artifact", err)
	}
	return nil
}

// ArtifactExists reports whether an artifact is present.
func (lsp *LocalStorageProvider) ArtifactExists(ctx context.Context, key string) (bool, error) {
	path, err := lsp.keyPath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, NewStorageError("failed to stat artifact", err)
	}
	return true, nil
}

// ListArtifacts returns the stored keys under a prefix, in slash form.
func (lsp *LocalStorageProvider) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(lsp.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(lsp.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, NewStorageError("failed to list artifacts", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// SaveMetadata persists one metadata record per backup id. Pipeline
// stages call this repeatedly, so it replaces atomically like
// StoreArtifact.
func (lsp *LocalStorageProvider) SaveMetadata(ctx context.Context, meta *BackupMetadata) error {
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
	return lsp.StoreArtifact(ctx, MetadataKey(meta.BackupID), data)
}

// LoadMetadata reads the metadata record for a backup id.
func (lsp *LocalStorageProvider) LoadMetadata(ctx context.Context, backupID string) (*BackupMetadata, error) {
	data, err := lsp.RetrieveArtifact(ctx, MetadataKey(backupID))
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
func (lsp *LocalStorageProvider) ListMetadata(ctx context.Context, filter MetadataFilter) ([]*BackupMetadata, error) {
	dir := filepath.Join(lsp.basePath, DirMetadata)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewStorageError("failed to read metadata directory", err)
	}

	var metas []*BackupMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		meta := &BackupMetadata{}
		if err := meta.FromJSON(data); err != nil {
			// Unreadable records are skipped rather than failing the
			// whole listing
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
func (lsp *LocalStorageProvider) DeleteMetadata(ctx context.Context, backupID string) error {
	return lsp.DeleteArtifact(ctx, MetadataKey(backupID))
}

// HealthCheck probes the base directory with a write-read-delete
// round-trip.
func (lsp *LocalStorageProvider) HealthCheck(ctx context.Context) error {
	probe := filepath.Join(lsp.basePath, DirTemp, ".health")

	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return NewStorageError("health check failed: cannot write to storage directory", err)
	}
	if _, err := os.ReadFile(probe); err != nil {
		return NewStorageError("health check failed: cannot read from storage directory", err)
	}
	os.Remove(probe)
	return nil
}

// StorageInfo describes the provider for reports.
func (lsp *LocalStorageProvider) StorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":  string(StorageProviderLocal),
		"base_path": lsp.basePath,
	}
}

// keyPath maps a slash-form key to a path under the base directory,
// rejecting traversal attempts.
func (lsp *LocalStorageProvider) keyPath(key string) (string, error) {
	if key == "" {
		return "", NewValidationError("storage key cannot be empty", nil)
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", NewValidationError(fmt.Sprintf("unsafe storage key: %s", key), nil)
	}
	return filepath.Join(lsp.basePath, filepath.FromSlash(key)), nil
}

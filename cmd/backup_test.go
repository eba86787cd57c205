package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"care-migrate/internal/backup"
)

// exportFixture builds a local storage provider rooted in a temp
// directory and a config file pointing at it.
func exportFixture(t *testing.T) (backup.StorageProvider, string, string) {
	t.Helper()
	dir := t.TempDir()
	storageDir := filepath.Join(dir, "backups")

	configPath := filepath.Join(dir, "config.yaml")
	configYAML := "migration:\n" +
		"  pipeline_id: care-records\n" +
		"backup:\n" +
		"  schema: legacy_care\n" +
		"  storage:\n" +
		"    provider: local\n" +
		"    local:\n" +
		"      base_path: " + storageDir + "\n"
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	storage, err := backup.NewStorageProvider(context.Background(), backup.StorageConfig{
		Provider: backup.StorageProviderLocal,
		Local:    &backup.LocalConfig{BasePath: storageDir},
	})
	if err != nil {
		t.Fatalf("storage provider: %v", err)
	}
	return storage, configPath, dir
}

// storeExportBackup stores an artifact with a completed metadata record.
// mutate adjusts the record before it is saved.
func storeExportBackup(t *testing.T, storage backup.StorageProvider, backupID string, payload []byte, mutate func(*backup.BackupMetadata)) {
	t.Helper()
	ctx := context.Background()
	if err := storage.StoreArtifact(ctx, backup.ArtifactKey(backup.BackupTypeFull, backupID), payload); err != nil {
		t.Fatalf("store artifact: %v", err)
	}

	md5sum, sha256sum := backup.Checksums(payload)
	completed := time.Now().Add(-time.Hour)
	meta := &backup.BackupMetadata{
		BackupID:           backupID,
		PipelineID:         "care-records",
		BackupType:         backup.BackupTypeFull,
		CreatedAt:          time.Now().Add(-2 * time.Hour),
		CompletedAt:        &completed,
		Status:             backup.BackupStatusCompleted,
		BackupSize:         int64(len(payload)),
		RecordCount:        42,
		TableCount:         3,
		ChecksumMD5:        md5sum,
		ChecksumSHA256:     sha256sum,
		VerificationStatus: backup.VerificationVerified,
	}
	if mutate != nil {
		mutate(meta)
	}
	if err := storage.SaveMetadata(ctx, meta); err != nil {
		t.Fatalf("save metadata: %v", err)
	}
}

func TestBackupExport(t *testing.T) {
	storage, configPath, dir := exportFixture(t)
	payload := []byte("artifact bytes standing in for a schema dump")
	storeExportBackup(t, storage, "backup-20250812-090000-a1b2c3d4", payload, nil)

	outputPath := filepath.Join(dir, "go-live.car")
	t.Cleanup(func() {
		cfgFile = ""
		backupExportWithMetadata = false
		rootCmd.SetArgs(nil)
	})

	captureStdout(t, func() {
		rootCmd.SetArgs([]string{"backup", "export", "backup-20250812-090000-a1b2c3d4", outputPath,
			"--config", configPath, "--with-metadata"})
		if err := rootCmd.Execute(); err != nil {
			t.Errorf("backup export: %v", err)
		}
	})

	exported, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read exported artifact: %v", err)
	}
	if !bytes.Equal(exported, payload) {
		t.Error("exported artifact should match the stored payload byte for byte")
	}

	record, err := os.ReadFile(filepath.Join(dir, "go-live.json"))
	if err != nil {
		t.Fatalf("read exported metadata record: %v", err)
	}
	var meta backup.BackupMetadata
	if err := json.Unmarshal(record, &meta); err != nil {
		t.Fatalf("exported metadata record is not JSON: %v", err)
	}
	if meta.BackupID != "backup-20250812-090000-a1b2c3d4" {
		t.Errorf("metadata backup id = %q", meta.BackupID)
	}
	if meta.ChecksumSHA256 == "" {
		t.Error("metadata record should keep the artifact checksum")
	}
}

func TestBackupExportRefusesChecksumMismatch(t *testing.T) {
	storage, configPath, dir := exportFixture(t)
	payload := []byte("artifact bytes standing in for a schema dump")
	_, wrongSum := backup.Checksums([]byte("different bytes entirely"))
	storeExportBackup(t, storage, "backup-20250812-100000-b2c3d4e5", payload, func(meta *backup.BackupMetadata) {
		meta.ChecksumSHA256 = wrongSum
	})

	outputPath := filepath.Join(dir, "corrupt.car")
	t.Cleanup(func() {
		cfgFile = ""
		rootCmd.SetArgs(nil)
	})

	captureStdout(t, func() {
		rootCmd.SetArgs([]string{"backup", "export", "backup-20250812-100000-b2c3d4e5", outputPath,
			"--config", configPath})
		if err := rootCmd.Execute(); err == nil {
			t.Error("export should fail when the artifact does not match its checksum")
		}
	})

	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Error("no output file should be written on a checksum mismatch")
	}
}

func TestBackupExportRequiresCompleted(t *testing.T) {
	storage, configPath, dir := exportFixture(t)
	storeExportBackup(t, storage, "backup-20250812-110000-c3d4e5f6", []byte("partial dump"), func(meta *backup.BackupMetadata) {
		meta.Status = backup.BackupStatusCreating
		meta.VerificationStatus = backup.VerificationPending
	})

	t.Cleanup(func() {
		cfgFile = ""
		rootCmd.SetArgs(nil)
	})

	captureStdout(t, func() {
		rootCmd.SetArgs([]string{"backup", "export", "backup-20250812-110000-c3d4e5f6",
			filepath.Join(dir, "partial.car"), "--config", configPath})
		if err := rootCmd.Execute(); err == nil {
			t.Error("export should refuse a backup that is still being created")
		}
	})
}

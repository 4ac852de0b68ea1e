// Package reliability keeps the ledger durable: cloud backups of the
// database file and the recurring maintenance jobs around them.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
)

const archivePrefix = "ledger-backup-"
const archiveTimeFormat = "2006-01-02-150405"

// BackupService snapshots the ledger database, archives it with a checksum
// manifest, and uploads the archive to object storage.
type BackupService struct {
	db      *database.DB
	storage *StorageClient
	dataDir string
	log     zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, storage *StorageClient, dataDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:      db,
		storage: storage,
		dataDir: dataDir,
		log:     log.With().Str("service", "backup").Logger(),
	}
}

// Manifest describes one backup archive.
type Manifest struct {
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo describes one archive already in the bucket.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// CreateAndUpload snapshots the ledger and ships the archive. The snapshot
// uses VACUUM INTO after a full WAL checkpoint, so the copy is consistent
// without blocking writers.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	snapshotPath := filepath.Join(stagingDir, "ledger.db")
	if err := s.snapshot(snapshotPath); err != nil {
		return err
	}

	info, err := os.Stat(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}

	checksum, err := checksumFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	manifest := Manifest{
		Timestamp: time.Now().UTC(),
		Database:  "ledger",
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	archiveName := archivePrefix + time.Now().Format(archiveTimeFormat) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, snapshotPath, manifestPath); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.storage.Upload(ctx, archiveName, archiveFile); err != nil {
		return err
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("snapshot_bytes", info.Size()).
		Dur("duration", time.Since(start)).
		Msg("Ledger backup completed")

	return nil
}

// snapshot writes a consistent copy of the ledger to destPath.
func (s *BackupService) snapshot(destPath string) error {
	if err := s.db.WALCheckpoint("FULL"); err != nil {
		return err
	}

	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to snapshot ledger: %w", err)
	}

	return nil
}

// ListBackups lists the archives in the bucket, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.storage.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		key := *obj.Key
		if !strings.HasSuffix(key, ".tar.gz") {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")
		ts, err := time.Parse(archiveTimeFormat, stamp)
		if err != nil {
			s.log.Warn().Str("key", key).Msg("Skipping archive with unparseable timestamp")
			continue
		}

		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}

		backups = append(backups, BackupInfo{Key: key, Timestamp: ts, SizeBytes: size})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// RotateOldBackups deletes archives older than retentionDays, always keeping
// the newest three regardless of age.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	const minKeep = 3

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minKeep || retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("Rotated old backups")
	}

	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeManifest(path string, m Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func createArchive(archivePath string, files ...string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addFile(tw, path); err != nil {
			return fmt.Errorf("failed to add %s: %w", filepath.Base(path), err)
		}
	}

	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}

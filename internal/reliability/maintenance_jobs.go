package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/database"
	"github.com/Cocopuffff/TraderJoe/internal/modules/sync"
)

// MaintenanceJob performs the daily ledger maintenance: integrity check,
// WAL checkpoint and archive pruning.
type MaintenanceJob struct {
	db      *database.DB
	archive *sync.ArchiveRepository
	// retention for raw change-set archives
	archiveRetention time.Duration
	log              zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db *database.DB, archive *sync.ArchiveRepository, archiveRetention time.Duration, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:               db,
		archive:          archive,
		archiveRetention: archiveRetention,
		log:              log.With().Str("job", "maintenance").Logger(),
	}
}

// Name implements scheduler.Job
func (j *MaintenanceJob) Name() string { return "ledger_maintenance" }

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ledger integrity check failed: %w", err)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		// Not critical: the autocheckpoint still bounds WAL growth.
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if j.archiveRetention > 0 {
		if _, err := j.archive.Prune(time.Now().Add(-j.archiveRetention)); err != nil {
			return err
		}
	}

	return nil
}

// BackupJob ships a ledger backup to object storage and rotates old ones.
type BackupJob struct {
	backup        *BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(backup *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:        backup,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name implements scheduler.Job
func (j *BackupJob) Name() string { return "ledger_backup" }

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.backup.CreateAndUpload(ctx); err != nil {
		return err
	}

	if err := j.backup.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	return nil
}

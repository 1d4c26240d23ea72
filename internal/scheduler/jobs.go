package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/feebrief"
	"github.com/CodeByMAB/Falconer/internal/funding"
	"github.com/CodeByMAB/Falconer/internal/ledger"
	"github.com/CodeByMAB/Falconer/internal/reliability"
)

// ExpireProposalsJob expires pending proposals past their maximum age.
type ExpireProposalsJob struct {
	Manager     *funding.Manager
	MaxAgeHours int
	Log         zerolog.Logger
}

func (j *ExpireProposalsJob) Name() string { return "expire_proposals" }

func (j *ExpireProposalsJob) Run() error {
	if j.MaxAgeHours <= 0 {
		return nil
	}
	expired, err := j.Manager.ExpireStale(j.MaxAgeHours)
	if err != nil {
		return fmt.Errorf("failed to expire proposals: %w", err)
	}
	if expired > 0 {
		j.Log.Info().Int("expired", expired).Msg("expired stale proposals")
	}
	return nil
}

// LedgerCleanupJob prunes daily spend records older than the retention
// window. Proposals and logs are kept; only dated spend counters age out.
type LedgerCleanupJob struct {
	Store         *ledger.Store
	RetentionDays int
	Log           zerolog.Logger
}

func (j *LedgerCleanupJob) Name() string { return "ledger_cleanup" }

func (j *LedgerCleanupJob) Run() error {
	if j.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -j.RetentionDays).Format("2006-01-02")
	removed, err := j.Store.CleanupBefore(ledger.SpendKeyPrefix, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up spend records: %w", err)
	}
	if removed > 0 {
		j.Log.Info().Int("removed", removed).Str("cutoff", cutoff).Msg("pruned old spend records")
	}
	return nil
}

// FeeBriefJob regenerates the fee intelligence brief.
type FeeBriefJob struct {
	Service *feebrief.Service
	Timeout time.Duration
}

func (j *FeeBriefJob) Name() string { return "fee_brief" }

func (j *FeeBriefJob) Run() error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := j.Service.Generate(ctx); err != nil {
		return fmt.Errorf("failed to generate fee brief: %w", err)
	}
	return nil
}

// LedgerBackupJob ships a ledger snapshot off-site and rotates old
// backups.
type LedgerBackupJob struct {
	Service       *reliability.BackupService
	RetentionDays int
	Timeout       time.Duration
}

func (j *LedgerBackupJob) Name() string { return "ledger_backup" }

func (j *LedgerBackupJob) Run() error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := j.Service.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.Service.RotateOldBackups(ctx, j.RetentionDays)
}

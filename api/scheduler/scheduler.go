package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/databases"
	"github.com/tokenfight/tokenfight-api/referrals"
)

const reconcileLockName = "invite_count_reconcile"

// Scheduler runs the periodic invite-count reconciliation. The referral
// insert and counter increment are separate writes, so counters can drift
// under failures; this job trues them up against the referral documents.
type Scheduler struct {
	cron       *cron.Cron
	Service    *referrals.Service
	LockDB     databases.JobLockDatabase
	instanceID string
}

// New creates a new scheduler instance
func New(service *referrals.Service, lockDB databases.JobLockDatabase) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		Service:    service,
		LockDB:     lockDB,
		instanceID: instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Reconcile invite counters every 15 minutes
	_, err := s.cron.AddFunc("*/15 * * * *", s.reconcileInviteCounts)
	if err != nil {
		zap.S().Errorw("failed to register reconcile job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("Referral scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Referral scheduler stopped")
}

// reconcileInviteCounts recomputes invite_count from the referrals collection
func (s *Scheduler) reconcileInviteCounts() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Try to acquire distributed lock (10 minute TTL)
	acquired, err := s.LockDB.TryAcquireLock(ctx, reconcileLockName, s.instanceID, 10*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for reconcile job", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("Reconcile job already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, reconcileLockName, s.instanceID)

	zap.S().Infow("Running invite count reconciliation", "instance", s.instanceID)

	updated, err := s.Service.ReconcileInviteCounts(ctx)
	if err != nil {
		zap.S().Errorw("invite count reconciliation failed", "error", err)
		return
	}

	zap.S().Infow("Invite count reconciliation complete", "countersUpdated", updated)
}

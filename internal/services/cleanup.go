// Package services holds background maintenance jobs.
package services

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/store"
)

// staleRunMessage explains why the sweep failed a run. Runs only go stale
// when the process (or the tab driving them) died without reporting back.
const staleRunMessage = "run did not report completion within the staleness window; " +
	"the driving process likely crashed or was killed"

// CleanupService periodically fails RunHistory rows stuck in "running".
// A run older than the staleness window cannot still be making progress:
// every live replay updates its row after each event.
type CleanupService struct {
	cron *cron.Cron
	runs store.RunStore
	now  func() time.Time
}

func NewCleanupService(runs store.RunStore) *CleanupService {
	return &CleanupService{
		cron: cron.New(cron.WithSeconds()),
		runs: runs,
		now:  time.Now,
	}
}

// Start sweeps once immediately, then every 30 seconds.
func (s *CleanupService) Start() error {
	if _, err := s.cron.AddFunc("*/30 * * * * *", s.Sweep); err != nil {
		return fmt.Errorf("schedule stale-run sweep: %w", err)
	}
	s.cron.Start()
	s.Sweep()
	log.Println("cleanup: stale-run sweep started")
	return nil
}

func (s *CleanupService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep marks every run that started before the staleness window as failed.
func (s *CleanupService) Sweep() {
	cutoff := s.now().Add(-models.StalenessWindow)
	swept, err := s.runs.FailStale(cutoff, staleRunMessage)
	if err != nil {
		log.Printf("cleanup: stale-run sweep failed: %v", err)
		return
	}
	if swept > 0 {
		log.Printf("cleanup: marked %d stale runs as failed", swept)
	}
}

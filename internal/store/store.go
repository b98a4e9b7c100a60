// Package store is the persistence layer. Consumers depend on the small
// interfaces here; the gorm-backed implementations are the only code in the
// repository that touches the database handle directly.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"webpilot/backend/internal/models"
)

// ErrNotFound wraps gorm's record-not-found for callers that should not
// import gorm.
var ErrNotFound = errors.New("store: record not found")

// AutomationStore persists saved automations.
type AutomationStore interface {
	Create(a *models.Automation) error
	Get(id uint) (*models.Automation, error)
	List(page, pageSize int) ([]models.Automation, int64, error)
	Update(a *models.Automation) error
	Delete(id uint) error
	// ListScheduled returns enabled automations carrying a cron expression,
	// used to arm alarms at startup.
	ListScheduled() ([]models.Automation, error)
}

// RunStore persists replay attempts.
type RunStore interface {
	Create(run *models.RunHistory) error
	GetByRunID(runID string) (*models.RunHistory, error)
	List(automationID uint, page, pageSize int) ([]models.RunHistory, int64, error)
	UpdateProgress(runID string, eventsCompleted int) error
	Finish(runID, status string, eventsCompleted int, errorMessage string) error
	// FailStale marks runs still "running" that started before cutoff as
	// failed with the given message, returning how many were swept.
	FailStale(cutoff time.Time, message string) (int64, error)
	Delete(runID string) error
}

// SnapshotStore persists the single live recording-session snapshot.
type SnapshotStore interface {
	Save(session *models.RecordingSession) error
	Load(sessionID string) (*models.RecordingSession, error)
	// LoadLive returns the most recent snapshot, if any, so a restarted
	// process can pick the session back up.
	LoadLive() (*models.RecordingSession, error)
	Clear(sessionID string) error
}

// Stores bundles the gorm-backed implementations over one handle.
type Stores struct {
	Automations AutomationStore
	Runs        RunStore
	Snapshots   SnapshotStore
}

func New(db *gorm.DB) *Stores {
	return &Stores{
		Automations: &automationStore{db: db},
		Runs:        &runStore{db: db},
		Snapshots:   &snapshotStore{db: db},
	}
}

type automationStore struct {
	db *gorm.DB
}

func (s *automationStore) Create(a *models.Automation) error {
	if err := s.db.Create(a).Error; err != nil {
		return fmt.Errorf("create automation: %w", err)
	}
	return nil
}

func (s *automationStore) Get(id uint) (*models.Automation, error) {
	var a models.Automation
	if err := s.db.First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get automation %d: %w", id, err)
	}
	return &a, nil
}

func (s *automationStore) List(page, pageSize int) ([]models.Automation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	if err := s.db.Model(&models.Automation{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count automations: %w", err)
	}

	var automations []models.Automation
	err := s.db.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&automations).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list automations: %w", err)
	}
	return automations, total, nil
}

func (s *automationStore) Update(a *models.Automation) error {
	if err := s.db.Save(a).Error; err != nil {
		return fmt.Errorf("update automation %d: %w", a.ID, err)
	}
	return nil
}

func (s *automationStore) Delete(id uint) error {
	if err := s.db.Delete(&models.Automation{}, id).Error; err != nil {
		return fmt.Errorf("delete automation %d: %w", id, err)
	}
	return nil
}

func (s *automationStore) ListScheduled() ([]models.Automation, error) {
	var automations []models.Automation
	err := s.db.Where("is_enabled = ? AND cron_expression <> ''", true).
		Find(&automations).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled automations: %w", err)
	}
	return automations, nil
}

type runStore struct {
	db *gorm.DB
}

func (s *runStore) Create(run *models.RunHistory) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("create run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *runStore) GetByRunID(runID string) (*models.RunHistory, error) {
	var run models.RunHistory
	if err := s.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

func (s *runStore) List(automationID uint, page, pageSize int) ([]models.RunHistory, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.Model(&models.RunHistory{})
	if automationID != 0 {
		query = query.Where("automation_id = ?", automationID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	var runs []models.RunHistory
	err := query.Order("start_time DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	return runs, total, nil
}

func (s *runStore) UpdateProgress(runID string, eventsCompleted int) error {
	err := s.db.Model(&models.RunHistory{}).
		Where("run_id = ?", runID).
		Update("events_completed", eventsCompleted).Error
	if err != nil {
		return fmt.Errorf("update run %s progress: %w", runID, err)
	}
	return nil
}

func (s *runStore) Finish(runID, status string, eventsCompleted int, errorMessage string) error {
	now := time.Now()
	err := s.db.Model(&models.RunHistory{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":           status,
			"events_completed": eventsCompleted,
			"error_message":    errorMessage,
			"end_time":         &now,
		}).Error
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

func (s *runStore) FailStale(cutoff time.Time, message string) (int64, error) {
	now := time.Now()
	result := s.db.Model(&models.RunHistory{}).
		Where("status = ? AND start_time < ?", models.RunStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":        models.RunStatusFailed,
			"error_message": message,
			"end_time":      &now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("fail stale runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *runStore) Delete(runID string) error {
	if err := s.db.Where("run_id = ?", runID).Delete(&models.RunHistory{}).Error; err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

type snapshotStore struct {
	db *gorm.DB
}

func (s *snapshotStore) Save(session *models.RecordingSession) error {
	snapshot, err := models.EncodeSnapshot(session)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}

	var existing models.SessionSnapshot
	err = s.db.Where("session_id = ?", session.SessionID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(snapshot).Error; err != nil {
			return fmt.Errorf("save session snapshot: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load session snapshot: %w", err)
	}

	existing.Payload = snapshot.Payload
	if err := s.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

func (s *snapshotStore) Load(sessionID string) (*models.RecordingSession, error) {
	var snapshot models.SessionSnapshot
	if err := s.db.Where("session_id = ?", sessionID).First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session snapshot: %w", err)
	}
	return snapshot.Decode()
}

func (s *snapshotStore) LoadLive() (*models.RecordingSession, error) {
	var snapshot models.SessionSnapshot
	if err := s.db.Order("updated_at DESC").First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load live snapshot: %w", err)
	}
	return snapshot.Decode()
}

func (s *snapshotStore) Clear(sessionID string) error {
	err := s.db.Where("session_id = ?", sessionID).
		Unscoped().Delete(&models.SessionSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("clear session snapshot: %w", err)
	}
	return nil
}

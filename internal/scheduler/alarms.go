package scheduler

import (
	"log"
	"strconv"
	"sync"
	"time"

	"webpilot/backend/internal/models"
)

// FireFunc is invoked when an automation's alarm goes off. It runs on its
// own goroutine and must tolerate the automation having been disabled or
// deleted since the alarm was armed.
type FireFunc func(automationID uint)

type alarm struct {
	name  string
	expr  Expression
	next  time.Time
	timer *time.Timer
}

// AlarmManager keeps exactly one outstanding timer per scheduled automation
// and re-arms it after every firing.
type AlarmManager struct {
	mu     sync.Mutex
	alarms map[uint]*alarm
	fire   FireFunc
	now    func() time.Time
}

func NewAlarmManager(fire FireFunc) *AlarmManager {
	return &AlarmManager{
		alarms: make(map[uint]*alarm),
		fire:   fire,
		now:    time.Now,
	}
}

// Schedule arms (or re-arms) the alarm for an automation. An existing timer
// for the same automation is replaced, never duplicated.
func (m *AlarmManager) Schedule(automationID uint, cronExpr string) error {
	expr, err := ParseExpression(cronExpr)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked(automationID)

	next, ok := ComputeNextRun(expr, m.now())
	if !ok {
		log.Printf("scheduler: %q yields no future run for automation %d, leaving unscheduled", cronExpr, automationID)
		return nil
	}

	a := &alarm{
		name: models.AlarmPrefix + formatID(automationID),
		expr: expr,
		next: next,
	}
	a.timer = time.AfterFunc(next.Sub(m.now()), func() { m.onFire(automationID) })
	m.alarms[automationID] = a

	log.Printf("scheduler: armed %s for %s", a.name, next.Format(time.RFC3339))
	return nil
}

func (m *AlarmManager) onFire(automationID uint) {
	m.mu.Lock()
	a, ok := m.alarms[automationID]
	if !ok {
		m.mu.Unlock()
		return
	}

	// Re-arm before dispatching so a long-running fire cannot skip a slot.
	next, hasNext := ComputeNextRun(a.expr, m.now())
	if hasNext {
		a.next = next
		a.timer = time.AfterFunc(next.Sub(m.now()), func() { m.onFire(automationID) })
	} else {
		delete(m.alarms, automationID)
		log.Printf("scheduler: %s has no further runs, cleared", a.name)
	}
	m.mu.Unlock()

	go m.fire(automationID)
}

// Clear removes the alarm for an automation, if any.
func (m *AlarmManager) Clear(automationID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(automationID)
}

func (m *AlarmManager) clearLocked(automationID uint) {
	if a, ok := m.alarms[automationID]; ok {
		if a.timer != nil {
			a.timer.Stop()
		}
		delete(m.alarms, automationID)
	}
}

// NextFire reports when the automation's alarm will next go off.
func (m *AlarmManager) NextFire(automationID uint) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.alarms[automationID]; ok {
		return a.next, true
	}
	return time.Time{}, false
}

// Stop cancels every outstanding alarm.
func (m *AlarmManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.alarms {
		m.clearLocked(id)
	}
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

package scheduler

import (
	"testing"
	"time"
)

func TestScheduleArmsOneAlarmPerAutomation(t *testing.T) {
	m := NewAlarmManager(func(uint) {})
	defer m.Stop()
	m.now = func() time.Time { return at("2024-01-01T10:00:00") }

	if err := m.Schedule(7, "0 9 * * *"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	next, ok := m.NextFire(7)
	if !ok {
		t.Fatal("NextFire: alarm missing after Schedule")
	}
	if want := at("2024-01-02T09:00:00"); !next.Equal(want) {
		t.Errorf("next fire = %s, want %s", next, want)
	}

	// Re-scheduling with a new expression replaces the timer, it does not
	// stack a second one.
	if err := m.Schedule(7, "*/15 * * * *"); err != nil {
		t.Fatalf("Schedule replace: %v", err)
	}
	next, _ = m.NextFire(7)
	if want := at("2024-01-01T10:15:00"); !next.Equal(want) {
		t.Errorf("next fire after replace = %s, want %s", next, want)
	}
	if len(m.alarms) != 1 {
		t.Errorf("alarm count = %d, want 1", len(m.alarms))
	}
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	m := NewAlarmManager(func(uint) {})
	defer m.Stop()

	if err := m.Schedule(1, "not a cron"); err == nil {
		t.Error("Schedule accepted an invalid expression")
	}
	if _, ok := m.NextFire(1); ok {
		t.Error("invalid expression left an alarm armed")
	}
}

func TestClearRemovesAlarm(t *testing.T) {
	m := NewAlarmManager(func(uint) {})
	defer m.Stop()

	if err := m.Schedule(3, "0 9 * * *"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	m.Clear(3)
	if _, ok := m.NextFire(3); ok {
		t.Error("alarm still armed after Clear")
	}
	// Clearing again is a no-op, not a panic.
	m.Clear(3)
}

func TestOnFireDispatchesAndRearms(t *testing.T) {
	fired := make(chan uint, 1)
	m := NewAlarmManager(func(id uint) { fired <- id })
	defer m.Stop()
	m.now = func() time.Time { return at("2024-01-01T10:00:00") }

	if err := m.Schedule(9, "0 9 * * *"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	m.onFire(9)

	select {
	case id := <-fired:
		if id != 9 {
			t.Errorf("fired automation %d, want 9", id)
		}
	case <-time.After(time.Second):
		t.Fatal("fire callback never invoked")
	}

	next, ok := m.NextFire(9)
	if !ok {
		t.Fatal("alarm not re-armed after firing")
	}
	if want := at("2024-01-02T09:00:00"); !next.Equal(want) {
		t.Errorf("re-armed fire = %s, want %s", next, want)
	}
}

func TestOnFireForUnknownAutomationIsNoop(t *testing.T) {
	m := NewAlarmManager(func(uint) { t.Error("fire invoked for unknown automation") })
	defer m.Stop()
	m.onFire(42)
}

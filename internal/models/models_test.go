package models_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"webpilot/backend/internal/models"
)

func TestAutomationDocumentRoundTrip(t *testing.T) {
	automation := models.Automation{
		Name:           "Checkout flow",
		Description:    "Adds an item and pays",
		CronExpression: "0 9 * * *",
		IsEnabled:      true,
		StartURL:       "https://shop.example/cart",
		Duration:       61500,
	}
	automation.ID = 12
	automation.CreatedAt = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	automation.UpdatedAt = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	events := []models.RecordedEvent{
		{
			ID:                "e1",
			Type:              models.EventClick,
			Timestamp:         1200,
			Selector:          "#add-to-cart",
			FallbackSelectors: []string{`[data-testid="add"]`, "div.actions > button"},
			TagName:           "button",
			TextContent:       "Add to cart",
			Rect:              &models.Rect{X: 40, Y: 500, Width: 120, Height: 36},
		},
		{
			ID:        "e2",
			Type:      models.EventInput,
			Timestamp: 4800,
			Selector:  "#quantity",
			TagName:   "input",
			Value:     "2",
		},
	}
	if err := automation.SetEvents(events); err != nil {
		t.Fatalf("SetEvents: %v", err)
	}
	if err := automation.SetMouseTrail([]models.MousePoint{{X: 10, Y: 20, T: 100}}); err != nil {
		t.Fatalf("SetMouseTrail: %v", err)
	}
	if automation.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", automation.EventCount)
	}

	doc, err := automation.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}

	// The wire format is camelCase where it matters.
	for _, key := range []string{`"startUrl"`, `"isEnabled"`, `"createdAt"`, `"updatedAt"`, `"cron"`, `"mouseMovements"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("document JSON missing %s: %s", key, data)
		}
	}

	var back models.AutomationDocument
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	again, err := json.Marshal(&back)
	if err != nil {
		t.Fatalf("re-marshal document: %v", err)
	}
	if string(data) != string(again) {
		t.Errorf("document did not round-trip:\n%s\n%s", data, again)
	}
	if back.Events[0].FallbackSelectors[1] != "div.actions > button" {
		t.Errorf("fallback selectors lost: %+v", back.Events[0])
	}
}

func TestDocumentOfEmptyAutomationHasEventsArray(t *testing.T) {
	var automation models.Automation
	doc, err := automation.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}

	data, _ := json.Marshal(doc)
	if !strings.Contains(string(data), `"events":[]`) {
		t.Errorf("empty automation must serialize events as [], got %s", data)
	}
}

func TestEventTypePredicates(t *testing.T) {
	if models.EventType("hover").Valid() {
		t.Error("hover accepted as a valid event type")
	}
	if models.EventScroll.NeedsElement() || models.EventNavigate.NeedsElement() {
		t.Error("scroll/navigate must not require an element")
	}
	if !models.EventClick.NeedsElement() {
		t.Error("click must require an element")
	}
	if !models.EventSubmit.NeedsSelector() {
		t.Error("submit must require a selector")
	}
	if models.EventKeyDown.NeedsSelector() {
		t.Error("keydown must not require a selector")
	}
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	session := &models.RecordingSession{
		SessionID: "s-1",
		TabID:     3,
		StartURL:  "https://example.com",
		StartedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Paused:    true,
		Events: []models.RecordedEvent{
			{ID: "e1", Type: models.EventClick, Selector: "#a", Timestamp: 100},
		},
	}

	snapshot, err := models.EncodeSnapshot(session)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if snapshot.SessionID != "s-1" {
		t.Errorf("snapshot session id = %q", snapshot.SessionID)
	}

	back, err := snapshot.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.SessionID != session.SessionID || !back.Paused || len(back.Events) != 1 {
		t.Errorf("snapshot round-trip = %+v", back)
	}
	if got := back.Elapsed(session.StartedAt.Add(90 * time.Second)); got != 90000 {
		t.Errorf("Elapsed = %d, want 90000", got)
	}
}

package locator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"webpilot/backend/internal/locator"
	"webpilot/backend/internal/models"
	"webpilot/backend/internal/selector/seltest"
)

func visionServer(t *testing.T, result locator.LocateResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/find-element" {
			http.NotFound(w, r)
			return
		}
		var req locator.LocateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Screenshot == "" {
			t.Error("request missing current screenshot")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
	}))
}

func eventWithAIContext() *models.RecordedEvent {
	return &models.RecordedEvent{
		ID:      "ev-1",
		Type:    models.EventClick,
		TagName: "button",
		AIContext: &models.AIContext{
			Screenshot:  "cmVm",
			Description: "the blue submit button",
		},
	}
}

func pageWithButton() (*seltest.Page, *seltest.Node) {
	page := seltest.NewPage()
	btn := page.Root.Append(seltest.NewNode("button", map[string]string{"id": "submit"}))
	btn.Box = models.Rect{X: 100, Y: 200, Width: 80, Height: 30}
	return page, btn
}

func TestLocateAcceptsConfidentResult(t *testing.T) {
	srv := visionServer(t, locator.LocateResult{X: 120, Y: 210, Confidence: 0.61})
	defer srv.Close()

	page, btn := pageWithButton()
	client := locator.NewClient(srv.URL, "")

	el := locator.Locate(context.Background(), client, page, eventWithAIContext())
	if el == nil {
		t.Fatal("Locate returned nil for a confident, visible hit")
	}
	if el != btn {
		t.Errorf("Locate picked %v, want the button at the point", el)
	}
}

func TestLocateRejectsLowConfidence(t *testing.T) {
	srv := visionServer(t, locator.LocateResult{X: 120, Y: 210, Confidence: 0.59})
	defer srv.Close()

	page, _ := pageWithButton()
	client := locator.NewClient(srv.URL, "")

	if el := locator.Locate(context.Background(), client, page, eventWithAIContext()); el != nil {
		t.Errorf("Locate trusted confidence 0.59, want fallback (nil), got %v", el)
	}
}

func TestLocateRejectsInvisibleElementAtPoint(t *testing.T) {
	srv := visionServer(t, locator.LocateResult{X: 120, Y: 210, Confidence: 0.9})
	defer srv.Close()

	page, btn := pageWithButton()
	btn.Hidden = true
	client := locator.NewClient(srv.URL, "")

	if el := locator.Locate(context.Background(), client, page, eventWithAIContext()); el != nil {
		t.Errorf("Locate returned an invisible element, want nil")
	}
}

func TestLocateFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	page, _ := pageWithButton()
	client := locator.NewClient(srv.URL, "")

	if el := locator.Locate(context.Background(), client, page, eventWithAIContext()); el != nil {
		t.Error("Locate returned an element despite a server error")
	}
}

func TestLocateFallsBackOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{not json")
	}))
	defer srv.Close()

	page, _ := pageWithButton()
	client := locator.NewClient(srv.URL, "")

	if el := locator.Locate(context.Background(), client, page, eventWithAIContext()); el != nil {
		t.Error("Locate returned an element despite a malformed response")
	}
}

func TestLocateDisabledClientIsNil(t *testing.T) {
	page, _ := pageWithButton()

	if el := locator.Locate(context.Background(), nil, page, eventWithAIContext()); el != nil {
		t.Error("Locate with nil client must return nil")
	}
	if el := locator.Locate(context.Background(), locator.NewClient("", ""), page, eventWithAIContext()); el != nil {
		t.Error("Locate with unconfigured client must return nil")
	}
}

func TestSynthesizeDescription(t *testing.T) {
	ev := &models.RecordedEvent{
		TagName:     "button",
		TextContent: "Sign in",
		Attributes:  map[string]string{"aria-label": "Sign in to your account"},
		Rect:        &models.Rect{X: 100, Y: 200, Width: 80, Height: 40},
	}

	desc := locator.SynthesizeDescription(ev)
	for _, want := range []string{"button", `"Sign in"`, "aria-label", "140", "220"} {
		if !strings.Contains(desc, want) {
			t.Errorf("description %q missing %q", desc, want)
		}
	}
}

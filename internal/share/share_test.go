package share_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/share"
)

func sampleDocument() *models.AutomationDocument {
	return &models.AutomationDocument{
		ID:        3,
		Name:      "Login flow",
		StartURL:  "https://example.com/login",
		IsEnabled: true,
		CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		Events: []models.RecordedEvent{
			{ID: "e1", Type: models.EventClick, Selector: "#submit", Timestamp: 1200},
		},
		Duration: 4500,
	}
}

func TestShareUploadsDocument(t *testing.T) {
	var received models.AutomationDocument
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/automations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"url": "https://share.example/a/xyz", "code": "xyz"})
	}))
	defer srv.Close()

	client := share.NewClient(srv.URL, "secret")
	url, err := client.Share(context.Background(), sampleDocument())
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if url != "https://share.example/a/xyz" {
		t.Errorf("share url = %q", url)
	}
	if received.Name != "Login flow" || len(received.Events) != 1 {
		t.Errorf("service received %+v", received)
	}
}

func TestShareReportsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := share.NewClient(srv.URL, "")
	if _, err := client.Share(context.Background(), sampleDocument()); err == nil {
		t.Error("Share succeeded against a failing service")
	}
}

func TestFetchRoundTripsDocument(t *testing.T) {
	doc := sampleDocument()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/automations/xyz" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	client := share.NewClient(srv.URL, "")
	got, err := client.Fetch(context.Background(), "xyz")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want, _ := json.Marshal(doc)
	back, _ := json.Marshal(got)
	if string(want) != string(back) {
		t.Errorf("fetched document = %s, want %s", back, want)
	}
}

func TestUnconfiguredClient(t *testing.T) {
	client := share.NewClient("", "")
	if _, err := client.Share(context.Background(), sampleDocument()); err == nil {
		t.Error("Share with no endpoint succeeded")
	}
	if _, err := client.Fetch(context.Background(), "xyz"); err == nil {
		t.Error("Fetch with no endpoint succeeded")
	}
}

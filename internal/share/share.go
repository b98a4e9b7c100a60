// Package share publishes automation documents to the external sharing
// service and fetches shared documents back by code.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"webpilot/backend/internal/models"
)

// Client talks to the sharing service.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether sharing is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

type shareResponse struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

// Share uploads the document and returns its public URL.
func (c *Client) Share(ctx context.Context, doc *models.AutomationDocument) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("sharing is not configured")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal automation document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/automations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("share request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("share service status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed shareResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode share response: %w", err)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("share service returned no url")
	}
	return parsed.URL, nil
}

// Fetch downloads a shared automation document by its code.
func (c *Client) Fetch(ctx context.Context, code string) (*models.AutomationDocument, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("sharing is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/automations/"+code, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch shared automation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("share service status %d for code %s", resp.StatusCode, code)
	}

	var doc models.AutomationDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode shared automation: %w", err)
	}
	return &doc, nil
}

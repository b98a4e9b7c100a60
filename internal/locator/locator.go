// Package locator integrates an external vision service as an optional,
// higher-priority element resolution strategy. It can only ever shortcut
// selector-based resolution; every failure path falls back silently.
package locator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/selector"
)

// ConfidenceThreshold is the minimum locator confidence required before the
// returned coordinate is trusted over selector-based resolution.
const ConfidenceThreshold = 0.6

// LocateRequest is the payload sent to the vision collaborator when asking
// it to find an element on the current page.
type LocateRequest struct {
	Screenshot          string       `json:"screenshot"` // current page, base64
	ReferenceScreenshot string       `json:"reference_screenshot,omitempty"`
	ElementCrop         string       `json:"element_crop,omitempty"`
	Description         string       `json:"description"`
	RecordedRect        *models.Rect `json:"recorded_rect,omitempty"`
}

// LocateResult is the vision collaborator's answer: a point plus how sure it
// is about it.
type LocateResult struct {
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning,omitempty"`
	PreparationNeeded string  `json:"preparationNeeded,omitempty"`
}

// DescribeRequest asks the collaborator to author a natural-language
// description of a captured action, used to enrich events at record time.
type DescribeRequest struct {
	Screenshot  string            `json:"screenshot"`
	ElementCrop string            `json:"element_crop,omitempty"`
	TagName     string            `json:"tag_name,omitempty"`
	TextContent string            `json:"text_content,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Client talks to the external vision service over HTTP.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether AI-assisted location is configured at all.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// FindElement asks the vision service for the coordinates of the described
// element on the current screenshot.
func (c *Client) FindElement(ctx context.Context, req LocateRequest) (*LocateResult, error) {
	var envelope struct {
		Result *LocateResult `json:"result"`
	}
	if err := c.post(ctx, "/find-element", req, &envelope); err != nil {
		return nil, err
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("vision service returned no result")
	}
	return envelope.Result, nil
}

// DescribeAction asks the vision service to author a description of the
// captured action.
func (c *Client) DescribeAction(ctx context.Context, req DescribeRequest) (string, error) {
	var envelope struct {
		Result string `json:"result"`
	}
	if err := c.post(ctx, "/describe-action", req, &envelope); err != nil {
		return "", err
	}
	return envelope.Result, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vision service status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode vision response: %w", err)
	}
	return nil
}

// Page is the visual surface the locator needs from a browser tab.
type Page interface {
	Screenshot(ctx context.Context) (string, error)
	ElementAt(x, y float64) (selector.Element, error)
}

// Locate tries to find the event's target element via the vision service.
// It returns nil whenever the AI path cannot produce a trustworthy, visible
// element; the caller then proceeds with selector resolution. It never
// returns an error because AI location is never allowed to fail a replay.
func Locate(ctx context.Context, client *Client, page Page, ev *models.RecordedEvent) selector.Element {
	if !client.Enabled() {
		return nil
	}
	if ev.AIContext == nil && ev.TextContent == "" && ev.TagName == "" {
		return nil
	}

	shot, err := page.Screenshot(ctx)
	if err != nil {
		log.Printf("locator: screenshot failed, falling back to selectors: %v", err)
		return nil
	}

	req := LocateRequest{
		Screenshot:   shot,
		Description:  describeEvent(ev),
		RecordedRect: ev.Rect,
	}
	if ev.AIContext != nil {
		req.ReferenceScreenshot = ev.AIContext.Screenshot
		req.ElementCrop = ev.AIContext.ElementCrop
	}

	result, err := client.FindElement(ctx, req)
	if err != nil {
		log.Printf("locator: vision lookup failed, falling back to selectors: %v", err)
		return nil
	}
	if result.Confidence < ConfidenceThreshold {
		log.Printf("locator: confidence %.2f below threshold %.2f, falling back to selectors",
			result.Confidence, ConfidenceThreshold)
		return nil
	}

	el, err := page.ElementAt(result.X, result.Y)
	if err != nil || el == nil {
		return nil
	}
	if !el.Visible() {
		log.Printf("locator: element at (%.0f,%.0f) not visible, falling back to selectors", result.X, result.Y)
		return nil
	}
	return el
}

// describeEvent prefers an AI-authored description and otherwise synthesizes
// one from what the recorder captured.
func describeEvent(ev *models.RecordedEvent) string {
	if ev.AIContext != nil && ev.AIContext.Description != "" {
		return ev.AIContext.Description
	}
	return SynthesizeDescription(ev)
}

// SynthesizeDescription builds a plain-language description of the target
// element from its tag, text, attributes and recorded position.
func SynthesizeDescription(ev *models.RecordedEvent) string {
	var b strings.Builder

	switch ev.TagName {
	case "a":
		b.WriteString("link")
	case "button":
		b.WriteString("button")
	case "input":
		b.WriteString("input field")
	case "select":
		b.WriteString("dropdown")
	case "textarea":
		b.WriteString("text area")
	case "":
		b.WriteString("element")
	default:
		b.WriteString(ev.TagName + " element")
	}

	if ev.TextContent != "" {
		fmt.Fprintf(&b, " with text %q", ev.TextContent)
	}
	for _, attr := range []string{"aria-label", "placeholder", "name", "role"} {
		if v, ok := ev.Attributes[attr]; ok && v != "" {
			fmt.Fprintf(&b, ", %s %q", attr, v)
			break
		}
	}
	if ev.Rect != nil {
		fmt.Fprintf(&b, ", near (%.0f, %.0f) at capture time", ev.Rect.X+ev.Rect.Width/2, ev.Rect.Y+ev.Rect.Height/2)
	}
	return b.String()
}

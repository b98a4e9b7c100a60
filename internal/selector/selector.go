package selector

import "webpilot/backend/internal/models"

// Element is a live handle to a DOM node, abstracted so the resolution chain
// can run against a real Chrome tab or an in-memory fixture.
type Element interface {
	TagName() string // lowercase
	Attr(name string) (string, bool)
	Classes() []string
	Text() string // trimmed visible text
	Visible() bool
	Rect() models.Rect
	Parent() Element // nil above the document body
	Children() []Element
}

// Page is the query surface the resolver needs from a browser tab.
type Page interface {
	// Query returns all elements matching a CSS selector, in document order.
	Query(selector string) ([]Element, error)
	// ElementsByTag returns all elements with the given tag name, in
	// document order.
	ElementsByTag(tag string) ([]Element, error)
}

// Descriptor is everything captured about an element that can be used to
// re-find it later.
type Descriptor struct {
	Primary     string            `json:"primary"`
	Fallbacks   []string          `json:"fallbacks,omitempty"`
	TagName     string            `json:"tag_name,omitempty"`
	TextContent string            `json:"text_content,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Strategies returns the ordered selector strings to try: primary first,
// then each fallback. The textual fallback is carried separately in
// TextContent.
func (d Descriptor) Strategies() []string {
	if d.Primary == "" {
		return d.Fallbacks
	}
	return append([]string{d.Primary}, d.Fallbacks...)
}

// Package seltest provides an in-memory DOM fixture implementing the
// selector.Element and selector.Page interfaces, plus the replay action
// surface, so resolution and replay logic can be exercised without a
// browser.
package seltest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/selector"
)

// Node is one element of the fixture DOM.
type Node struct {
	Tag      string
	Attrs    map[string]string
	TextVal  string
	Hidden   bool
	Box      models.Rect
	Value    string
	parent   *Node
	children []*Node
}

func NewNode(tag string, attrs map[string]string) *Node {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return &Node{Tag: tag, Attrs: attrs, Box: models.Rect{Width: 100, Height: 20}}
}

// Append attaches child and returns it for chaining.
func (n *Node) Append(child *Node) *Node {
	child.parent = n
	n.children = append(n.children, child)
	return child
}

// Remove detaches child from this node.
func (n *Node) Remove(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

func (n *Node) TagName() string { return n.Tag }

func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

func (n *Node) Classes() []string {
	raw, ok := n.Attrs["class"]
	if !ok {
		return nil
	}
	return strings.Fields(raw)
}

func (n *Node) Text() string {
	parts := []string{n.TextVal}
	for _, c := range n.children {
		parts = append(parts, c.Text())
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (n *Node) Visible() bool { return !n.Hidden }

func (n *Node) Rect() models.Rect { return n.Box }

func (n *Node) Parent() selector.Element {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *Node) Children() []selector.Element {
	out := make([]selector.Element, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Ident is a short label for action logs: the element id when present, the
// tag name otherwise.
func (n *Node) Ident() string {
	if id, ok := n.Attrs["id"]; ok && id != "" {
		return "#" + id
	}
	return n.Tag
}

// Page is a queryable fixture document with an action log.
type Page struct {
	mu       sync.Mutex
	Root     *Node // the body element
	ViewBox  models.Rect
	Actions  []string // "click #email", "setvalue #email a@b.com", ...
	Resolved []selector.Element
	URL      string
}

func NewPage() *Page {
	return &Page{
		Root:    NewNode("body", nil),
		ViewBox: models.Rect{Width: 1280, Height: 800},
	}
}

// Mutate runs fn under the page lock so tests can change the DOM while a
// resolver polls it from another goroutine.
func (p *Page) Mutate(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func (p *Page) Query(sel string) ([]selector.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	segs, err := parseSelector(sel)
	if err != nil {
		return nil, err
	}

	var out []selector.Element
	walk(p.Root, func(n *Node) {
		if matchesChain(n, segs) {
			out = append(out, n)
		}
	})
	return out, nil
}

func (p *Page) ElementsByTag(tag string) ([]selector.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []selector.Element
	walk(p.Root, func(n *Node) {
		if n.Tag == tag {
			out = append(out, n)
		}
	})
	return out, nil
}

func (p *Page) ElementAt(x, y float64) (selector.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var hit *Node
	walk(p.Root, func(n *Node) {
		r := n.Box
		if x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height {
			hit = n // later in document order means deeper/above
		}
	})
	if hit == nil {
		return nil, nil
	}
	return hit, nil
}

func (p *Page) Screenshot(ctx context.Context) (string, error) {
	return "ZmFrZS1zY3JlZW5zaG90", nil
}

func (p *Page) Viewport() (models.Rect, error) {
	return p.ViewBox, nil
}

func (p *Page) log(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Actions = append(p.Actions, fmt.Sprintf(format, args...))
}

func (p *Page) track(el selector.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Resolved = append(p.Resolved, el)
}

func (p *Page) ScrollIntoView(ctx context.Context, el selector.Element) error {
	p.log("scrollintoview %s", ident(el))
	return nil
}

func (p *Page) ScrollTo(ctx context.Context, x, y float64) error {
	p.log("scrollto %.0f,%.0f", x, y)
	return nil
}

func (p *Page) Click(ctx context.Context, el selector.Element) error {
	p.track(el)
	p.log("click %s", ident(el))
	return nil
}

func (p *Page) DoubleClick(ctx context.Context, el selector.Element) error {
	p.track(el)
	p.log("dblclick %s", ident(el))
	return nil
}

func (p *Page) MouseDown(ctx context.Context, el selector.Element) error {
	p.log("mousedown %s", ident(el))
	return nil
}

func (p *Page) MouseUp(ctx context.Context, el selector.Element) error {
	p.log("mouseup %s", ident(el))
	return nil
}

func (p *Page) SetValue(ctx context.Context, el selector.Element, value string) error {
	p.track(el)
	if n, ok := el.(*Node); ok {
		n.Value = value
	}
	p.log("setvalue %s %s", ident(el), value)
	return nil
}

func (p *Page) SendKey(ctx context.Context, el selector.Element, key string, down bool) error {
	dir := "keyup"
	if down {
		dir = "keydown"
	}
	p.log("%s %s %s", dir, ident(el), key)
	return nil
}

func (p *Page) Focus(ctx context.Context, el selector.Element) error {
	p.log("focus %s", ident(el))
	return nil
}

func (p *Page) Blur(ctx context.Context, el selector.Element) error {
	p.log("blur %s", ident(el))
	return nil
}

func (p *Page) Submit(ctx context.Context, el selector.Element) error {
	p.track(el)
	p.log("submit %s", ident(el))
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.URL = url
	p.mu.Unlock()
	p.log("navigate %s", url)
	return nil
}

func ident(el selector.Element) string {
	if n, ok := el.(*Node); ok {
		return n.Ident()
	}
	return el.TagName()
}

func walk(n *Node, fn func(*Node)) {
	for _, c := range n.children {
		fn(c)
		walk(c, fn)
	}
}

// -- selector matching --
//
// Supports the subset the descriptor builder emits: #id, tag, .class chains,
// [attr="value"], :nth-child(n), joined by the child combinator.

type segment struct {
	id      string
	tag     string
	classes []string
	nth     int
	attrKey string
	attrVal string
}

func parseSelector(sel string) ([]segment, error) {
	var segs []segment
	for _, raw := range strings.Split(sel, " > ") {
		seg, err := parseSegment(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("seltest: empty selector %q", sel)
	}
	return segs, nil
}

func parseSegment(s string) (segment, error) {
	var seg segment
	if s == "" {
		return seg, fmt.Errorf("seltest: empty segment")
	}
	if strings.HasPrefix(s, "#") {
		seg.id = s[1:]
		return seg, nil
	}

	i := 0
	for i < len(s) && s[i] != '.' && s[i] != '[' && s[i] != ':' && s[i] != '#' {
		i++
	}
	seg.tag = s[:i]

	for i < len(s) {
		switch s[i] {
		case '#':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != ':' {
				j++
			}
			seg.id = s[i+1 : j]
			i = j
		case '.':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != ':' {
				j++
			}
			seg.classes = append(seg.classes, s[i+1:j])
			i = j
		case '[':
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return seg, fmt.Errorf("seltest: unterminated attribute in %q", s)
			}
			body := s[i+1 : i+j]
			eq := strings.IndexByte(body, '=')
			if eq < 0 {
				seg.attrKey = body
			} else {
				seg.attrKey = body[:eq]
				seg.attrVal = strings.Trim(body[eq+1:], `"`)
			}
			i += j + 1
		case ':':
			if !strings.HasPrefix(s[i:], ":nth-child(") {
				return seg, fmt.Errorf("seltest: unsupported pseudo-class in %q", s)
			}
			j := strings.IndexByte(s[i:], ')')
			if j < 0 {
				return seg, fmt.Errorf("seltest: unterminated nth-child in %q", s)
			}
			n, err := strconv.Atoi(s[i+len(":nth-child(") : i+j])
			if err != nil {
				return seg, err
			}
			seg.nth = n
			i += j + 1
		default:
			return seg, fmt.Errorf("seltest: unexpected %q in segment %q", s[i], s)
		}
	}
	return seg, nil
}

func matchesSegment(n *Node, seg segment) bool {
	if seg.id != "" {
		if id, ok := n.Attrs["id"]; !ok || id != seg.id {
			return false
		}
	}
	if seg.tag != "" && n.Tag != seg.tag {
		return false
	}
	for _, class := range seg.classes {
		if !hasClass(n, class) {
			return false
		}
	}
	if seg.attrKey != "" {
		v, ok := n.Attrs[seg.attrKey]
		if !ok {
			return false
		}
		if seg.attrVal != "" && v != seg.attrVal {
			return false
		}
	}
	if seg.nth > 0 {
		if n.parent == nil {
			return false
		}
		idx := 0
		for i, sib := range n.parent.children {
			if sib == n {
				idx = i + 1
				break
			}
		}
		if idx != seg.nth {
			return false
		}
	}
	return true
}

func matchesChain(n *Node, segs []segment) bool {
	node := n
	for i := len(segs) - 1; i >= 0; i-- {
		if node == nil || !matchesSegment(node, segs[i]) {
			return false
		}
		node = node.parent
	}
	return true
}

func hasClass(n *Node, class string) bool {
	for _, c := range strings.Fields(n.Attrs["class"]) {
		if c == class {
			return true
		}
	}
	return false
}

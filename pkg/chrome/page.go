package chrome

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/selector"
)

// agentScript installs window.__wpAgent, the in-page helper every DOM query
// goes through. Elements are claimed with a data-wp-uid attribute so a Go
// Element handle can find its node again across calls.
const agentScript = `
(() => {
  if (window.__wpAgent) return;
  let seq = 0;
  const claim = (el) => {
    if (!el.dataset.wpUid) el.dataset.wpUid = 'wp-' + (++seq) + '-' + Date.now().toString(36);
    return el.dataset.wpUid;
  };
  const describe = (el) => {
    const r = el.getBoundingClientRect();
    const style = getComputedStyle(el);
    const attrs = {};
    for (const a of el.attributes) attrs[a.name] = a.value;
    return {
      uid: claim(el),
      tag: el.tagName.toLowerCase(),
      attrs: attrs,
      text: (el.textContent || '').trim().slice(0, 500),
      visible: !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length)
        && style.visibility !== 'hidden' && style.display !== 'none',
      rect: { x: r.x, y: r.y, width: r.width, height: r.height },
    };
  };
  const byUid = (uid) => document.querySelector('[data-wp-uid="' + uid + '"]');
  window.__wpAgent = {
    query: (sel) => { try { return Array.from(document.querySelectorAll(sel)).map(describe); } catch (e) { return { error: String(e) }; } },
    byTag: (tag) => Array.from(document.getElementsByTagName(tag)).map(describe),
    at: (x, y) => { const el = document.elementFromPoint(x, y); return el ? describe(el) : null; },
    get: (uid) => { const el = byUid(uid); return el ? describe(el) : null; },
    parent: (uid) => {
      const el = byUid(uid);
      if (!el || !el.parentElement || el.parentElement === document.documentElement) return null;
      return describe(el.parentElement);
    },
    children: (uid) => { const el = byUid(uid); return el ? Array.from(el.children).map(describe) : []; },
    viewport: () => ({ x: 0, y: 0, width: window.innerWidth, height: window.innerHeight }),
  };
})();`

type elementMeta struct {
	UID     string            `json:"uid"`
	Tag     string            `json:"tag"`
	Attrs   map[string]string `json:"attrs"`
	Text    string            `json:"text"`
	Visible bool              `json:"visible"`
	Rect    models.Rect       `json:"rect"`
}

// Page is one live browser tab.
type Page struct {
	ctx context.Context // chromedp tab context
}

func newPage(ctx context.Context) *Page {
	return &Page{ctx: ctx}
}

// start installs the agent on every document in this tab and navigates.
func (p *Page) start(ctx context.Context, url string) error {
	err := chromedp.Run(p.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(agentScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(agentScript, nil),
	)
	if err != nil {
		return fmt.Errorf("chrome: open %s: %w", url, err)
	}
	return nil
}

// eval runs a JS expression against the page agent and decodes the result.
func (p *Page) eval(expr string, out interface{}) error {
	return chromedp.Run(p.ctx, chromedp.Evaluate(expr, out))
}

func (p *Page) evalCall(out interface{}, method string, args ...interface{}) error {
	encoded := make([]byte, 0, 64)
	encoded = append(encoded, []byte("window.__wpAgent."+method+"(")...)
	for i, arg := range args {
		if i > 0 {
			encoded = append(encoded, ',')
		}
		data, err := json.Marshal(arg)
		if err != nil {
			return err
		}
		encoded = append(encoded, data...)
	}
	encoded = append(encoded, ')')
	return p.eval(string(encoded), out)
}

func (p *Page) Query(sel string) ([]selector.Element, error) {
	var raw json.RawMessage
	if err := p.evalCall(&raw, "query", sel); err != nil {
		return nil, err
	}

	// The agent reports selector syntax errors as an object, matches as an
	// array.
	var failure struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &failure); err == nil && failure.Error != "" {
		return nil, fmt.Errorf("chrome: query %q: %s", sel, failure.Error)
	}

	var metas []elementMeta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return nil, fmt.Errorf("chrome: query %q: %w", sel, err)
	}
	return p.wrapAll(metas), nil
}

func (p *Page) ElementsByTag(tag string) ([]selector.Element, error) {
	var metas []elementMeta
	if err := p.evalCall(&metas, "byTag", tag); err != nil {
		return nil, err
	}
	return p.wrapAll(metas), nil
}

func (p *Page) ElementAt(x, y float64) (selector.Element, error) {
	var meta *elementMeta
	if err := p.evalCall(&meta, "at", x, y); err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}
	return &Element{page: p, meta: *meta}, nil
}

func (p *Page) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := chromedp.Run(p.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("chrome: screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (p *Page) Viewport() (models.Rect, error) {
	var rect models.Rect
	if err := p.evalCall(&rect, "viewport"); err != nil {
		return models.Rect{}, err
	}
	return rect, nil
}

func (p *Page) wrapAll(metas []elementMeta) []selector.Element {
	out := make([]selector.Element, len(metas))
	for i, meta := range metas {
		out[i] = &Element{page: p, meta: meta}
	}
	return out
}

func uidSelector(el selector.Element) (string, error) {
	handle, ok := el.(*Element)
	if !ok {
		return "", fmt.Errorf("chrome: element %T is not a chrome handle", el)
	}
	return `[data-wp-uid="` + handle.meta.UID + `"]`, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el selector.Element) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	return chromedp.Run(p.ctx, chromedp.ScrollIntoView(sel, chromedp.ByQuery))
}

func (p *Page) ScrollTo(ctx context.Context, x, y float64) error {
	return p.eval(fmt.Sprintf("window.scrollTo(%f, %f)", x, y), nil)
}

func (p *Page) Click(ctx context.Context, el selector.Element) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	return chromedp.Run(p.ctx, chromedp.Click(sel, chromedp.ByQuery))
}

func (p *Page) DoubleClick(ctx context.Context, el selector.Element) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	return chromedp.Run(p.ctx, chromedp.DoubleClick(sel, chromedp.ByQuery))
}

func (p *Page) MouseDown(ctx context.Context, el selector.Element) error {
	return p.dispatchMouse(el, "mousedown")
}

func (p *Page) MouseUp(ctx context.Context, el selector.Element) error {
	return p.dispatchMouse(el, "mouseup")
}

func (p *Page) dispatchMouse(el selector.Element, kind string) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el) el.dispatchEvent(new MouseEvent(%q, { bubbles: true, cancelable: true })); })()`,
		sel, kind)
	return p.eval(expr, nil)
}

func (p *Page) SetValue(ctx context.Context, el selector.Element, value string) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	return chromedp.Run(p.ctx,
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, value, chromedp.ByQuery),
	)
}

func (p *Page) SendKey(ctx context.Context, el selector.Element, key string, down bool) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	kind := "keyup"
	if down {
		kind = "keydown"
	}
	expr := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el) el.dispatchEvent(new KeyboardEvent(%q, { key: %q, bubbles: true, cancelable: true })); })()`,
		sel, kind, key)
	return p.eval(expr, nil)
}

func (p *Page) Focus(ctx context.Context, el selector.Element) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	return chromedp.Run(p.ctx, chromedp.Focus(sel, chromedp.ByQuery))
}

func (p *Page) Blur(ctx context.Context, el selector.Element) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (el) el.blur(); })()`, sel)
	return p.eval(expr, nil)
}

func (p *Page) Submit(ctx context.Context, el selector.Element) error {
	sel, err := uidSelector(el)
	if err != nil {
		return err
	}
	return chromedp.Run(p.ctx, chromedp.Submit(sel, chromedp.ByQuery))
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return chromedp.Run(p.ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(agentScript, nil),
	)
}

// Element is a handle on one DOM node, identified by its claimed uid. The
// descriptive fields are a snapshot from the moment the handle was produced.
type Element struct {
	page *Page
	meta elementMeta
}

func (e *Element) TagName() string { return e.meta.Tag }

func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.meta.Attrs[name]
	return v, ok
}

func (e *Element) Classes() []string {
	return strings.Fields(e.meta.Attrs["class"])
}

func (e *Element) Text() string { return e.meta.Text }

func (e *Element) Visible() bool { return e.meta.Visible }

func (e *Element) Rect() models.Rect { return e.meta.Rect }

func (e *Element) Parent() selector.Element {
	var meta *elementMeta
	if err := e.page.evalCall(&meta, "parent", e.meta.UID); err != nil || meta == nil {
		return nil
	}
	return &Element{page: e.page, meta: *meta}
}

func (e *Element) Children() []selector.Element {
	var metas []elementMeta
	if err := e.page.evalCall(&metas, "children", e.meta.UID); err != nil {
		return nil
	}
	return e.page.wrapAll(metas)
}

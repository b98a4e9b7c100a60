package chrome

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// captureScript is the in-page recorder. It mirrors the server-side
// descriptor priority (id, test attributes, structural path, descriptive
// attributes, visible text) so events arrive with their selectors already
// computed, and relays every interaction to the backend websocket.
const captureScript = `
(() => {
  const cfg = window.__wpCaptureConfig;
  if (!cfg || window.__wpCapture) return;
  window.__wpCapture = true;

  const TEST_ATTRS = ['data-testid', 'data-cy'];
  const DESC_ATTRS = ['name', 'data-id', 'aria-label', 'placeholder', 'type', 'role'];
  const UTILITY = ['p-', 'px-', 'py-', 'pt-', 'pb-', 'pl-', 'pr-',
    'm-', 'mx-', 'my-', 'mt-', 'mb-', 'ml-', 'mr-',
    'text-', 'bg-', 'border-', 'w-', 'h-', 'flex', 'grid', 'items-',
    'justify-', 'gap-', 'rounded', 'shadow', 'font-', 'leading-',
    'tracking-', 'hover:', 'focus:', 'active:', 'sm:', 'md:', 'lg:', 'xl:'];

  const isUtility = (c) => c.includes(':') || UTILITY.some((p) => c === p || c.startsWith(p));
  const esc = (v) => v.replace(/\\/g, '\\\\').replace(/"/g, '\\"');

  const structuralPath = (el) => {
    const parts = [];
    let node = el;
    while (node && node.tagName && node.tagName !== 'BODY' && node.tagName !== 'HTML') {
      if (node !== el && node.id) {
        parts.unshift('#' + node.id);
        return parts.join(' > ');
      }
      let seg = node.tagName.toLowerCase();
      const classes = Array.from(node.classList).filter((c) => !isUtility(c)).slice(0, 2);
      for (const c of classes) seg += '.' + c;
      const parent = node.parentElement;
      if (parent) {
        const sameTag = Array.from(parent.children).filter((s) => s.tagName === node.tagName);
        if (sameTag.length > 1) seg += ':nth-child(' + (Array.from(parent.children).indexOf(node) + 1) + ')';
      }
      parts.unshift(seg);
      node = parent;
    }
    return parts.join(' > ');
  };

  const descriptors = (el) => {
    const out = [];
    if (el.id) out.push('#' + el.id);
    for (const a of TEST_ATTRS) {
      const v = el.getAttribute(a);
      if (v) out.push('[' + a + '="' + esc(v) + '"]');
    }
    const path = structuralPath(el);
    if (path) out.push(path);
    for (const a of DESC_ATTRS) {
      const v = el.getAttribute(a);
      if (v) out.push(el.tagName.toLowerCase() + '[' + a + '="' + esc(v) + '"]');
    }
    return out;
  };

  const ws = new WebSocket(cfg.wsUrl);
  const pending = [];
  ws.addEventListener('open', () => { while (pending.length) ws.send(pending.shift()); });

  const send = (event) => {
    const frame = JSON.stringify({
      type: 'RECORDED_DOM_EVENT',
      payload: { sessionId: cfg.sessionId, event: event },
    });
    if (ws.readyState === WebSocket.OPEN) ws.send(frame); else pending.push(frame);
  };

  const describeTarget = (el) => {
    const sels = descriptors(el);
    const r = el.getBoundingClientRect();
    const attrs = {};
    for (const a of DESC_ATTRS.concat(TEST_ATTRS)) {
      const v = el.getAttribute(a);
      if (v) attrs[a] = v;
    }
    const tag = el.tagName.toLowerCase();
    let text = '';
    if (tag === 'button' || tag === 'a') text = (el.textContent || '').trim().slice(0, 100);
    return {
      selector: sels[0] || '',
      fallback_selectors: sels.slice(1),
      tag_name: tag,
      text_content: text,
      attributes: attrs,
      rect: { x: r.x, y: r.y, width: r.width, height: r.height },
    };
  };

  const base = (type, e) => {
    const ev = { type: type, timestamp_ms: Date.now() };
    if (e && typeof e.clientX === 'number') {
      ev.coordinates = { x: e.clientX, y: e.clientY, page_x: e.pageX, page_y: e.pageY };
    }
    return ev;
  };

  const onPointer = (type) => (e) => {
    if (!(e.target instanceof Element)) return;
    send(Object.assign(base(type, e), describeTarget(e.target)));
  };

  document.addEventListener('click', onPointer('click'), true);
  document.addEventListener('dblclick', onPointer('dblclick'), true);
  document.addEventListener('mousedown', onPointer('mousedown'), true);
  document.addEventListener('mouseup', onPointer('mouseup'), true);
  document.addEventListener('mousemove', (e) => send(base('mousemove', e)), true);

  document.addEventListener('input', (e) => {
    if (!(e.target instanceof Element)) return;
    const ev = Object.assign(base('input', e), describeTarget(e.target));
    ev.value = e.target.value !== undefined ? String(e.target.value) : '';
    send(ev);
  }, true);
  document.addEventListener('change', (e) => {
    if (!(e.target instanceof Element)) return;
    const ev = Object.assign(base('change', e), describeTarget(e.target));
    ev.value = e.target.value !== undefined ? String(e.target.value) : '';
    send(ev);
  }, true);

  document.addEventListener('keydown', (e) => {
    if (!(e.target instanceof Element)) return;
    const ev = Object.assign(base('keydown', e), describeTarget(e.target));
    ev.key = e.key;
    send(ev);
  }, true);
  document.addEventListener('keyup', (e) => {
    if (!(e.target instanceof Element)) return;
    const ev = Object.assign(base('keyup', e), describeTarget(e.target));
    ev.key = e.key;
    send(ev);
  }, true);

  document.addEventListener('focusin', onPointer('focus'), true);
  document.addEventListener('focusout', onPointer('blur'), true);
  document.addEventListener('submit', onPointer('submit'), true);

  let scrollTimer = null;
  window.addEventListener('scroll', () => {
    if (scrollTimer) clearTimeout(scrollTimer);
    scrollTimer = setTimeout(() => {
      const ev = base('scroll', null);
      ev.scroll_x = window.scrollX;
      ev.scroll_y = window.scrollY;
      send(ev);
    }, 150);
  }, true);
})();`

// InstallCapture arms the capture script in this tab for the given session.
// It re-arms on every navigation so recording survives page loads; the
// coordinator separately restores the session counters.
func (p *Page) InstallCapture(ctx context.Context, sessionID, wsURL string) error {
	cfg, err := json.Marshal(map[string]string{"sessionId": sessionID, "wsUrl": wsURL})
	if err != nil {
		return err
	}
	bootstrap := "window.__wpCaptureConfig = " + string(cfg) + ";" + captureScript

	err = chromedp.Run(p.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bootstrap).Do(ctx)
			return err
		}),
		chromedp.Evaluate(bootstrap, nil),
	)
	if err != nil {
		return fmt.Errorf("chrome: install capture for session %s: %w", sessionID, err)
	}
	return nil
}

package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webpilot/backend/pkg/retry"
)

// ErrNotFound is returned when no strategy matched any element at all, even
// after the best-effort final pass.
var ErrNotFound = errors.New("selector: no strategy matched an element")

// Resolver turns a captured descriptor back into a live element. Strategies
// are tried in capture priority order inside a polling loop: the first
// strategy that yields a visible element wins. Once the time budget is spent,
// a final pass accepts the first match regardless of visibility.
type Resolver struct {
	page   Page
	policy retry.Policy
}

func NewResolver(page Page) *Resolver {
	return &Resolver{page: page, policy: retry.DefaultElementWait}
}

// NewResolverWithPolicy is for callers that need a tighter wait budget, such
// as tests.
func NewResolverWithPolicy(page Page, policy retry.Policy) *Resolver {
	return &Resolver{page: page, policy: policy}
}

// Resolve finds the element described by desc, waiting for it to appear and
// become visible within the retry policy's budget.
func (r *Resolver) Resolve(ctx context.Context, desc Descriptor) (Element, error) {
	var found Element

	err := r.policy.Do(ctx, func(ctx context.Context) (bool, error) {
		el, err := r.tryOnce(desc, true)
		if err != nil {
			return false, err
		}
		if el != nil {
			found = el
			return true, nil
		}
		return false, nil
	})

	if err == nil {
		return found, nil
	}
	if !errors.Is(err, retry.ErrTimeout) {
		return nil, err
	}

	// Timed out waiting for a visible match. Accept an invisible one rather
	// than failing a replay the page might still satisfy.
	el, tryErr := r.tryOnce(desc, false)
	if tryErr != nil {
		return nil, tryErr
	}
	if el != nil {
		return el, nil
	}
	return nil, fmt.Errorf("%w: primary %q, %d fallbacks", ErrNotFound, desc.Primary, len(desc.Fallbacks))
}

// tryOnce runs every strategy in order and returns the first acceptable
// element, or nil when none matched this round.
func (r *Resolver) tryOnce(desc Descriptor, requireVisible bool) (Element, error) {
	for _, sel := range desc.Strategies() {
		if sel == "" {
			continue
		}
		els, err := r.page.Query(sel)
		if err != nil {
			return nil, fmt.Errorf("selector query %q: %w", sel, err)
		}
		if el := pickFirst(els, requireVisible); el != nil {
			return el, nil
		}
	}

	if desc.TextContent != "" && desc.TagName != "" {
		el, err := r.byText(desc.TagName, desc.TextContent, requireVisible)
		if err != nil {
			return nil, err
		}
		if el != nil {
			return el, nil
		}
	}
	return nil, nil
}

// byText scans elements of the recorded tag and accepts the first whose
// trimmed text contains the recorded text. The tie-break is document order,
// not closeness of match.
func (r *Resolver) byText(tag, text string, requireVisible bool) (Element, error) {
	els, err := r.page.ElementsByTag(tag)
	if err != nil {
		return nil, fmt.Errorf("selector text scan %q: %w", tag, err)
	}
	for _, el := range els {
		if requireVisible && !el.Visible() {
			continue
		}
		if strings.Contains(strings.TrimSpace(el.Text()), text) {
			return el, nil
		}
	}
	return nil, nil
}

func pickFirst(els []Element, requireVisible bool) Element {
	for _, el := range els {
		if requireVisible && !el.Visible() {
			continue
		}
		return el
	}
	return nil
}

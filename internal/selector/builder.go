package selector

import (
	"fmt"
	"strings"
)

// Attributes that make useful standalone descriptors, in priority order.
var descriptorAttrs = []string{"name", "data-id", "aria-label", "placeholder", "type", "role"}

// Test-oriented attributes rank just below a real id.
var testAttrs = []string{"data-testid", "data-cy"}

// Class name prefixes that are layout utilities rather than stable hooks.
// Paths built from them break on the next restyle, so they are skipped.
var utilityClassPrefixes = []string{
	"p-", "px-", "py-", "pt-", "pb-", "pl-", "pr-",
	"m-", "mx-", "my-", "mt-", "mb-", "ml-", "mr-",
	"text-", "bg-", "border-", "rounded", "shadow",
	"flex", "grid", "block", "inline", "hidden",
	"w-", "h-", "min-", "max-", "gap-", "space-",
	"items-", "justify-", "font-", "leading-", "tracking-",
	"hover:", "focus:", "active:", "sm:", "md:", "lg:", "xl:",
}

const (
	maxTextFallback = 50
	maxCapturedText = 100
	maxPathClasses  = 2
)

// uidAttr is the identity attribute the page driver stamps on claimed nodes,
// stable across handle lookups.
const uidAttr = "data-wp-uid"

// BuildDescriptor inspects a live element and produces every independent way
// to re-find it, ordered from most to least stable.
func BuildDescriptor(el Element) Descriptor {
	desc := Descriptor{
		TagName:    el.TagName(),
		Attributes: notableAttributes(el),
	}

	var selectors []string

	if id, ok := el.Attr("id"); ok && id != "" {
		selectors = append(selectors, "#"+id)
	}
	for _, attr := range testAttrs {
		if v, ok := el.Attr(attr); ok && v != "" {
			selectors = append(selectors, fmt.Sprintf(`[%s="%s"]`, attr, attrEscape(v)))
		}
	}
	if path := structuralPath(el); path != "" {
		selectors = append(selectors, path)
	}
	for _, attr := range descriptorAttrs {
		if v, ok := el.Attr(attr); ok && v != "" {
			selectors = append(selectors, fmt.Sprintf(`%s[%s="%s"]`, el.TagName(), attr, attrEscape(v)))
		}
	}

	if len(selectors) > 0 {
		desc.Primary = selectors[0]
		desc.Fallbacks = selectors[1:]
	}

	if isClickableText(el.TagName()) {
		text := strings.TrimSpace(el.Text())
		if text != "" {
			if len(text) > maxTextFallback {
				text = text[:maxTextFallback]
			}
			desc.TextContent = text
		}
	}

	return desc
}

// CaptureText returns the element's trimmed visible text bounded for storage
// on the recorded event.
func CaptureText(el Element) string {
	text := strings.TrimSpace(el.Text())
	if len(text) > maxCapturedText {
		text = text[:maxCapturedText]
	}
	return text
}

func isClickableText(tag string) bool {
	return tag == "button" || tag == "a"
}

func notableAttributes(el Element) map[string]string {
	attrs := make(map[string]string)
	for _, name := range append(append([]string{}, testAttrs...), descriptorAttrs...) {
		if v, ok := el.Attr(name); ok && v != "" {
			attrs[name] = v
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// structuralPath walks from the element up to the document body, building a
// child-combinator path. An ancestor with an id anchors the path and
// terminates the walk early.
func structuralPath(el Element) string {
	var segments []string

	for node := el; node != nil; node = node.Parent() {
		tag := node.TagName()
		if tag == "body" || tag == "html" {
			break
		}

		if id, ok := node.Attr("id"); ok && id != "" {
			segments = append([]string{"#" + id}, segments...)
			return strings.Join(segments, " > ")
		}

		seg := tag
		for i, class := range stableClasses(node.Classes()) {
			if i >= maxPathClasses {
				break
			}
			seg += "." + class
		}
		if idx, collides := siblingPosition(node); collides {
			seg += fmt.Sprintf(":nth-child(%d)", idx)
		}
		segments = append([]string{seg}, segments...)
	}

	if len(segments) == 0 {
		return ""
	}
	return strings.Join(segments, " > ")
}

func stableClasses(classes []string) []string {
	var out []string
	for _, c := range classes {
		if c == "" || isUtilityClass(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isUtilityClass(class string) bool {
	if strings.Contains(class, ":") {
		return true
	}
	lower := strings.ToLower(class)
	for _, prefix := range utilityClassPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// siblingPosition returns the element's 1-based position among its element
// siblings and whether another sibling shares its tag name, which is the only
// case an nth-child qualifier is worth the brittleness.
func siblingPosition(el Element) (int, bool) {
	parent := el.Parent()
	if parent == nil {
		return 1, false
	}

	index := 0
	collides := false
	for i, sib := range parent.Children() {
		if sameNode(sib, el) {
			index = i + 1
			continue
		}
		if sib.TagName() == el.TagName() {
			collides = true
		}
	}
	return index, collides && index > 0
}

// sameNode reports whether two handles refer to the same DOM node. Live
// drivers allocate a fresh handle per lookup, so interface identity only
// holds for in-memory fixtures; claimed nodes are matched by their stable
// uid attribute instead.
func sameNode(a, b Element) bool {
	if a == b {
		return true
	}
	ua, aok := a.Attr(uidAttr)
	ub, bok := b.Attr(uidAttr)
	return aok && bok && ua == ub
}

// attrEscape keeps quoted attribute values well-formed. Full CSS.escape
// semantics are not needed for selectors we emit ourselves.
func attrEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

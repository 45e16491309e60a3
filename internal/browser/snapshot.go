// internal/browser/snapshot.go
package browser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// elementAttr is the temporary attribute used to address discovered elements.
const elementAttr = "data-director-id"

const interactiveSelectors = "a[href], button, [onclick], [role=button], [role=link], [role=tab], [role=menuitem], [role=checkbox], [role=option], input, textarea, select, summary, [tabindex='0'], [contenteditable=true]"

// snapshotScript discovers visible interactive elements, tags each with
// elementAttr and returns their descriptions in one evaluation.
const snapshotScript = `(() => {
	const selectors = %q;
	const maxElements = %d;
	const maxTextLength = %d;
	const attr = %q;

	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));

	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none' || style.opacity === '0') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	};
	const isDisabled = (el) => el.disabled || el.getAttribute('aria-disabled') === 'true';
	const keep = ['type', 'name', 'placeholder', 'aria-label', 'title', 'href', 'value', 'alt', 'role'];

	const elements = [];
	let id = 0;
	for (const el of document.querySelectorAll(selectors)) {
		if (elements.length >= maxElements) break;
		if (!isVisible(el) || isDisabled(el)) continue;

		const attributes = {};
		for (const name of keep) {
			const v = el.getAttribute(name);
			if (v) attributes[name] = v.substring(0, maxTextLength);
		}
		let text = (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
		if (text.length > maxTextLength) text = text.substring(0, maxTextLength);

		const options = [];
		if (el.tagName === 'SELECT') {
			for (const o of el.options) options.push(o.text || o.value);
		}

		id++;
		el.setAttribute(attr, String(id));
		elements.push({ id: id, tag: el.tagName.toLowerCase(), role: el.getAttribute('role') || '', text: text, attributes: attributes, options: options });
	}
	return { url: location.href, title: document.title, elements: elements };
})()`

// Element is one interactive element found on the page.
type Element struct {
	ID         int               `json:"id"`
	Tag        string            `json:"tag"`
	Role       string            `json:"role,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Options    []string          `json:"options,omitempty"`
}

// Selector addresses the element until the next snapshot.
func (e Element) Selector() string {
	return fmt.Sprintf(`[%s="%d"]`, elementAttr, e.ID)
}

// Describe renders the element as a single prompt line.
func (e Element) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] <%s", e.ID, e.Tag)
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%q", k, e.Attributes[k])
	}
	sb.WriteString(">")
	if e.Text != "" {
		fmt.Fprintf(&sb, " %q", e.Text)
	}
	if len(e.Options) > 0 {
		fmt.Fprintf(&sb, " options=%q", e.Options)
	}
	return sb.String()
}

// PageSnapshot is the page state handed to the model.
type PageSnapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
}

// Find returns the element with the given id.
func (p *PageSnapshot) Find(id int) (Element, bool) {
	for _, e := range p.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// Render lists every element, one per line.
func (p *PageSnapshot) Render() string {
	if len(p.Elements) == 0 {
		return "(no interactive elements found)"
	}
	lines := make([]string, len(p.Elements))
	for i, e := range p.Elements {
		lines[i] = e.Describe()
	}
	return strings.Join(lines, "\n")
}

func buildSnapshotScript(maxElements, maxTextLength int) string {
	return fmt.Sprintf(snapshotScript, interactiveSelectors, maxElements, maxTextLength, elementAttr)
}

var whitespaceRegex = regexp.MustCompile(`[ \t\r\f\v]+`)

// VisibleText reduces an HTML document to its readable text, one block per
// line, truncated to maxLen bytes when maxLen > 0.
func VisibleText(src string, maxLen int) (string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse page HTML: %w", err)
	}

	for _, n := range htmlquery.Find(doc, "//script|//style|//noscript|//template|//svg|//head") {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			t := strings.TrimSpace(whitespaceRegex.ReplaceAllString(n.Data, " "))
			if t != "" {
				lines = append(lines, t)
			}
			return
		}
		if n.Type == html.ElementNode {
			if alt := htmlquery.SelectAttr(n, "alt"); alt != "" && n.Data == "img" {
				lines = append(lines, "[image: "+alt+"]")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(lines, "\n")
	if maxLen > 0 && len(text) > maxLen {
		text = text[:maxLen] + "..."
	}
	return text, nil
}

// clearTagsScript removes every attribute added by the last snapshot.
var clearTagsScript = fmt.Sprintf(`document.querySelectorAll('[%[1]s]').forEach(el => el.removeAttribute('%[1]s'))`, elementAttr)

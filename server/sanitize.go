package server

import "github.com/microcosm-cc/bluemonday"

// contentPolicy is the allow-list applied to item bodies before they reach a
// client: basic formatting, tables, links and images; scripts, forms and
// frames never pass. Policies are safe for concurrent use once built.
var contentPolicy = buildContentPolicy()

func buildContentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h3", "h4", "h5", "h6", "blockquote", "p", "a", "ul", "ol",
		"nl", "li", "b", "i", "strong", "em", "strike", "code", "hr", "br", "div",
		"table", "thead", "caption", "tbody", "tr", "th", "td", "pre", "img",
	)

	p.AllowAttrs("href", "target").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("style", "title", "height", "width", "border").Globally()

	// external links open in a new tab
	p.AllowAttrs("target").OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(true)

	p.AllowStandardURLs()

	return p
}

// sanitizeContent reduces an item body to the allowed markup subset
func sanitizeContent(html string) string {
	return contentPolicy.Sanitize(html)
}

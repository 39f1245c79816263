package normalisers

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// DefaultRegistry creates a registry with the built-in normalisers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&PlaintextNormaliser{})
	r.Register(&MarkdownNormaliser{})
	r.Register(&HTMLNormaliser{})
	r.Register(&JSONNormaliser{})
	return r
}

// PlaintextNormaliser handles plain text content and other text/* types.
type PlaintextNormaliser struct{}

func (n *PlaintextNormaliser) Normalise(content string, mimeType string) string {
	return strings.TrimSpace(normaliseNewlines(content))
}

func (n *PlaintextNormaliser) SupportedTypes() []string {
	return []string{"text/plain", "text/*"}
}

func (n *PlaintextNormaliser) Priority() int {
	return 10
}

var (
	mdFence    = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	mdHeading  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdEmphasis = regexp.MustCompile(`(\*\*|__|\*|~~)(\S[^*~]*?)(\*\*|__|\*|~~)`)
	mdQuote    = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
	mdRule     = regexp.MustCompile(`(?m)^\s{0,3}([-*_]\s*){3,}$`)
)

// MarkdownNormaliser strips Markdown syntax and keeps the readable text.
type MarkdownNormaliser struct{}

func (n *MarkdownNormaliser) Normalise(content string, mimeType string) string {
	content = normaliseNewlines(content)
	content = mdFence.ReplaceAllString(content, "")
	content = mdRule.ReplaceAllString(content, "")
	content = mdHeading.ReplaceAllString(content, "")
	content = mdQuote.ReplaceAllString(content, "")
	content = mdImage.ReplaceAllString(content, "$1")
	content = mdLink.ReplaceAllString(content, "$1")
	content = mdEmphasis.ReplaceAllString(content, "$2")
	content = strings.ReplaceAll(content, "`", "")
	return collapseBlankLines(content)
}

func (n *MarkdownNormaliser) SupportedTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

func (n *MarkdownNormaliser) Priority() int {
	return 50
}

// HTMLNormaliser extracts visible text from HTML.
type HTMLNormaliser struct{}

var htmlBlockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "header": true, "footer": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
	"table": true, "ul": true, "ol": true, "title": true,
}

var htmlSkipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
}

func (n *HTMLNormaliser) Normalise(content string, mimeType string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}

	var buf bytes.Buffer
	var walk func(node *html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && htmlSkipElements[node.Data] {
			return
		}
		if node.Type == html.TextNode {
			buf.WriteString(node.Data)
		}
		block := node.Type == html.ElementNode && htmlBlockElements[node.Data]
		if block {
			buf.WriteString("\n")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			buf.WriteString("\n")
		}
	}
	walk(doc)

	lines := strings.Split(normaliseNewlines(buf.String()), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return collapseBlankLines(strings.Join(lines, "\n"))
}

func (n *HTMLNormaliser) SupportedTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

func (n *HTMLNormaliser) Priority() int {
	return 50
}

// JSONNormaliser flattens a JSON document into "path: value" lines.
// Keys are visited in sorted order so output is stable.
type JSONNormaliser struct{}

func (n *JSONNormaliser) Normalise(content string, mimeType string) string {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return ""
	}
	var lines []string
	flattenJSON("", v, &lines)
	return strings.Join(lines, "\n")
}

func flattenJSON(path string, v any, lines *[]string) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := k
			if path != "" {
				next = path + "." + k
			}
			flattenJSON(next, val[k], lines)
		}
	case []any:
		for _, item := range val {
			flattenJSON(path, item, lines)
		}
	case string:
		if s := strings.TrimSpace(val); s != "" {
			*lines = append(*lines, path+": "+s)
		}
	case nil:
	default:
		b, _ := json.Marshal(val)
		*lines = append(*lines, path+": "+string(b))
	}
}

func (n *JSONNormaliser) SupportedTypes() []string {
	return []string{"application/json", "application/ld+json"}
}

func (n *JSONNormaliser) Priority() int {
	return 20
}

func normaliseNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}

func collapseBlankLines(content string) string {
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(content)
}

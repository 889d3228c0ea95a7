package whitelist

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// textURLRe matches a plain-text URL: https?:// followed by anything except
// whitespace and common delimiters.
var textURLRe = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)

// resourceExtensions are static-asset suffixes whose URLs are noise for
// phishing analysis.
var resourceExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".ico": {}, ".bmp": {}, ".css": {}, ".js": {}, ".woff": {}, ".woff2": {},
	".ttf": {}, ".eot": {}, ".otf": {}, ".mp3": {}, ".mp4": {}, ".avi": {},
	".mov": {}, ".wmv": {}, ".flv": {}, ".webm": {}, ".pdf": {}, ".doc": {},
	".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
}

// Anchor is one <a> element: its destination and visible text.
type Anchor struct {
	Href string
	Text string
}

// ExtractTextURLs pulls URLs out of a plain-text body.
func ExtractTextURLs(text string) []string {
	return textURLRe.FindAllString(text, -1)
}

// ExtractAnchors walks an HTML body and returns every <a href> together with
// its display text. Resource references (<img>, <link>, <script>) are
// deliberately not collected.
func ExtractAnchors(htmlBody string) []Anchor {
	if strings.TrimSpace(htmlBody) == "" {
		return nil
	}
	root, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return nil
	}

	var anchors []Anchor
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if strings.EqualFold(attr.Key, "href") && strings.TrimSpace(attr.Val) != "" {
					anchors = append(anchors, Anchor{
						Href: strings.TrimSpace(attr.Val),
						Text: strings.TrimSpace(nodeText(n)),
					})
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return anchors
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// ExtractURLs unions the HTML anchor hrefs and plain-text URLs, drops
// resource URLs and de-duplicates while preserving first-seen order.
func ExtractURLs(text, htmlBody string) []string {
	var urls []string
	for _, a := range ExtractAnchors(htmlBody) {
		urls = append(urls, a.Href)
	}
	urls = append(urls, ExtractTextURLs(text)...)

	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		if IsResourceURL(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// IsResourceURL reports whether the URL path (query stripped) ends in a
// static-asset extension.
func IsResourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, resource := resourceExtensions[ext]
	return resource
}

// Hostname returns the lowercased host of a URL with any port stripped, or
// empty when the URL does not parse.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

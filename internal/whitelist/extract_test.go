package whitelist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HierarchThurs/Argus/internal/whitelist"
)

func TestExtractTextURLs(t *testing.T) {
	text := `Visit https://example.com/a?b=c and http://other.net/x. (see https://paren.io/p)`
	urls := whitelist.ExtractTextURLs(text)
	assert.Equal(t, []string{
		"https://example.com/a?b=c",
		"http://other.net/x.",
		"https://paren.io/p",
	}, urls)
}

func TestExtractAnchorsOnly(t *testing.T) {
	body := `
		<html><body>
		<a href="https://example.com/login">Log in</a>
		<a HREF='https://single.quote/x'>single</a>
		<img src="https://cdn.example.com/pic.png">
		<script src="https://cdn.example.com/app.js"></script>
		<link href="https://cdn.example.com/style.css" rel="stylesheet">
		</body></html>`

	anchors := whitelist.ExtractAnchors(body)
	require.Len(t, anchors, 2)
	assert.Equal(t, "https://example.com/login", anchors[0].Href)
	assert.Equal(t, "Log in", anchors[0].Text)
	assert.Equal(t, "https://single.quote/x", anchors[1].Href)
}

func TestExtractURLsFiltersResources(t *testing.T) {
	text := "download https://files.example.com/report.pdf or https://example.com/page"
	body := `<a href="https://example.com/logo.png">logo</a><a href="https://example.com/page">page</a>`

	urls := whitelist.ExtractURLs(text, body)
	assert.Equal(t, []string{"https://example.com/page"}, urls)
}

func TestExtractURLsDeduplicates(t *testing.T) {
	text := "https://example.com/x https://example.com/x"
	body := `<a href="https://example.com/x">x</a>`

	urls := whitelist.ExtractURLs(text, body)
	assert.Equal(t, []string{"https://example.com/x"}, urls)
}

func TestIsResourceURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://x.com/a.png", true},
		{"https://x.com/a.PNG", true},
		{"https://x.com/a.png?v=2", true},
		{"https://x.com/a.html", false},
		{"https://x.com/png", false},
		{"https://x.com/app.js", true},
		{"https://x.com/doc.docx", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, whitelist.IsResourceURL(tt.url))
		})
	}
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "example.com", whitelist.Hostname("https://EXAMPLE.com:8443/x"))
	assert.Equal(t, "", whitelist.Hostname("://bad"))
}

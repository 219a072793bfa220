package visit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/marquee/pkg/browser"
)

func TestSniffPage(t *testing.T) {
	tests := []struct {
		name     string
		state    browser.PageState
		wantHard string
		wantSoft string
	}{
		{
			name: "clean page",
			state: browser.PageState{
				URL:   "https://example.com/news",
				Title: "Front Page",
				HTML:  "<html><head><title>Front Page</title></head><body><p>All quiet today.</p></body></html>",
			},
		},
		{
			name: "404 in landed url",
			state: browser.PageState{
				URL:   "https://example.com/404",
				Title: "Oops",
				HTML:  "<html><body><p>gone</p></body></html>",
			},
			wantHard: "404",
		},
		{
			name: "error path is case insensitive",
			state: browser.PageState{
				URL:   "https://example.com/Error/denied",
				Title: "Denied",
				HTML:  "<html><body><p>nope</p></body></html>",
			},
			wantHard: "error",
		},
		{
			name: "title names the failure",
			state: browser.PageState{
				URL:   "https://example.com/press",
				Title: "Page Not Found",
				HTML:  "<html><body><p>nothing here</p></body></html>",
			},
			wantSoft: "not found",
		},
		{
			name: "body text mentions maintenance",
			state: browser.PageState{
				URL:   "https://example.com/",
				Title: "Back Soon",
				HTML:  "<html><body><p>Scheduled maintenance in progress.</p></body></html>",
			},
			wantSoft: "maintenance",
		},
		{
			name: "script and style bodies are ignored",
			state: browser.PageState{
				URL:   "https://example.com/app",
				Title: "Dashboard",
				HTML: `<html><head><style>.error { color: red }</style></head>` +
					`<body><script>console.error("boom")</script><p>all systems go</p></body></html>`,
			},
		},
		{
			name: "attributes are not text",
			state: browser.PageState{
				URL:   "https://example.com/shop",
				Title: "Shop",
				HTML:  `<html><body><div class="error-banner" data-state="unavailable">welcome</div></body></html>`,
			},
		},
		{
			name: "bad url and bad title together",
			state: browser.PageState{
				URL:   "https://example.com/404",
				Title: "404 Not Found",
				HTML:  "<html><body><p>the page does not exist</p></body></html>",
			},
			wantHard: "404",
			wantSoft: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := sniffPage(tt.state)
			assert.Equal(t, tt.wantHard, report.HardMatch)
			assert.Equal(t, tt.wantSoft, report.SoftMatch)
			assert.Equal(t, tt.wantHard != "", report.failed())
		})
	}
}

func TestVisibleText(t *testing.T) {
	markup := `<html><head><title>headline</title><script>var hidden = 1;</script></head>` +
		`<body><noscript>enable js</noscript><p>first</p><div><span>second</span></div></body></html>`

	text := visibleText(markup)
	assert.Contains(t, text, "headline")
	assert.Contains(t, text, "first")
	assert.Contains(t, text, "second")
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, "enable js")
}

package visit

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/marquee/pkg/browser"
)

// hardIndicators in the landed URL mean the server parked us on an
// error page; the visit failed no matter what rendered.
var hardIndicators = []string{"error", "404", "not found"}

// softIndicators in the title or page text are worth a warning, but
// plenty of healthy pages mention these words, so they never fail a
// visit on their own.
var softIndicators = []string{"error", "not found", "404", "unavailable", "maintenance"}

// sniffReport is the result of scanning a rendered page for error
// indicators.
type sniffReport struct {
	// HardMatch is the indicator found in the final URL, if any.
	HardMatch string
	// SoftMatch is the indicator found in the title or visible text.
	SoftMatch string
}

func (r sniffReport) failed() bool { return r.HardMatch != "" }

// sniffPage scans the landed URL, title and visible text of a page for
// signs that the site served an error instead of content.
func sniffPage(state browser.PageState) sniffReport {
	var report sniffReport

	loweredURL := strings.ToLower(state.URL)
	for _, ind := range hardIndicators {
		if strings.Contains(loweredURL, ind) {
			report.HardMatch = ind
			break
		}
	}

	haystack := strings.ToLower(state.Title + "\n" + visibleText(state.HTML))
	for _, ind := range softIndicators {
		if strings.Contains(haystack, ind) {
			report.SoftMatch = ind
			break
		}
	}
	return report
}

// visibleText extracts the text a viewer would see, dropping markup
// and script/style bodies so their contents cannot trip an indicator.
func visibleText(markup string) string {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		// The parser recovers from bad markup on its own; an error here
		// means the source could not be read at all.
		return markup
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return sb.String()
}

// File: internal/auth/signals.go
package auth

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/erpfill/internal/selectors"
)

// Evaluate applies the login success heuristics to a page snapshot. It
// returns true as soon as any configured signal matches, together with a
// short description of that signal.
func Evaluate(html, loginURL, currentURL string, sig selectors.Signals) (bool, string) {
	var doc *goquery.Document
	if strings.TrimSpace(html) != "" {
		if d, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			doc = d
		}
	}

	if doc != nil {
		for _, sel := range sig.Present {
			if doc.Find(sel).Length() > 0 {
				return true, "found " + sel
			}
		}
		if len(sig.Absent) > 0 {
			gone := true
			for _, sel := range sig.Absent {
				if doc.Find(sel).Length() > 0 {
					gone = false
					break
				}
			}
			if gone {
				return true, "login controls gone"
			}
		}
	}

	for _, p := range sig.URLContains {
		if p != "" && strings.Contains(currentURL, p) {
			return true, "url contains " + p
		}
	}
	if sig.URLChangeCounts() && currentURL != "" && loginURL != "" && normalize(currentURL) != normalize(loginURL) {
		return true, "url changed to " + currentURL
	}
	return false, "no success signal matched"
}

func normalize(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

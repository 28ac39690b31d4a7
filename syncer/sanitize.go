package syncer

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// ExcerptLength is the target excerpt size in runes.
const ExcerptLength = 300

// strippedElements never survive sanitization.
const strippedElements = "script, style, noscript, iframe, frame, frameset, object, embed, applet, " +
	"form, input, button, select, textarea, link, meta, base"

// sanitizeHTML removes executable and interactive markup and returns the
// cleaned HTML together with its plain text.
func sanitizeHTML(raw string) (string, string) {
	if strings.TrimSpace(raw) == "" {
		return "", ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", collapseSpace(raw)
	}
	doc.Find(strippedElements).Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		kept := node.Attr[:0]
		for _, attr := range node.Attr {
			name := strings.ToLower(attr.Key)
			if strings.HasPrefix(name, "on") || name == "style" {
				continue
			}
			if (name == "href" || name == "src") && strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr.Val)), "javascript:") {
				continue
			}
			kept = append(kept, attr)
		}
		node.Attr = kept
	})

	body := doc.Find("body")
	html, err := body.Html()
	if err != nil {
		html = ""
	}
	return strings.TrimSpace(html), collapseSpace(body.Text())
}

// contentText returns the plain text of sanitized HTML.
func contentText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseSpace(html)
	}
	return collapseSpace(doc.Text())
}

// firstImage returns the first <img src> in raw HTML.
func firstImage(raw string) string {
	if !strings.Contains(strings.ToLower(raw), "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		candidate, _ := s.Attr("src")
		if validURL(candidate) {
			src = strings.TrimSpace(candidate)
			return false
		}
		return true
	})
	return src
}

// excerpt trims text to about n runes, breaking at a word boundary.
func excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := n
	for i := n; i > n/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) + "..."
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

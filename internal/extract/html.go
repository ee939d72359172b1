package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// titleFromHTML is the last-ditch title source: og:title when present,
// otherwise the <title> element.
func titleFromHTML(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := strings.TrimSpace(og); t != "" {
			return t
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

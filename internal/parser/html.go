package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRun = regexp.MustCompile(`[^\S\n]+`)
	// zero-width and other invisible characters used by mailers for tracking and layout
	invisible = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}\x{FFF0}-\x{FFF8}]+`)
)

const blockElements = "p, div, br, h1, h2, h3, h4, h5, h6, tr, table, blockquote, pre, hr"

// HTMLConverter derives a plain text body from an HTML part
type HTMLConverter struct{}

// NewHTMLConverter creates a converter
func NewHTMLConverter() *HTMLConverter {
	return &HTMLConverter{}
}

// Text renders markup as plain text: one block per line, list items prefixed
// with "- " and external link targets kept next to their text.
func (c *HTMLConverter) Text(markup string) (string, error) {
	if strings.TrimSpace(markup) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, title, noscript, template").Remove()

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		label := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if label == "" || label == href {
			s.SetText(href)
			return
		}
		s.SetText(label + " (" + href + ")")
	})

	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n- ")
	})
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := invisible.ReplaceAllString(doc.Text(), "")
	text = spaceRun.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" && line != "-" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n"), nil
}

package publisher

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	markdownBold = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	htmlTag      = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)\b[^<>]*/?>`)
)

// allowedTags maps tags kept in summaries to their Telegram HTML form.
var allowedTags = map[string]string{
	"b":      "b",
	"strong": "b",
	"i":      "i",
	"em":     "i",
}

// FormatCaption renders a post as Telegram HTML.
func FormatCaption(title, summary, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(strings.TrimSpace(title)))
	if summary != "" {
		b.WriteString("\n\n")
		b.WriteString(summary)
	}
	if link != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">Read More</a>", html.EscapeString(link))
	}
	return b.String()
}

// SanitizeSummary makes model output safe for Telegram's HTML parse mode.
// Bold and italic tags survive (balanced), **markdown bold** becomes <b>,
// <br> becomes a line break, and every other tag is dropped.
func SanitizeSummary(s string) string {
	s = markdownBold.ReplaceAllString(strings.TrimSpace(s), "<b>$1</b>")

	var (
		b    strings.Builder
		open = make(map[string]bool)
		last int
	)
	for _, m := range htmlTag.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(escapeText(s[last:m[0]]))
		last = m[1]

		name := strings.ToLower(s[m[2]:m[3]])
		closing := strings.HasPrefix(s[m[0]:m[1]], "</")
		if name == "br" {
			b.WriteString("\n")
			continue
		}
		tag, ok := allowedTags[name]
		if !ok {
			continue
		}
		switch {
		case closing && open[tag]:
			b.WriteString("</" + tag + ">")
			open[tag] = false
		case !closing && !open[tag]:
			b.WriteString("<" + tag + ">")
			open[tag] = true
		}
	}
	b.WriteString(escapeText(s[last:]))

	for _, tag := range []string{"i", "b"} {
		if open[tag] {
			b.WriteString("</" + tag + ">")
		}
	}
	return strings.TrimSpace(b.String())
}

// PlainText strips every tag from a sanitized summary and unescapes entities.
func PlainText(s string) string {
	return html.UnescapeString(htmlTag.ReplaceAllString(s, ""))
}

// escapeText escapes a text run, first undoing any entities the model
// already wrote so that "&amp;" does not turn into "&amp;amp;".
func escapeText(s string) string {
	return html.EscapeString(html.UnescapeString(s))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if n == 1 {
		return string(r[:1])
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

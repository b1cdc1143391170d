package notify

import (
	"fmt"
	"strings"
	"time"
)

// renderHTML turns a message into a standalone HTML email body.
func renderHTML(m Message) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	fmt.Fprintf(&b, "h1 { font-size: 1.3em; border-left: 4px solid %s; padding-left: 10px; }\n", m.Color.Hex())
	b.WriteString("table { border-collapse: collapse; margin-top: 15px; }\n")
	b.WriteString("td { padding: 4px 12px 4px 0; }\n")
	b.WriteString("td.label { color: #7f8c8d; }\n")
	b.WriteString(".footer { margin-top: 30px; font-size: 0.9em; color: #7f8c8d; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString("td.label, .footer { color: #a0a0a0; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	fmt.Fprintf(&b, "<h1>%s</h1>\n", escapeHTML(m.Title))

	b.WriteString("<div class=\"content\">\n")
	for _, line := range strings.Split(strings.TrimRight(m.Body, "\n"), "\n") {
		b.WriteString(boldMarkers(escapeHTML(line)))
		b.WriteString("<br>\n")
	}
	b.WriteString("</div>\n")

	if len(m.Fields) > 0 {
		b.WriteString("<table>\n")
		for _, f := range m.Fields {
			fmt.Fprintf(&b, "<tr><td class=\"label\">%s</td><td>%s</td></tr>\n", escapeHTML(f.Name), escapeHTML(f.Value))
		}
		b.WriteString("</table>\n")
	}

	if !m.Timestamp.IsZero() {
		fmt.Fprintf(&b, "<div class=\"footer\">%s</div>\n", m.Timestamp.UTC().Format(time.RFC1123))
	}

	b.WriteString("</body>\n</html>")
	return b.String()
}

// boldMarkers replaces **pairs** with <strong>. An unpaired marker is left as is.
func boldMarkers(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "**")
		if start < 0 {
			break
		}
		end := strings.Index(s[start+2:], "**")
		if end < 0 {
			break
		}
		b.WriteString(s[:start])
		b.WriteString("<strong>")
		b.WriteString(s[start+2 : start+2+end])
		b.WriteString("</strong>")
		s = s[start+2+end+2:]
	}
	b.WriteString(s)
	return b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// sanitizeEmailHeader drops CR, LF and other control characters so a value
// cannot start a new header.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// emailSubject prefixes the title so timetable mails are easy to filter.
func emailSubject(m Message) string {
	return sanitizeEmailHeader("[WebUntis] " + m.Title)
}

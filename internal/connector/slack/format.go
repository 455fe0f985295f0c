package slackconn

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reRule    = regexp.MustCompile(`^\s*-{3,}\s*$`)
	reHeading = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
)

// MarkdownToMrkdwn converts the Markdown used in bot messages to Slack's
// mrkdwn. Code fences pass through untouched.
func MarkdownToMrkdwn(md string) string {
	lines := strings.Split(md, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		switch {
		case reRule.MatchString(line):
			line = "──────────"
		case reHeading.MatchString(line):
			line = "**" + reHeading.FindStringSubmatch(line)[1] + "**"
		}
		line = convertEmphasis(line)
		line = strings.ReplaceAll(line, "~~", "~")
		lines[i] = convertLinks(line)
	}
	return strings.Join(lines, "\n")
}

// convertEmphasis maps **bold** to *bold* and *italic* to _italic_,
// leaving inline code alone.
func convertEmphasis(s string) string {
	var b strings.Builder
	inCode := false
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case ch == '`':
			inCode = !inCode
			b.WriteByte(ch)
		case ch == '*' && !inCode && i+1 < len(s) && s[i+1] == '*':
			b.WriteByte('*')
			i++
		case ch == '*' && !inCode:
			b.WriteByte('_')
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// convertLinks converts [text](url) to <url|text>.
func convertLinks(s string) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(s, '[')
		if open < 0 {
			break
		}
		mid := strings.Index(s[open:], "](")
		if mid < 0 {
			break
		}
		mid += open
		end := strings.IndexByte(s[mid:], ')')
		if end < 0 {
			break
		}
		end += mid
		b.WriteString(s[:open])
		fmt.Fprintf(&b, "<%s|%s>", s[mid+2:end], s[open+1:mid])
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

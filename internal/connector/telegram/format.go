package telegram

import (
	"regexp"
	"strings"
)

var (
	// Code spans are handled before emphasis so their contents stay literal.
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic     = regexp.MustCompile(`\*(.+?)\*`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reRule       = regexp.MustCompile(`^\s*-{3,}\s*$`)
	reBullet     = regexp.MustCompile(`^(\s*)[-*] `)
	reHeading    = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
	reFence      = regexp.MustCompile("```[\\s\\S]*?```")
)

// MarkdownToTelegramHTML converts the Markdown used in bot messages to
// Telegram's HTML subset. Headings become bold lines, rules become a
// line of box characters and list dashes become bullets.
func MarkdownToTelegramHTML(md string) string {
	lines := strings.Split(md, "\n")
	out := make([]string, 0, len(lines))
	inFence := false

	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			if inFence {
				out = append(out, "</code></pre>")
			} else if lang := strings.TrimSpace(strings.TrimPrefix(line, "```")); lang != "" {
				out = append(out, `<pre><code class="language-`+escapeHTML(lang)+`">`)
			} else {
				out = append(out, "<pre><code>")
			}
			inFence = !inFence
			continue
		}
		if inFence {
			out = append(out, escapeHTML(line))
			continue
		}
		out = append(out, convertLine(line))
	}
	if inFence {
		out = append(out, "</code></pre>")
	}
	return joinFenced(out)
}

// joinFenced joins lines with newlines but keeps fence tags glued to the
// code they wrap.
func joinFenced(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		b.WriteString(l)
		if i == len(lines)-1 {
			break
		}
		if strings.HasPrefix(l, "<pre><code") || strings.HasPrefix(lines[i+1], "</code></pre>") {
			continue
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func convertLine(line string) string {
	if reRule.MatchString(line) {
		return "──────────"
	}
	if m := reHeading.FindStringSubmatch(line); m != nil {
		return "<b>" + inline(m[1]) + "</b>"
	}
	line = reBullet.ReplaceAllString(line, "$1• ")
	return inline(line)
}

func inline(line string) string {
	var spans []string
	line = reInlineCode.ReplaceAllStringFunc(line, func(match string) string {
		inner := reInlineCode.FindStringSubmatch(match)[1]
		spans = append(spans, "<code>"+escapeHTML(inner)+"</code>")
		return "\x00" + string(rune('A'+len(spans)-1)) + "\x00"
	})

	line = escapeHTML(line)
	line = reBold.ReplaceAllString(line, "<b>$1</b>")
	line = reItalic.ReplaceAllString(line, "<i>$1</i>")
	line = reLink.ReplaceAllString(line, `<a href="$2">$1</a>`)

	for i, s := range spans {
		line = strings.Replace(line, "\x00"+string(rune('A'+i))+"\x00", s, 1)
	}
	return line
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// StripMarkdown removes Markdown formatting, returning plain text.
func StripMarkdown(md string) string {
	result := reFence.ReplaceAllStringFunc(md, func(match string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(match, "```"), "```")
		if idx := strings.Index(inner, "\n"); idx >= 0 {
			inner = inner[idx+1:]
		}
		return inner
	})
	result = reInlineCode.ReplaceAllString(result, "$1")
	result = reBold.ReplaceAllString(result, "$1")
	result = reItalic.ReplaceAllString(result, "$1")
	result = reLink.ReplaceAllString(result, "$1 ($2)")
	return result
}

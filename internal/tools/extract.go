package tools

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Regexes shared by the HTML extractors. Tag matching stays regex-based
// on purpose: fetched pages only need a readable approximation, not a DOM.
var (
	stripBlockRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[\s\S]*?</script>`),
		regexp.MustCompile(`(?is)<style[\s\S]*?</style>`),
		regexp.MustCompile(`<!--[\s\S]*?-->`),
		regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`),
		regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`),
	}
	pageHeaderRe = regexp.MustCompile(`(?is)<header[\s\S]*?</header>`)

	headingRe   = regexp.MustCompile(`(?i)<h([1-6])[^>]*>([\s\S]*?)</h[1-6]>`)
	paraRe      = regexp.MustCompile(`(?i)<p[^>]*>([\s\S]*?)</p>`)
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	listItemRe  = regexp.MustCompile(`(?i)<li[^>]*>([\s\S]*?)</li>`)
	anchorRe    = regexp.MustCompile(`(?i)<a[^>]*href="([^"]*)"[^>]*>([\s\S]*?)</a>`)
	preBlockRe  = regexp.MustCompile(`(?is)<pre[^>]*>([\s\S]*?)</pre>`)
	inlineRe    = regexp.MustCompile(`(?i)<code[^>]*>([\s\S]*?)</code>`)
	boldRe      = regexp.MustCompile(`(?i)<(?:strong|b)[^>]*>([\s\S]*?)</(?:strong|b)>`)
	italicRe    = regexp.MustCompile(`(?i)<(?:em|i)[^>]*>([\s\S]*?)</(?:em|i)>`)
	quoteRe     = regexp.MustCompile(`(?is)<blockquote[^>]*>([\s\S]*?)</blockquote>`)
	imgAltRe    = regexp.MustCompile(`(?i)<img[^>]*alt="([^"]*)"[^>]*/?>`)
	anyTagRe    = regexp.MustCompile(`<[^>]+>`)

	blankRunsRe = regexp.MustCompile(`\n{3,}`)
	spaceRunsRe = regexp.MustCompile(`[ \t]{2,}`)

	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeRe    = regexp.MustCompile("`[^`]+`")
	mdImageRe   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
)

// extractJSON pretty-prints a JSON body, falling back to the raw bytes
// when parsing fails. Returns the text and the extractor label.
func extractJSON(body []byte) (string, string) {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body), "raw"
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return string(body), "raw"
	}
	return string(pretty), "json"
}

func stripNonContent(html string, dropHeader bool) string {
	s := html
	for _, re := range stripBlockRes {
		s = re.ReplaceAllString(s, "")
	}
	if dropHeader {
		s = pageHeaderRe.ReplaceAllString(s, "")
	}
	return s
}

// htmlToMarkdown renders HTML as approximate markdown. The <header>
// element survives here because page titles often live inside it.
func htmlToMarkdown(html string) string {
	s := stripNonContent(html, false)

	s = headingRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := headingRe.FindStringSubmatch(m)
		level := int(parts[1][0] - '0')
		return "\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(parts[2]) + "\n"
	})

	s = preBlockRe.ReplaceAllString(s, "\n```\n$1\n```\n")
	s = inlineRe.ReplaceAllString(s, "`$1`")

	s = quoteRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := quoteRe.FindStringSubmatch(m)
		if len(parts) < 2 {
			return m
		}
		var quoted []string
		for _, line := range strings.Split(strings.TrimSpace(parts[1]), "\n") {
			quoted = append(quoted, "> "+strings.TrimSpace(line))
		}
		return "\n" + strings.Join(quoted, "\n") + "\n"
	})

	s = imgAltRe.ReplaceAllString(s, "![$1]")
	s = anchorRe.ReplaceAllString(s, "[$2]($1)")
	s = boldRe.ReplaceAllString(s, "**$1**")
	s = italicRe.ReplaceAllString(s, "*$1*")
	s = paraRe.ReplaceAllString(s, "\n$1\n")
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = listItemRe.ReplaceAllString(s, "\n- $1")
	s = anyTagRe.ReplaceAllString(s, "")

	s = decodeHTMLEntities(s)
	s = blankRunsRe.ReplaceAllString(s, "\n\n")
	s = spaceRunsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// htmlToText flattens HTML to plain text, one line per block.
func htmlToText(html string) string {
	s := stripNonContent(html, true)

	s = paraRe.ReplaceAllString(s, "\n$1\n")
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = listItemRe.ReplaceAllString(s, "\n- $1")
	s = anyTagRe.ReplaceAllString(s, "")

	s = decodeHTMLEntities(s)
	s = spaceRunsRe.ReplaceAllString(s, " ")
	s = blankRunsRe.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// markdownToText strips markdown syntax, keeping link and image labels.
// Images go first so their labels are not mangled by the link pass.
func markdownToText(md string) string {
	s := mdHeadingRe.ReplaceAllString(md, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = mdCodeRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Trim(m, "`")
	})
	s = mdImageRe.ReplaceAllString(s, "$1")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = blankRunsRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var htmlEntityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&mdash;", "\u2014",
	"&ndash;", "\u2013",
	"&laquo;", "\u00ab",
	"&raquo;", "\u00bb",
	"&bull;", "\u2022",
	"&hellip;", "...",
	"&copy;", "(c)",
	"&reg;", "(R)",
	"&trade;", "(TM)",
)

func decodeHTMLEntities(s string) string {
	return htmlEntityReplacer.Replace(s)
}

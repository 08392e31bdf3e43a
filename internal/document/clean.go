package document

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	reHTMLComment = regexp.MustCompile(`\s*<!--.*?-->\s*`)
	reCoords      = regexp.MustCompile(`\s*\(l=[\d.]+,t=[\d.]+,r=[\d.]+,b=[\d.]+\)\s*`)
	reWithID      = regexp.MustCompile(`\s*with ID [a-f0-9-]+\s*`)
	reEmptyCell   = regexp.MustCompile(`<td>\[\s*\]</td>`)
	reNA          = regexp.MustCompile(`(?i)^N/?A$`)
	reWhitespace  = regexp.MustCompile(`\s+`)

	tagStripper = bluemonday.StrictPolicy()
)

// cleanValue strips grounding annotations the extraction service leaves in
// markdown values.
func cleanValue(v string) string {
	if v == "" {
		return ""
	}
	v = reHTMLComment.ReplaceAllString(v, " ")
	v = reCoords.ReplaceAllString(v, " ")
	v = reWithID.ReplaceAllString(v, " ")
	v = strings.NewReplacer("<!--", "", "-->", "").Replace(v)
	v = reEmptyCell.ReplaceAllString(v, "N/A")
	if strings.ContainsRune(v, '<') {
		v = html.UnescapeString(tagStripper.Sanitize(v))
	}
	v = strings.TrimSpace(reWhitespace.ReplaceAllString(v, " "))
	if reNA.MatchString(v) || v == "[ ]" || v == "[]" {
		return "N/A"
	}
	return v
}

// checkbox captures a box such as [x], [X], [✓] or an empty [ ].
const checkbox = `(\[[^\[\]]?\])`

var (
	filledWords = `(?:checked|ticked|selected|marked)`
	tickGlyphs  = `[✓✔√]`
)

// patternCache holds compiled expressions. Terms and labels come from fixed
// tables, so the cache stays small.
var patternCache sync.Map

func compiled(expr string) *regexp.Regexp {
	if re, ok := patternCache.Load(expr); ok {
		return re.(*regexp.Regexp)
	}
	re, _ := patternCache.LoadOrStore(expr, regexp.MustCompile(expr))
	return re.(*regexp.Regexp)
}

// termPattern makes hyphens and whitespace in term interchangeable and
// accepts a trailing plural "s", so "Fit with Restriction" also matches
// "Fit with Restrictions".
func termPattern(term string) string {
	parts := strings.FieldsFunc(term, func(r rune) bool { return r == '-' || r == ' ' || r == '\t' })
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `[-\s]+`) + `s?`
}

func ticked(box string) bool {
	return strings.TrimSpace(strings.Trim(box, "[]")) != ""
}

// isChecked reports whether term sits next to a ticked checkbox. The box
// following the term on the same line wins; a table cell after it comes next,
// and a box in front of the term is only used when neither exists. Phrases in
// mask are blanked out first so "Fit with Restriction [x]" is not read as FIT.
func isChecked(markdown, term string, mask ...string) bool {
	if markdown == "" || term == "" {
		return false
	}
	for _, m := range mask {
		markdown = compiled(`(?i)`+termPattern(m)).ReplaceAllString(markdown, "~")
	}
	t := termPattern(term)
	for _, p := range []string{
		`(?i)\b` + t + `\b[^\n\[]*?` + checkbox,
		`(?i)<td>[^<]*\b` + t + `\b[^<]*</td>\s*<td>` + checkbox + `</td>`,
		`(?i)` + checkbox + `[^\n\[]*?\b` + t + `\b`,
	} {
		matches := compiled(p).FindAllStringSubmatch(markdown, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			if ticked(m[1]) {
				return true
			}
		}
		return false
	}
	for _, p := range []string{
		`(?i)\b` + t + `\b[^\n]*?\b` + filledWords + `\b`,
		`(?i)\b` + filledWords + `\b[^\n]*?\b` + t + `\b`,
		`(?i)\b` + t + `\b[^\n]*?` + tickGlyphs,
	} {
		if compiled(p).MatchString(markdown) {
			return true
		}
	}
	return false
}

package textclean

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reTimestamp  = regexp.MustCompile(`\d+:\d+`)
	reBrackets   = regexp.MustCompile(`\[.*?\]`)
	reParens     = regexp.MustCompile(`\(.*?\)`)
	reTags       = regexp.MustCompile(`<.*?>`)
)

var quoteReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
	"\u201c", `"`, "\u201d", `"`,
	"\u2018", "'", "\u2019", "'",
)

func NormalizeSpace(text string) string {
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Transcript strips caption noise: timestamps, [Music]-style cues,
// parentheticals, stray tags and stuttered repeats.
func Transcript(text string) string {
	text = NormalizeSpace(text)
	text = reTimestamp.ReplaceAllString(text, "")
	text = reBrackets.ReplaceAllString(text, "")
	text = reParens.ReplaceAllString(text, "")
	text = reTags.ReplaceAllString(text, "")
	text = CollapseRepeatedWords(text)
	return NormalizeSpace(text)
}

// Article normalizes typography and drops every match of the boilerplate
// patterns.
func Article(text string, boilerplate []*regexp.Regexp) string {
	text = quoteReplacer.Replace(text)
	text = NormalizeSpace(text)
	for _, re := range boilerplate {
		text = re.ReplaceAllString(text, "")
	}
	return NormalizeSpace(text)
}

// CompileBoilerplate compiles patterns case-insensitively. Bad patterns
// are reported, not skipped.
func CompileBoilerplate(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// CollapseRepeatedWords turns "the the the cat" into "the cat". Only
// whole words separated by whitespace are merged, and case must match.
func CollapseRepeatedWords(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return text
	}
	out := fields[:1]
	for _, f := range fields[1:] {
		if f == out[len(out)-1] && isWord(f) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func isWord(s string) bool {
	for _, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return false
		}
	}
	return s != ""
}

// Truncate caps text at max runes, marking the cut with "...".
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "..."
}

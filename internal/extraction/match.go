package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const windowRunes = 80

// valueTrim is stripped from both ends of keyword-only values.
const valueTrim = " \t:：-=＝・"

// window is the text following one keyword occurrence: the rest of that
// line plus the next one.
type window struct {
	keyword string
	text    string
}

// keywordWindows returns the windows after every occurrence of every keyword,
// keywords in configured order and occurrences in text order. Matching is
// case-insensitive.
func keywordWindows(text string, keywords []string) []window {
	var out []window
	for _, kw := range keywords {
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(kw))
		if err != nil {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			out = append(out, window{keyword: kw, text: windowAt(text, loc[1])})
		}
	}
	return out
}

func windowAt(text string, start int) string {
	rest := text[start:]
	end := len(rest)
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		end = nl + 1
		if nl2 := strings.IndexByte(rest[end:], '\n'); nl2 >= 0 {
			end += nl2
		}
	}
	return truncateRunes(rest[:end], windowRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// regexValue returns the first match of re in s: group 1 when re has groups,
// the whole match otherwise.
func regexValue(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	v := m[0]
	if re.NumSubexp() > 0 {
		v = m[1]
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// keywordValue is the remainder of the keyword's line, or the next line when
// the keyword ends its line.
func keywordValue(w window) (string, bool) {
	for _, line := range strings.SplitN(w.text, "\n", 2) {
		if v := strings.Trim(line, valueTrim+"\r"); v != "" {
			return v, true
		}
	}
	return "", false
}

// distinct keeps the first occurrence of each value.
func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

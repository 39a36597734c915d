// Package postprocess extracts business entities from consensus text.
// It never rewrites the text itself.
package postprocess

import (
	"regexp"
	"strings"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

var (
	reEmail     = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	rePhoneIntl = regexp.MustCompile(`\+\d{1,3}[\s-]?\(?\d{1,4}\)?[\s-]?\d{1,4}[\s-]?\d{1,4}`)
	// domestic numbers must be separated, otherwise every amount is a phone
	rePhoneLocal = regexp.MustCompile(`\d{2,4}-\d{2,4}-\d{3,4}`)
)

// entityPatterns holds one language's patterns.
type entityPatterns struct {
	companies []*regexp.Regexp
	dates     []*regexp.Regexp
	amounts   []*regexp.Regexp
	addresses []*regexp.Regexp
	// addressContext is the number of runes kept on each side of an address hit
	addressContext int
}

var patterns = map[string]entityPatterns{
	"jpn": {
		companies: []*regexp.Regexp{
			regexp.MustCompile(`株式会社[ 　]?[^\s・（(]{1,20}`),
			regexp.MustCompile(`合同会社[ 　]?[^\s・（(]{1,20}`),
			regexp.MustCompile(`有限会社[ 　]?[^\s・（(]{1,20}`),
			regexp.MustCompile(`[^\s・（(]{1,20}[ 　]?株式会社`),
		},
		dates: []*regexp.Regexp{
			regexp.MustCompile(`(?:令和|平成|昭和)\s*\d{1,2}\s*年\s*\d{1,2}\s*月\s*\d{1,2}\s*日`),
			regexp.MustCompile(`\d{4}年\d{1,2}月\d{1,2}日`),
			regexp.MustCompile(`\d{4}/\d{1,2}/\d{1,2}`),
		},
		amounts: []*regexp.Regexp{
			regexp.MustCompile(`[¥￥]\s*\d{1,3}(?:,\d{3})*(?:\.\d+)?`),
			regexp.MustCompile(`\d{1,3}(?:,\d{3})*(?:\.\d+)?\s*円`),
		},
		addresses: []*regexp.Regexp{
			regexp.MustCompile(`〒\s*\d{3}-\d{4}`),
			regexp.MustCompile(`(?:東京都|北海道|(?:京都|大阪)府|[^\s]{2,3}県)`),
		},
		addressContext: 30,
	},
	"kor": {
		companies: []*regexp.Regexp{
			regexp.MustCompile(`\(주\) *[^\s]{1,20}`),
			regexp.MustCompile(`[^\s]{1,20} *\(주\)`),
			regexp.MustCompile(`주식회사 *[^\s]{1,20}`),
			regexp.MustCompile(`[^\s]{1,20} *주식회사`),
		},
		dates: []*regexp.Regexp{
			regexp.MustCompile(`\d{4}년\s*\d{1,2}월\s*\d{1,2}일`),
			regexp.MustCompile(`\d{4}[-.]\d{1,2}[-.]\d{1,2}`),
		},
		amounts: []*regexp.Regexp{
			regexp.MustCompile(`₩\s*\d{1,3}(?:,\d{3})*(?:\.\d+)?`),
			regexp.MustCompile(`\d{1,3}(?:,\d{3})*(?:\.\d+)?\s*원`),
		},
	},
	"eng": {
		companies: []*regexp.Regexp{
			regexp.MustCompile(`[A-Z][a-zA-Z0-9&]*(?:[ ,]+[A-Z][a-zA-Z0-9&]*){0,4}\s+(?:Inc|Corp|LLC|Ltd|LLP|Limited|Corporation)\.?`),
			regexp.MustCompile(`[A-Z][a-zA-Z0-9&]*(?: [A-Z][a-zA-Z0-9&]*){0,4}\s+Company`),
		},
		dates: []*regexp.Regexp{
			regexp.MustCompile(`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},\s+\d{4}`),
			regexp.MustCompile(`\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{4}`),
			regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
			regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`),
		},
		amounts: []*regexp.Regexp{
			regexp.MustCompile(`\$\s*\d{1,3}(?:,\d{3})*(?:\.\d+)?`),
			regexp.MustCompile(`USD\s*\d{1,3}(?:,\d{3})*(?:\.\d+)?`),
		},
	},
}

// ExtractEntities finds companies, dates, amounts, addresses, emails and
// phone numbers in text. Language-specific patterns apply for jpn, kor and
// eng; emails and phones are found for every language. Values are unique
// and kept in order of first appearance.
func ExtractEntities(text, language string) *model.Entities {
	e := &model.Entities{
		Companies: []string{},
		Dates:     []string{},
		Amounts:   []string{},
		Persons:   []string{},
		Addresses: []string{},
		Emails:    []string{},
		Phones:    []string{},
	}
	if strings.TrimSpace(text) == "" {
		return e
	}

	e.Emails = findAll(text, reEmail)
	e.Phones = findAll(text, rePhoneIntl, rePhoneLocal)

	p, ok := patterns[language]
	if !ok {
		return e
	}
	e.Companies = trimAll(findAll(text, p.companies...))
	e.Dates = findAll(text, p.dates...)
	e.Amounts = findAll(text, p.amounts...)
	e.Addresses = addressesIn(text, p)
	return e
}

func findAll(text string, res ...*regexp.Regexp) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, re := range res {
		for _, m := range re.FindAllString(text, -1) {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func trimAll(values []string) []string {
	for i, v := range values {
		values[i] = strings.Trim(v, " ,")
	}
	return values
}

// addressesIn returns each address hit together with its surrounding line
// context, clipped to addressContext runes on either side.
func addressesIn(text string, p entityPatterns) []string {
	if p.addressContext == 0 {
		return []string{}
	}
	out := []string{}
	seen := make(map[string]bool)
	for _, re := range p.addresses {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			before := []rune(text[:loc[0]])
			after := []rune(text[loc[1]:])
			if i := lastIndexRune(before, '\n'); i >= 0 {
				before = before[i+1:]
			}
			if i := indexRune(after, '\n'); i >= 0 {
				after = after[:i]
			}
			if len(before) > p.addressContext {
				before = before[len(before)-p.addressContext:]
			}
			if len(after) > p.addressContext {
				after = after[:p.addressContext]
			}
			addr := strings.TrimSpace(string(before) + text[loc[0]:loc[1]] + string(after))
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func indexRune(rs []rune, r rune) int {
	for i, c := range rs {
		if c == r {
			return i
		}
	}
	return -1
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

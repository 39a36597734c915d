package model

import (
	"strings"
	"unicode"
)

var languageCodes = map[string]string{
	"ja":      "jpn",
	"jp":      "jpn",
	"jpn":     "jpn",
	"en":      "eng",
	"eng":     "eng",
	"ko":      "kor",
	"kr":      "kor",
	"kor":     "kor",
	"zh":      "chi_sim",
	"zh-cn":   "chi_sim",
	"zh-hans": "chi_sim",
	"chi_sim": "chi_sim",
	"zh-tw":   "chi_tra",
	"zh-hant": "chi_tra",
	"chi_tra": "chi_tra",
}

// NormalizeLanguage maps ISO and Tesseract style codes onto Tesseract codes.
// "auto" and "" normalize to "" (detect).
func NormalizeLanguage(code string) (string, bool) {
	c := strings.ToLower(strings.TrimSpace(code))
	c = strings.ReplaceAll(c, "_", "-")
	switch c {
	case "", "auto":
		return "", true
	case "chi-sim":
		return "chi_sim", true
	case "chi-tra":
		return "chi_tra", true
	}
	if v, ok := languageCodes[c]; ok {
		return v, true
	}
	// BCP-47 with a region, e.g. ja-JP or en-US
	if i := strings.IndexByte(c, '-'); i > 0 {
		if v, ok := languageCodes[c[:i]]; ok {
			return v, true
		}
	}
	return "", false
}

// GuessLanguage picks a Tesseract language code from the dominant script of text.
// Kana decides Japanese even when Han characters outnumber it.
func GuessLanguage(text string) string {
	var kana, hangul, han, latin int
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Han, r):
			han++
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			latin++
		}
	}
	switch {
	case kana == 0 && hangul == 0 && han == 0 && latin == 0:
		return ""
	case kana > 0 && kana*5 >= han && kana >= hangul:
		return "jpn"
	case hangul > 0 && hangul >= han && hangul >= latin/2:
		return "kor"
	case han > 0 && han >= latin/2:
		if kana > 0 {
			return "jpn"
		}
		return "chi_sim"
	}
	return "eng"
}

package postprocess

import (
	"reflect"
	"testing"
)

func TestExtractEntitiesJapanese(t *testing.T) {
	text := "請求書\n株式会社山田商事 御中\n発行日 2024年3月15日\n〒100-0001 東京都千代田区千代田1-1\n" +
		"合計金額 ¥12,800\n消費税 1,280円\nTEL 03-1234-5678\nmail: billing@yamada.co.jp"

	e := ExtractEntities(text, "jpn")

	checks := []struct {
		name string
		got  []string
		want []string
	}{
		{"companies", e.Companies, []string{"株式会社山田商事"}},
		{"dates", e.Dates, []string{"2024年3月15日"}},
		{"amounts", e.Amounts, []string{"¥12,800", "1,280円"}},
		{"emails", e.Emails, []string{"billing@yamada.co.jp"}},
		{"phones", e.Phones, []string{"03-1234-5678"}},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if !reflect.DeepEqual(c.got, c.want) {
				t.Errorf("got %q, want %q", c.got, c.want)
			}
		})
	}

	if len(e.Addresses) == 0 || e.Addresses[0] != "〒100-0001 東京都千代田区千代田1-1" {
		t.Errorf("addresses = %q", e.Addresses)
	}
}

func TestExtractEntitiesKorean(t *testing.T) {
	text := "(주)한빛소프트\n발행일 2024년 3월 5일\n금액 ₩1,500,000\n부가세 150,000원"
	e := ExtractEntities(text, "kor")

	if len(e.Companies) == 0 || e.Companies[0] != "(주)한빛소프트" {
		t.Errorf("companies = %q", e.Companies)
	}
	if !reflect.DeepEqual(e.Dates, []string{"2024년 3월 5일"}) {
		t.Errorf("dates = %q", e.Dates)
	}
	if !reflect.DeepEqual(e.Amounts, []string{"₩1,500,000", "150,000원"}) {
		t.Errorf("amounts = %q", e.Amounts)
	}
}

func TestExtractEntitiesEnglish(t *testing.T) {
	text := "Invoice from Acme Widgets Inc. dated Mar 3, 2024\nTotal: $1,234.50 (USD 1,234.50)\nCall +1 (555) 123-4567"
	e := ExtractEntities(text, "eng")

	if !reflect.DeepEqual(e.Companies, []string{"Acme Widgets Inc."}) {
		t.Errorf("companies = %q", e.Companies)
	}
	if !reflect.DeepEqual(e.Dates, []string{"Mar 3, 2024"}) {
		t.Errorf("dates = %q", e.Dates)
	}
	if !reflect.DeepEqual(e.Amounts, []string{"$1,234.50", "USD 1,234.50"}) {
		t.Errorf("amounts = %q", e.Amounts)
	}
	if len(e.Phones) != 1 {
		t.Errorf("phones = %q", e.Phones)
	}
}

func TestExtractEntitiesDeduplicates(t *testing.T) {
	e := ExtractEntities("a@b.io and again a@b.io", "chi_sim")
	if !reflect.DeepEqual(e.Emails, []string{"a@b.io"}) {
		t.Errorf("emails = %q", e.Emails)
	}
	if len(e.Companies) != 0 || e.Companies == nil {
		t.Errorf("unknown languages only get the shared patterns, got %q", e.Companies)
	}
}

func TestExtractEntitiesEmptyText(t *testing.T) {
	e := ExtractEntities("  ", "jpn")
	if e.Emails == nil || len(e.Emails) != 0 {
		t.Errorf("empty text should give empty, non-nil lists")
	}
}

package model

import (
	"encoding/json"
	"strings"
	"time"
)

// FieldType is the value type of a FieldSpec
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldDate    FieldType = "date"
	FieldAmount  FieldType = "amount"
	FieldCompany FieldType = "company"
	FieldNumber  FieldType = "number"
	FieldEmail   FieldType = "email"
	FieldPhone   FieldType = "phone"
	FieldAddress FieldType = "address"
)

// KnownFieldType reports whether t is one of the declared types.
func KnownFieldType(t FieldType) bool {
	switch t {
	case FieldText, FieldDate, FieldAmount, FieldCompany, FieldNumber, FieldEmail, FieldPhone, FieldAddress:
		return true
	}
	return false
}

// Keywords accepts either a JSON array or a '|' separated string.
type Keywords []string

func (k *Keywords) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*k = cleanKeywords(list)
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	*k = cleanKeywords(strings.Split(joined, "|"))
	return nil
}

func cleanKeywords(in []string) Keywords {
	out := make(Keywords, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FieldSpec declares one structured field to extract
type FieldSpec struct {
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Context Keywords  `json:"context,omitempty"`
	Regex   string    `json:"regex,omitempty"`
}

// FieldConfig is an immutable, versioned list of FieldSpecs.
// Writers build a new FieldConfig and swap it in whole.
type FieldConfig struct {
	Version   int64       `json:"version"`
	Fields    []FieldSpec `json:"fields"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Names returns the field names in configured order.
func (c *FieldConfig) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldSource records how a value was resolved
type FieldSource string

const (
	SourceRegex   FieldSource = "regex"
	SourceKeyword FieldSource = "keyword"
	SourceLLM     FieldSource = "llm"
)

// ExtractionResult is the output of one extraction task
type ExtractionResult struct {
	Fields           map[string]string      `json:"fields"`
	Confidence       map[string]float64     `json:"confidence"`
	Sources          map[string]FieldSource `json:"sources"`
	Language         string                 `json:"language"`
	ConfigVersion    int64                  `json:"configVersion"`
	ProcessingTimeMs int64                  `json:"processingTimeMs"`
}

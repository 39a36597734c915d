package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/llm"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

var typeHints = map[model.FieldType]string{
	model.FieldDate:    "a date formatted as YYYY-MM-DD",
	model.FieldAmount:  "a number without currency symbols or thousands separators",
	model.FieldCompany: "the full company name including its legal form (株式会社, (주), Inc. ...)",
	model.FieldNumber:  "a number or identifier exactly as printed",
	model.FieldEmail:   "an email address",
	model.FieldPhone:   "a phone number as printed",
	model.FieldAddress: "a postal address on one line",
	model.FieldText:    "short text as printed",
}

var replySchema = map[string]any{
	"type":     "object",
	"required": []string{"value", "confidence"},
	"properties": map[string]any{
		"value":      map[string]any{"type": []string{"string", "number", "null"}},
		"confidence": map[string]any{"type": "number"},
	},
}

func compileReplySchema() (*jsonschema.Schema, error) {
	return llm.CompileSchema(replySchema)
}

type prompt struct {
	spec       model.FieldSpec
	language   string
	text       string
	candidates []string
}

func (p prompt) render(budget int) string {
	var sb strings.Builder
	sb.WriteString("Extract one field from the OCR text of a business document.\n")
	fmt.Fprintf(&sb, "Field: %s\n", p.spec.Name)
	fmt.Fprintf(&sb, "Type: %s\n", p.spec.Type)
	if hint, ok := typeHints[p.spec.Type]; ok {
		fmt.Fprintf(&sb, "Format: %s\n", hint)
	}
	if len(p.spec.Context) > 0 {
		fmt.Fprintf(&sb, "Usually labelled: %s\n", strings.Join(p.spec.Context, ", "))
	}
	if p.language != "" {
		fmt.Fprintf(&sb, "Document language: %s\n", p.language)
	}
	if len(p.candidates) > 0 {
		sb.WriteString("Candidates found next to the labels:\n")
		for _, c := range p.candidates {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("Pick the candidate that is the field's value and return it exactly as written.\n")
	}
	sb.WriteString(`Reply with JSON only: {"value": "<value>", "confidence": <0..1>}. ` +
		`If the document does not contain the field reply {"value": null, "confidence": 0}.` + "\n")
	sb.WriteString("\nDocument text:\n\"\"\"\n")
	text := p.text
	if budget > 0 && len([]rune(text)) > budget {
		text = truncateRunes(text, budget) + "\n[truncated]"
	}
	sb.WriteString(text)
	sb.WriteString("\n\"\"\"\n")
	return sb.String()
}

type reply struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// parseReply validates raw against the reply schema. ok is false when the
// model reported the field as absent.
func parseReply(schema *jsonschema.Schema, raw string) (value string, confidence float64, ok bool, err error) {
	raw = llm.StripFences(raw)
	if err := llm.ValidateJSON(schema, []byte(raw)); err != nil {
		return "", 0, false, err
	}
	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return "", 0, false, err
	}

	switch v := r.Value.(type) {
	case string:
		value = strings.TrimSpace(v)
	case float64:
		value = strconv.FormatFloat(v, 'f', -1, 64)
	}
	confidence = clamp01(r.Confidence)
	if value == "" || confidence <= 0 {
		return "", 0, false, nil
	}
	return value, confidence, true, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/llm"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// DefaultFields is the configuration used when no fields file exists.
func DefaultFields() []model.FieldSpec {
	return []model.FieldSpec{
		{Name: "invoice_number", Type: model.FieldText, Context: model.Keywords{"請求書番号", "請求番号", "インボイス番号", "청구서 번호", "송장 번호", "Invoice No", "Invoice Number"}},
		{Name: "issue_date", Type: model.FieldDate, Context: model.Keywords{"発行日", "請求日", "日付", "발행일", "청구일", "Issue Date", "Invoice Date", "Date"}},
		{Name: "company_name", Type: model.FieldCompany, Context: model.Keywords{"会社名", "御中", "회사명", "상호", "Company", "Bill To"}},
		{Name: "total_amount", Type: model.FieldAmount, Context: model.Keywords{"合計", "総額", "請求金額", "총액", "합계", "Total"}, Regex: `([¥￥₩$]?\s*[\d,\.]+\s*[円원]?)`},
		{Name: "tax_amount", Type: model.FieldAmount, Context: model.Keywords{"消費税", "税額", "부가세", "세액", "Tax", "VAT"}, Regex: `([¥￥₩$]?\s*[\d,\.]+\s*[円원]?)`},
	}
}

var fieldsSchema = map[string]any{
	"$defs": map[string]any{
		"spec": map[string]any{
			"type":     "object",
			"required": []string{"name", "type"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string", "minLength": 1},
				"type": map[string]any{"enum": []string{
					string(model.FieldText), string(model.FieldDate), string(model.FieldAmount), string(model.FieldCompany),
					string(model.FieldNumber), string(model.FieldEmail), string(model.FieldPhone), string(model.FieldAddress),
				}},
				"context": map[string]any{"oneOf": []any{
					map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					map[string]any{"type": "string"},
					map[string]any{"type": "null"},
				}},
				"regex": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		"list": map[string]any{"type": "array", "items": map[string]any{"$ref": "#/$defs/spec"}},
	},
	"oneOf": []any{
		map[string]any{"$ref": "#/$defs/list"},
		map[string]any{
			"type":     "object",
			"required": []string{"fields"},
			"properties": map[string]any{
				"version":   map[string]any{"type": "integer"},
				"fields":    map[string]any{"$ref": "#/$defs/list"},
				"updatedAt": map[string]any{"type": "string"},
			},
		},
	},
}

// Registry holds the current FieldConfig. Readers get an immutable snapshot;
// writers replace the whole config.
type Registry struct {
	path    string
	schema  *jsonschema.Schema
	logger  *logging.Logger
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[model.FieldConfig]
}

// NewRegistry loads the config at path, falling back to DefaultFields when
// the file does not exist. An empty path keeps the config in memory only.
func NewRegistry(path string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	schema, err := llm.CompileSchema(fieldsSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling fields schema: %w", err)
	}
	r := &Registry{path: path, schema: schema, logger: logger}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			cfg, err := r.decode(data)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", path, err)
			}
			if cfg.Version <= 0 {
				cfg.Version = 1
			}
			r.current.Store(cfg)
			logger.Info("Loaded field config", "path", path, "version", cfg.Version, "fields", len(cfg.Fields))
			return r, nil
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	r.current.Store(&model.FieldConfig{Version: 1, Fields: DefaultFields(), UpdatedAt: time.Now().UTC()})
	return r, nil
}

// Current returns the active config. Callers must not modify it.
func (r *Registry) Current() *model.FieldConfig {
	return r.current.Load()
}

// Replace validates specs and swaps them in as a new version. It returns the
// config it installed.
func (r *Registry) Replace(specs []model.FieldSpec) (*model.FieldConfig, error) {
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := &model.FieldConfig{
		Version:   r.current.Load().Version + 1,
		Fields:    cloneSpecs(specs),
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.persist(next); err != nil {
		return nil, errors.NewStorageFailedError("", fmt.Errorf("persisting field config: %w", err))
	}
	r.current.Store(next)
	r.logger.Info("Field config replaced", "version", next.Version, "fields", len(next.Fields))
	return next, nil
}

// ReplaceJSON accepts a JSON array of specs, or an object with a "fields"
// array, and applies it with Replace.
func (r *Registry) ReplaceJSON(data []byte) (*model.FieldConfig, error) {
	cfg, err := r.decode(data)
	if err != nil {
		return nil, err
	}
	return r.Replace(cfg.Fields)
}

func (r *Registry) decode(data []byte) (*model.FieldConfig, error) {
	if err := llm.ValidateJSON(r.schema, data); err != nil {
		return nil, errors.NewValidationError("invalid field config", map[string]interface{}{"error": err.Error()})
	}
	var cfg model.FieldConfig
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &cfg.Fields); err != nil {
			return nil, errors.NewValidationError("invalid field config", map[string]interface{}{"error": err.Error()})
		}
	} else if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, errors.NewValidationError("invalid field config", map[string]interface{}{"error": err.Error()})
	}
	if err := validateSpecs(cfg.Fields); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Registry) persist(cfg *model.FieldConfig) error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".fields-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

func validateSpecs(specs []model.FieldSpec) error {
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		switch {
		case s.Name == "":
			return errors.NewValidationError("field name is required", map[string]interface{}{"index": i})
		case seen[s.Name]:
			return errors.NewValidationError("duplicate field name", map[string]interface{}{"field": s.Name})
		case !model.KnownFieldType(s.Type):
			return errors.NewValidationError("unknown field type", map[string]interface{}{"field": s.Name, "type": string(s.Type)})
		}
		if s.Regex != "" {
			if _, err := regexp.Compile(s.Regex); err != nil {
				return errors.NewValidationError("invalid field regex", map[string]interface{}{"field": s.Name, "error": err.Error()})
			}
		}
		seen[s.Name] = true
	}
	return nil
}

func cloneSpecs(specs []model.FieldSpec) []model.FieldSpec {
	out := make([]model.FieldSpec, len(specs))
	for i, s := range specs {
		s.Context = append(model.Keywords(nil), s.Context...)
		out[i] = s
	}
	return out
}

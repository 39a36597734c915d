package ensemble

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/engine"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

type fakeEngine struct {
	name       string
	text       string
	confidence float64
	language   string
	err        error
	// block ignores the context and sleeps, like a provider that never checks it
	block time.Duration
	calls atomic.Int32
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Recognize(ctx context.Context, page model.PageImage, hint string) (*model.EngineResult, error) {
	f.calls.Add(1)
	if f.block > 0 {
		time.Sleep(f.block)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.EngineResult{Text: f.text, Confidence: f.confidence, Language: f.language}, nil
}

func members(pairs ...interface{}) []engine.Weighted {
	var out []engine.Weighted
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, engine.Weighted{Engine: pairs[i].(engine.Engine), Weight: pairs[i+1].(float64)})
	}
	return out
}

func defaultConfig() Config {
	return Config{EngineTimeout: time.Second, ConfidenceThreshold: 0.85, DefaultLanguage: "jpn"}
}

var page = model.PageImage{Index: 0, PageNumber: 1}

func TestRecognizeTextResolution(t *testing.T) {
	tests := []struct {
		name      string
		engines   []engine.Weighted
		wantText  string
		wantConf  float64
		wantBelow bool
	}{
		{
			name: "only one engine clears the threshold",
			engines: members(
				&fakeEngine{name: "custom_model", text: "custom", confidence: 0.92}, 0.5,
				&fakeEngine{name: "tesseract", text: "tess", confidence: 0.80}, 0.2,
				&fakeEngine{name: "google_vision", text: "vision", confidence: 0.60}, 0.2,
			),
			wantText: "custom",
			wantConf: 0.92,
		},
		{
			name: "weight beats raw confidence",
			engines: members(
				&fakeEngine{name: "custom_model", text: "custom", confidence: 0.86}, 0.5,
				&fakeEngine{name: "tesseract", text: "tess", confidence: 0.99}, 0.2,
			),
			wantText: "custom",
			wantConf: 0.86,
		},
		{
			name: "equal weighted scores go to the earlier engine",
			engines: members(
				&fakeEngine{name: "google_vision", text: "vision", confidence: 0.9}, 0.2,
				&fakeEngine{name: "tesseract", text: "tess", confidence: 0.9}, 0.2,
			),
			wantText: "vision",
			wantConf: 0.9,
		},
		{
			name: "nothing clears the threshold",
			engines: members(
				&fakeEngine{name: "custom_model", text: "custom", confidence: 0.70}, 0.5,
				&fakeEngine{name: "tesseract", text: "tess", confidence: 0.75}, 0.2,
			),
			wantText:  "tess",
			wantConf:  0.75,
			wantBelow: true,
		},
		{
			name: "below threshold ties go to the earlier engine",
			engines: members(
				&fakeEngine{name: "custom_model", text: "custom", confidence: 0.5}, 0.1,
				&fakeEngine{name: "tesseract", text: "tess", confidence: 0.5}, 0.9,
			),
			wantText:  "custom",
			wantConf:  0.5,
			wantBelow: true,
		},
		{
			name: "zero weight engines can still win the fallback",
			engines: members(
				&fakeEngine{name: "azure_form", text: "azure", confidence: 0.4}, 0.0,
			),
			wantText:  "azure",
			wantConf:  0.4,
			wantBelow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.engines, defaultConfig(), nil, nil)
			res, err := e.Recognize(context.Background(), page, "")
			if err != nil {
				t.Fatalf("Recognize() error = %v", err)
			}
			if res.Status != model.PageSuccess {
				t.Errorf("status = %s", res.Status)
			}
			if res.Text != tt.wantText || res.Confidence != tt.wantConf || res.BelowThreshold != tt.wantBelow {
				t.Errorf("got text=%q conf=%v below=%v, want %q %v %v",
					res.Text, res.Confidence, res.BelowThreshold, tt.wantText, tt.wantConf, tt.wantBelow)
			}
			if len(res.EngineResults) != len(tt.engines) {
				t.Errorf("kept %d engine results, want %d", len(res.EngineResults), len(tt.engines))
			}
		})
	}
}

func TestFailedEnginesAreExcludedButRecorded(t *testing.T) {
	e := New(members(
		&fakeEngine{name: "custom_model", err: fmt.Errorf("connection refused")}, 0.5,
		&fakeEngine{name: "tesseract", text: "tess", confidence: 0.9}, 0.2,
	), defaultConfig(), nil, nil)

	res, err := e.Recognize(context.Background(), page, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ConsensusEngine != "tesseract" {
		t.Errorf("consensus engine = %q", res.ConsensusEngine)
	}
	failed := res.EngineResults["custom_model"]
	if !strings.Contains(failed.Error, "connection refused") {
		t.Errorf("failure not recorded: %+v", failed)
	}
}

func TestSlowEngineIsAbandoned(t *testing.T) {
	slow := &fakeEngine{name: "google_vision", text: "late", confidence: 0.99, block: 2 * time.Second}
	cfg := defaultConfig()
	cfg.EngineTimeout = 50 * time.Millisecond

	e := New(members(
		slow, 0.9,
		&fakeEngine{name: "tesseract", text: "tess", confidence: 0.9}, 0.2,
	), cfg, nil, nil)

	start := time.Now()
	res, err := e.Recognize(context.Background(), page, "")
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ensemble waited %v for a slow engine", elapsed)
	}
	if res.Text != "tess" {
		t.Errorf("text = %q, the slow engine must not take part", res.Text)
	}
	if !strings.Contains(res.EngineResults["google_vision"].Error, string(errors.ErrorEngineTimeout)) {
		t.Errorf("slow engine should be recorded as timed out: %+v", res.EngineResults["google_vision"])
	}
}

func TestPageFailsWithoutUsableResults(t *testing.T) {
	e := New(members(
		&fakeEngine{name: "custom_model", err: fmt.Errorf("boom")}, 0.5,
		&fakeEngine{name: "tesseract", text: "", confidence: 0.9}, 0.2,
	), defaultConfig(), nil, nil)

	res, err := e.Recognize(context.Background(), page, "")
	if errors.CodeOf(err) != errors.ErrorPageFailed {
		t.Fatalf("err = %v, want PAGE_FAILED", err)
	}
	if res.Status != model.PageFailed || res.Text != "" || res.Confidence != 0 {
		t.Errorf("failed page = %+v", res)
	}
	if len(res.EngineResults) != 2 {
		t.Errorf("engine results should still be kept for audit")
	}
}

func TestLanguageResolution(t *testing.T) {
	tests := []struct {
		name    string
		engines []engine.Weighted
		hint    string
		want    string
	}{
		{
			name: "majority",
			engines: members(
				&fakeEngine{name: "a", text: "x", confidence: 0.9, language: "eng"}, 1.0,
				&fakeEngine{name: "b", text: "x", confidence: 0.5, language: "jpn"}, 1.0,
				&fakeEngine{name: "c", text: "x", confidence: 0.5, language: "ja"}, 1.0,
			),
			want: "jpn",
		},
		{
			name: "tie goes to the most confident engine",
			engines: members(
				&fakeEngine{name: "a", text: "x", confidence: 0.6, language: "jpn"}, 1.0,
				&fakeEngine{name: "b", text: "x", confidence: 0.95, language: "kor"}, 1.0,
			),
			want: "kor",
		},
		{
			name: "failed engines do not vote",
			engines: members(
				&fakeEngine{name: "a", text: "x", confidence: 0.6, language: "eng"}, 1.0,
				&fakeEngine{name: "b", err: fmt.Errorf("down"), language: "jpn"}, 1.0,
			),
			want: "eng",
		},
		{
			name: "hint when nobody detects a language",
			engines: members(
				&fakeEngine{name: "a", text: "x", confidence: 0.6}, 1.0,
			),
			hint: "kor",
			want: "kor",
		},
		{
			name: "default as last resort",
			engines: members(
				&fakeEngine{name: "a", text: "x", confidence: 0.6}, 1.0,
			),
			want: "jpn",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.engines, defaultConfig(), nil, nil)
			res, err := e.Recognize(context.Background(), page, tt.hint)
			if err != nil {
				t.Fatal(err)
			}
			if res.Language != tt.want {
				t.Errorf("language = %q, want %q", res.Language, tt.want)
			}
		})
	}
}

type recordingAnnotator struct{ text string }

func (a *recordingAnnotator) Annotate(ctx context.Context, p model.PageImage, text string) model.SpecialItems {
	a.text = text
	return model.SpecialItems{HasTable: true}
}

func TestAnnotatorSeesConsensusText(t *testing.T) {
	ann := &recordingAnnotator{}
	e := New(members(&fakeEngine{name: "tesseract", text: "a|b|c", confidence: 0.9}, 1.0), defaultConfig(), ann, nil)

	res, err := e.Recognize(context.Background(), page, "")
	if err != nil {
		t.Fatal(err)
	}
	if ann.text != "a|b|c" || !res.SpecialItems.HasTable {
		t.Errorf("annotator not composed in: %q %+v", ann.text, res.SpecialItems)
	}
	if res.Text != "a|b|c" {
		t.Errorf("annotation must not change the text")
	}
}

func TestEnginesRunConcurrently(t *testing.T) {
	a := &fakeEngine{name: "a", text: "a", confidence: 0.9, block: 200 * time.Millisecond}
	b := &fakeEngine{name: "b", text: "b", confidence: 0.9, block: 200 * time.Millisecond}
	c := &fakeEngine{name: "c", text: "c", confidence: 0.9, block: 200 * time.Millisecond}
	e := New(members(a, 1.0, b, 1.0, c, 1.0), defaultConfig(), nil, nil)

	start := time.Now()
	if _, err := e.Recognize(context.Background(), page, ""); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("engines ran sequentially: %v", elapsed)
	}
	for _, f := range []*fakeEngine{a, b, c} {
		if f.calls.Load() != 1 {
			t.Errorf("engine %s called %d times", f.name, f.calls.Load())
		}
	}
}

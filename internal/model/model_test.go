package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTaskTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskState
		ok       bool
	}{
		{TaskQueued, TaskRunning, true},
		{TaskQueued, TaskFailed, true},
		{TaskQueued, TaskDone, false},
		{TaskRunning, TaskDone, true},
		{TaskRunning, TaskFailed, true},
		{TaskDone, TaskFailed, false},
		{TaskFailed, TaskRunning, false},
		{TaskDone, TaskDone, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			task := &Task{ID: "t1", State: tt.from}
			err := task.Transition(tt.to, time.Now())
			if tt.ok && err != nil {
				t.Fatalf("expected transition to succeed: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected transition to be rejected")
			}
		})
	}
}

func TestTransitionStampsTimes(t *testing.T) {
	task := &Task{ID: "t1", State: TaskQueued}
	now := time.Now()
	if err := task.Transition(TaskRunning, now); err != nil {
		t.Fatal(err)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(now) {
		t.Errorf("StartedAt not stamped")
	}
	if err := task.Transition(TaskDone, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if task.CompletedAt == nil {
		t.Errorf("CompletedAt not stamped")
	}
	if got := task.State.PublicStatus(); got != "completed" {
		t.Errorf("PublicStatus = %q", got)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"ja":      "jpn",
		"JA-jp":   "jpn",
		"en":      "eng",
		"ko":      "kor",
		"zh":      "chi_sim",
		"zh-TW":   "chi_tra",
		"chi_sim": "chi_sim",
		"auto":    "",
		"":        "",
	}
	for in, want := range tests {
		got, ok := NormalizeLanguage(in)
		if !ok || got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := NormalizeLanguage("klingon"); ok {
		t.Errorf("unknown language accepted")
	}
}

func TestKeywordsAcceptPipeSeparatedString(t *testing.T) {
	var spec FieldSpec
	raw := `{"name":"total_amount","type":"amount","context":"총액| 合計 |"}`
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatal(err)
	}
	if len(spec.Context) != 2 || spec.Context[0] != "총액" || spec.Context[1] != "合計" {
		t.Errorf("Context = %#v", spec.Context)
	}

	raw = `{"name":"date","type":"date","context":["発行日","Date"]}`
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatal(err)
	}
	if len(spec.Context) != 2 {
		t.Errorf("Context = %#v", spec.Context)
	}
}

func TestBoundingBoxUnion(t *testing.T) {
	a := BoundingBox{X: 10, Y: 10, Width: 10, Height: 10}
	b := BoundingBox{X: 30, Y: 5, Width: 5, Height: 5}
	got := a.Union(b)
	want := BoundingBox{X: 10, Y: 5, Width: 25, Height: 15}
	if got != want {
		t.Errorf("Union = %+v, want %+v", got, want)
	}
	if (BoundingBox{}).Union(a) != a {
		t.Errorf("union with empty box should return the other box")
	}
}

func TestGuessLanguage(t *testing.T) {
	tests := []struct {
		name, text, want string
	}{
		{"japanese with kana", "請求書の合計金額です", "jpn"},
		{"korean", "총액 금액 합계", "kor"},
		{"english", "Invoice total amount", "eng"},
		{"chinese", "发票总金额", "chi_sim"},
		{"digits only", "12345", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GuessLanguage(tt.text); got != tt.want {
				t.Errorf("GuessLanguage(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// newTestClassifier builds a rules-only classifier and wires the given
// completion stub as its model stage.
func newTestClassifier(t *testing.T, complete func(ctx context.Context, prompt string) (string, error)) *Classifier {
	t.Helper()
	c, err := NewClassifier(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}
	c.complete = complete
	return c
}

func modelOf(blocks ...domain.Block) *domain.ParsedModel {
	return &domain.ParsedModel{Blocks: blocks}
}

func TestClassifyRulesOnly(t *testing.T) {
	c, err := NewClassifier(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}
	defer c.Close()

	model := modelOf(
		paragraphBlock(1, "All material in this pack is Confidential."),
		paragraphBlock(2, "The quarterly review meeting covered staffing and facilities."),
	)

	labels, err := c.Classify(context.Background(), model)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(labels) != 2 {
		t.Fatalf("got %d labels, want 2", len(labels))
	}

	if labels[0].Method != domain.ClassifiedByRule || labels[0].Type != domain.SectionStatic {
		t.Errorf("labels[0] = %s/%s, want rule/STATIC", labels[0].Method, labels[0].Type)
	}
	if labels[1].Method != domain.ClassifiedByFallback || labels[1].Confidence != 0.5 {
		t.Errorf("labels[1] = %s/%v, want fallback/0.5", labels[1].Method, labels[1].Confidence)
	}
	for i := range labels {
		if labels[i].Path != model.Blocks[i].Path {
			t.Errorf("labels[%d].Path = %s, want %s", i, labels[i].Path, model.Blocks[i].Path)
		}
	}
}

func TestClassifyConsultsModelWhenRulesInconclusive(t *testing.T) {
	var calls int
	var gotPrompt string
	c := newTestClassifier(t, func(ctx context.Context, prompt string) (string, error) {
		calls++
		gotPrompt = prompt
		return `{"classification": "DYNAMIC", "confidence": 0.91, "reasoning": "names a specific attendee"}`, nil
	})

	ambiguous := "The quarterly review meeting covered staffing and facilities."
	model := modelOf(
		paragraphBlock(1, "All material in this pack is Confidential."),
		paragraphBlock(2, ambiguous),
	)

	labels, err := c.Classify(context.Background(), model)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("model invoked %d times, want 1 (rule-confident blocks skip it)", calls)
	}

	got := labels[1]
	if got.Type != domain.SectionDynamic || got.Confidence != 0.91 {
		t.Errorf("label = %s/%v, want DYNAMIC/0.91", got.Type, got.Confidence)
	}
	if got.Method != domain.ClassifiedByLLM {
		t.Errorf("method = %s, want %s", got.Method, domain.ClassifiedByLLM)
	}
	if got.Justification != "LLM-assisted: names a specific attendee" {
		t.Errorf("justification = %q", got.Justification)
	}

	for _, want := range []string{"BLOCK TYPE: paragraph", ambiguous, `"position_in_document": 1`, `"total_blocks": 2`} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestClassifyModelBelowThresholdFallsBack(t *testing.T) {
	c := newTestClassifier(t, func(ctx context.Context, prompt string) (string, error) {
		return `{"classification": "DYNAMIC", "confidence": 0.6, "reasoning": "unsure"}`, nil
	})

	model := modelOf(paragraphBlock(1, "The quarterly review meeting covered staffing and facilities."))
	labels, err := c.Classify(context.Background(), model)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if labels[0].Method != domain.ClassifiedByFallback {
		t.Errorf("method = %s, want %s", labels[0].Method, domain.ClassifiedByFallback)
	}
	if labels[0].Type != domain.SectionStatic || labels[0].Confidence != 0.5 {
		t.Errorf("label = %s/%v, want STATIC/0.5", labels[0].Type, labels[0].Confidence)
	}
}

func TestClassifyModelErrorFallsBack(t *testing.T) {
	c := newTestClassifier(t, func(ctx context.Context, prompt string) (string, error) {
		return "", fmt.Errorf("rate limited")
	})

	model := modelOf(
		paragraphBlock(1, "The quarterly review meeting covered staffing and facilities."),
		paragraphBlock(2, "Dear [Client], welcome aboard."),
	)
	labels, err := c.Classify(context.Background(), model)
	if err != nil {
		t.Fatalf("Classify() error = %v (a per-block model failure must not fail the batch)", err)
	}
	if labels[0].Method != domain.ClassifiedByFallback {
		t.Errorf("labels[0].Method = %s, want %s", labels[0].Method, domain.ClassifiedByFallback)
	}
	if labels[1].Method != domain.ClassifiedByRule {
		t.Errorf("labels[1].Method = %s, want %s", labels[1].Method, domain.ClassifiedByRule)
	}
}

func TestClassifyParsesFencedVerdict(t *testing.T) {
	c := newTestClassifier(t, func(ctx context.Context, prompt string) (string, error) {
		return "```json\n{\"classification\": \"static\", \"confidence\": 0.93, \"reasoning\": \"fixed wording\"}\n```", nil
	})

	model := modelOf(paragraphBlock(1, "The quarterly review meeting covered staffing and facilities."))
	labels, err := c.Classify(context.Background(), model)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if labels[0].Type != domain.SectionStatic || labels[0].Confidence != 0.93 {
		t.Errorf("label = %s/%v, want STATIC/0.93", labels[0].Type, labels[0].Confidence)
	}
	if labels[0].Method != domain.ClassifiedByLLM {
		t.Errorf("method = %s, want %s", labels[0].Method, domain.ClassifiedByLLM)
	}
}

func TestClassifyCustomThreshold(t *testing.T) {
	c, err := NewClassifier(context.Background(), Config{Threshold: 0.7})
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}

	model := modelOf(headingBlock(1, 1, "Introduction and Background Material"))
	labels, err := c.Classify(context.Background(), model)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if labels[0].Method != domain.ClassifiedByRule || labels[0].Confidence != 0.70 {
		t.Errorf("label = %s/%v, want rule/0.70 at threshold 0.7", labels[0].Method, labels[0].Confidence)
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	c, err := NewClassifier(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Classify(ctx, modelOf(paragraphBlock(1, "Notes")))
	if !errors.Is(err, domain.ErrClassify) {
		t.Fatalf("Classify() error = %v, want ErrClassify", err)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    verdict
		wantErr bool
	}{
		{
			name: "plain JSON",
			raw:  `{"classification": "STATIC", "confidence": 0.9, "reasoning": "boilerplate"}`,
			want: verdict{Type: domain.SectionStatic, Confidence: 0.9, Reasoning: "boilerplate"},
		},
		{
			name: "lowercase classification",
			raw:  `{"classification": "dynamic", "confidence": 0.8, "reasoning": "dates"}`,
			want: verdict{Type: domain.SectionDynamic, Confidence: 0.8, Reasoning: "dates"},
		},
		{
			name: "confidence clamped",
			raw:  `{"classification": "STATIC", "confidence": 1.4, "reasoning": "sure"}`,
			want: verdict{Type: domain.SectionStatic, Confidence: 1, Reasoning: "sure"},
		},
		{
			name: "missing reasoning",
			raw:  `{"classification": "STATIC", "confidence": 0.9}`,
			want: verdict{Type: domain.SectionStatic, Confidence: 0.9, Reasoning: "No reasoning provided"},
		},
		{
			name: "surrounding prose",
			raw:  "Here is my answer:\n{\"classification\": \"STATIC\", \"confidence\": 0.9, \"reasoning\": \"ok\"}\nDone.",
			want: verdict{Type: domain.SectionStatic, Confidence: 0.9, Reasoning: "ok"},
		},
		{name: "no JSON object", raw: "STATIC, very sure", wantErr: true},
		{name: "unknown classification", raw: `{"classification": "MAYBE", "confidence": 0.9}`, wantErr: true},
		{name: "malformed JSON", raw: `{"classification": "STATIC",`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseVerdict(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseVerdict(%q) = %+v, want error", tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVerdict(%q) error = %v", tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("parseVerdict(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

package profile

import (
	"context"
	"strings"
	"testing"

	"github.com/hitoshi/kindred/internal/model"
)

func TestService_CreatePrompt(t *testing.T) {
	f := newFixture()

	p, err := f.svc.CreatePrompt(context.Background(), "u1", " My ideal Sunday ", "<i>Hiking</i> then ramen")
	if err != nil {
		t.Fatalf("CreatePrompt error: %v", err)
	}
	if p.Question != "My ideal Sunday" || p.Answer != "Hiking then ramen" {
		t.Errorf("prompt = %+v", p)
	}
	if p.Order != 1 {
		t.Errorf("Order = %d, want 1", p.Order)
	}
}

func TestService_CreatePrompt_Validation(t *testing.T) {
	tests := []struct {
		name     string
		question string
		answer   string
	}{
		{"empty question", "", "a"},
		{"empty answer", "q", "   "},
		{"tags only", "q", "<script>x</script>"},
		{"too long", "q", strings.Repeat("a", maxPromptLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.CreatePrompt(context.Background(), "u1", tt.question, tt.answer)
			if apiErrorCode(err) != model.ErrCodeInvalidInput {
				t.Errorf("error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

// TestService_CreatePrompt_Limit は4件目のプロンプトが拒否されることを検証する。
func TestService_CreatePrompt_Limit(t *testing.T) {
	f := newFixture()
	for i := 0; i < model.RequiredPromptCount; i++ {
		if _, err := f.svc.CreatePrompt(context.Background(), "u1", "q", "a"); err != nil {
			t.Fatalf("CreatePrompt %d error: %v", i, err)
		}
	}

	_, err := f.svc.CreatePrompt(context.Background(), "u1", "q", "a")
	if apiErrorCode(err) != model.ErrCodePromptLimit {
		t.Errorf("error = %v, want PROMPT_LIMIT", err)
	}
}

func TestService_UpdateAndDeletePrompt(t *testing.T) {
	f := newFixture()
	_, _ = f.svc.CreatePrompt(context.Background(), "u1", "q", "a")

	if err := f.svc.UpdatePrompt(context.Background(), "u1", 1, "q2", "a2"); err != nil {
		t.Fatalf("UpdatePrompt error: %v", err)
	}
	prompts, _ := f.svc.ListPrompts(context.Background(), "u1")
	if prompts[0].Question != "q2" || prompts[0].Answer != "a2" {
		t.Errorf("prompt = %+v", prompts[0])
	}

	if err := f.svc.UpdatePrompt(context.Background(), "u1", 9, "q", "a"); apiErrorCode(err) != model.ErrCodePromptNotFound {
		t.Errorf("update missing error = %v, want PROMPT_NOT_FOUND", err)
	}

	if err := f.svc.DeletePrompt(context.Background(), "u1", 1); err != nil {
		t.Fatalf("DeletePrompt error: %v", err)
	}
	if err := f.svc.DeletePrompt(context.Background(), "u1", 1); apiErrorCode(err) != model.ErrCodePromptNotFound {
		t.Errorf("delete missing error = %v, want PROMPT_NOT_FOUND", err)
	}
}

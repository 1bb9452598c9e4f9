package profile

import (
	"context"
	"fmt"

	"github.com/hitoshi/kindred/internal/model"
)

// maxPromptLength はプロンプトの質問と回答の最大文字数。
const maxPromptLength = 500

// ListPrompts はプロンプトを表示順で返す。
func (s *Service) ListPrompts(ctx context.Context, userID string) ([]model.Prompt, error) {
	prompts, err := s.prompts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	return prompts, nil
}

// CreatePrompt はプロンプトを末尾に追加する。
func (s *Service) CreatePrompt(ctx context.Context, userID, question, answer string) (*model.Prompt, error) {
	question, answer, err := s.cleanPrompt(question, answer)
	if err != nil {
		return nil, err
	}

	count, err := s.prompts.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count prompts: %w", err)
	}
	if count >= model.RequiredPromptCount {
		return nil, model.NewPromptLimitError()
	}

	p := &model.Prompt{UserID: userID, Question: question, Answer: answer}
	if err := s.prompts.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}
	return p, nil
}

// UpdatePrompt は表示順で指定したプロンプトを書き換える。
func (s *Service) UpdatePrompt(ctx context.Context, userID string, order int, question, answer string) error {
	question, answer, err := s.cleanPrompt(question, answer)
	if err != nil {
		return err
	}

	ok, err := s.prompts.UpdateByOrder(ctx, userID, order, question, answer)
	if err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	if !ok {
		return model.NewPromptNotFoundError(order)
	}
	return nil
}

// DeletePrompt は表示順で指定したプロンプトを削除する。
func (s *Service) DeletePrompt(ctx context.Context, userID string, order int) error {
	ok, err := s.prompts.DeleteByOrder(ctx, userID, order)
	if err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	if !ok {
		return model.NewPromptNotFoundError(order)
	}
	return nil
}

func (s *Service) cleanPrompt(question, answer string) (string, string, error) {
	question = s.sanitizer.Sanitize(question)
	answer = s.sanitizer.Sanitize(answer)

	if question == "" {
		return "", "", model.NewInvalidInputError("Question is required")
	}
	if answer == "" {
		return "", "", model.NewInvalidInputError("Answer is required")
	}
	if len([]rune(question)) > maxPromptLength || len([]rune(answer)) > maxPromptLength {
		return "", "", model.NewInvalidInputError(fmt.Sprintf("Prompts are limited to %d characters", maxPromptLength))
	}
	return question, answer, nil
}

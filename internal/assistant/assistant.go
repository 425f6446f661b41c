// Package assistant provides the generative-AI collaborator behind the /ai
// command. The service never fails outward: backend errors resolve to an
// apology string and a missing configuration resolves to a labeled stub, so
// the composer's prompt echo is never rolled back.
package assistant

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/config"
)

// Service answers free-form prompts with response text.
type Service interface {
	// Ask returns the assistant's response to prompt. It never returns an
	// error: failures resolve to user-facing substitute text.
	Ask(ctx context.Context, prompt string) string
}

const (
	systemPrompt = "You are a helpful assistant in a chat app. Keep your response concise and conversational."

	errorReply = "Sorry, I encountered an error while trying to respond."
)

// New builds the assistant from configuration. Without credentials it
// returns the disabled stub rather than an error, so the chat works in
// builds that have no AI backend.
func New(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (Service, error) {
	if !cfg.Enabled() {
		logger.Warn().Msg("assistant credentials not configured, using disabled stub")
		return Disabled{}, nil
	}

	var maxTokens *int
	if cfg.MaxTokens > 0 {
		v := cfg.MaxTokens
		maxTokens = &v
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   cfg.BaseURL,
		Region:    cfg.Region,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	tpl := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &llm{chain: runnable, log: logger}, nil
}

type llm struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	log   *zerolog.Logger
}

func (s *llm) Ask(ctx context.Context, promptText string) string {
	response, err := s.chain.Invoke(ctx, map[string]any{
		"system": systemPrompt,
		"query":  promptText,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("assistant call failed")
		return errorReply
	}

	s.log.Debug().Int("length", len(response.Content)).Msg("assistant response generated")
	return response.Content
}

// Disabled is the stub used when no AI backend is configured.
type Disabled struct{}

// Ask returns a clearly-labeled local response echoing the prompt.
func (Disabled) Ask(_ context.Context, promptText string) string {
	return fmt.Sprintf("AI is disabled in this build. (Prompt received: %q)", promptText)
}

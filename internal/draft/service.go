// Package draft fronts the language model backend for summaries and reply
// drafts. Provider failures never block the message lifecycle: both
// operations degrade to a sentinel text the caller can display or replace.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/evanshaw/triagemail/internal/fault"
)

// FailureSentinel prefixes the text returned when the provider errors.
const FailureSentinel = "(draft unavailable)"

// Completer is the single operation consumed from the drafting backend:
// synchronous text completion of one prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAICompleter implements Completer over an OpenAI-compatible chat
// completions endpoint.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter builds a completer for the given endpoint and model.
func NewOpenAICompleter(apiKey, baseURL, model string) *OpenAICompleter {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &OpenAICompleter{client: client, model: model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(c.model),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("provider returned no completion choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// Service exposes the two drafting operations the workflow needs. Both are
// pure functions of their inputs from the caller's perspective, which is
// what makes session-level memoization safe.
type Service struct {
	Completer Completer
	Logger    *slog.Logger
}

// NewService wires a drafting service over the given completer.
func NewService(completer Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{Completer: completer, Logger: logger}
}

// Summarize produces a bullet-point summary of one message snippet. One
// attempt, no retry; a provider failure yields the sentinel text.
func (s *Service) Summarize(ctx context.Context, snippet string) string {
	prompt := "Summarize this email in bullet points:\n\n" + snippet
	out, err := s.Completer.Complete(ctx, prompt)
	if err != nil {
		s.Logger.Warn("summarize failed", "error", &fault.DraftingError{Op: "summarize", Err: err})
		return FailureSentinel
	}
	return out
}

// Compose drafts a reply to the snippet following the user's instruction.
// The output is opaque editable text; it is never parsed or validated.
func (s *Service) Compose(ctx context.Context, snippet, instruction string) string {
	prompt := fmt.Sprintf(
		"Write a clear, confident, professional reply to this email based on the user's instructions.\n\nEmail: %s\n\nUser instruction for the reply: %s",
		snippet, instruction,
	)
	out, err := s.Completer.Complete(ctx, prompt)
	if err != nil {
		s.Logger.Warn("compose failed", "error", &fault.DraftingError{Op: "compose", Err: err})
		return FailureSentinel
	}
	return out
}

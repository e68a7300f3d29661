package ml

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"HNSummaries/internal/domain"
	"HNSummaries/internal/logging"
	"HNSummaries/internal/ports"
)

const DefaultSummaryWords = 150

// Summarizer asks the model for a short prose summary. Failures are reported
// in-band through the domain sentinels.
type Summarizer struct {
	chat          ports.ChatClient
	maxInputChars int
	logger        *slog.Logger
}

var _ ports.Summarizer = (*Summarizer)(nil)

// NewSummarizer wires the chat client; maxInputChars <= 0 disables truncation.
func NewSummarizer(chat ports.ChatClient, maxInputChars int, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Summarizer{chat: chat, maxInputChars: maxInputChars, logger: logger}
}

// Summarize returns the model's summary, NoContentSentinel for blank input
// (without calling the model) or SummaryErrorSentinel when the call fails.
// targetWords is only advisory.
func (s *Summarizer) Summarize(ctx context.Context, text string, targetWords int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.NoContentSentinel
	}
	if targetWords <= 0 {
		targetWords = DefaultSummaryWords
	}
	if s.chat == nil {
		s.logger.Warn("summarizer has no chat client")
		return domain.SummaryErrorSentinel
	}

	prompt := fmt.Sprintf("Summarize the following text concisely, aiming for around %d words:\n\n%s",
		targetWords, truncateRunes(text, s.maxInputChars))

	summary, err := s.chat.Complete(ctx, prompt)
	if err != nil {
		s.logger.Error("summarization failed", "input_chars", len(text), "error", err)
		return domain.SummaryErrorSentinel
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		s.logger.Warn("summarization returned empty text")
		return domain.SummaryErrorSentinel
	}
	return summary
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

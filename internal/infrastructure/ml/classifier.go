package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"HNSummaries/internal/domain"
	"HNSummaries/internal/logging"
	"HNSummaries/internal/ports"
)

const classifyInstructions = "For each Hacker News article provided below, determine if it is highly relevant to AI/ML, " +
	"LLM architecture, mathematical concepts, or other deeply technical subjects, and important enough to be summarized. " +
	"For each article, output a JSON object on a new line with two keys: 'is_relevant' (boolean, true if relevant, " +
	"false otherwise) and 'relevance_score' (integer from 1 to 10, where 10 is most relevant/important). " +
	"Ensure the output is valid JSON and strictly follows the order of input articles. " +
	"Do not add any other text or explanations outside the JSON objects.\n\n"

// Classifier scores a whole listing with one model call.
type Classifier struct {
	chat   ports.ChatClient
	logger *slog.Logger
}

var _ ports.Classifier = (*Classifier)(nil)

func NewClassifier(chat ports.ChatClient, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Classifier{chat: chat, logger: logger}
}

// ClassifyBatch always returns exactly one verdict per candidate, in order.
func (c *Classifier) ClassifyBatch(ctx context.Context, candidates []domain.CandidateArticle) []domain.RelevanceVerdict {
	if len(candidates) == 0 {
		return []domain.RelevanceVerdict{}
	}
	if c.chat == nil {
		c.logger.Warn("classifier has no chat client; marking batch irrelevant", "candidates", len(candidates))
		return defaultVerdicts(len(candidates))
	}

	reply, err := c.chat.Complete(ctx, buildClassifyPrompt(candidates))
	if err != nil {
		c.logger.Error("batch classification failed", "candidates", len(candidates), "error", err)
		return defaultVerdicts(len(candidates))
	}

	verdicts, malformed := parseVerdicts(reply, len(candidates))
	if malformed > 0 {
		c.logger.Warn("classifier reply had unusable lines", "malformed", malformed, "candidates", len(candidates))
	}
	return verdicts
}

func buildClassifyPrompt(candidates []domain.CandidateArticle) string {
	var b strings.Builder
	b.WriteString(classifyInstructions)
	for i, candidate := range candidates {
		fmt.Fprintf(&b, "Article %d: Title: '%s', Comments: %d\n", i+1, candidate.Title, candidate.CommentCount)
	}
	return b.String()
}

type verdictLine struct {
	IsRelevant     *bool `json:"is_relevant"`
	RelevanceScore *int  `json:"relevance_score"`
}

// parseVerdicts aligns a JSON-lines reply to n positions. Unparsable, incomplete
// or out-of-range lines and missing trailing lines become the default verdict.
// The second result counts positions that fell back to the default.
func parseVerdicts(reply string, n int) ([]domain.RelevanceVerdict, int) {
	verdicts := defaultVerdicts(n)
	malformed := 0

	idx := 0
	for _, line := range strings.Split(stripCodeFence(reply), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx >= n {
			break
		}

		if v, ok := parseVerdictLine(line); ok {
			verdicts[idx] = v
		} else {
			malformed++
		}
		idx++
	}

	malformed += n - idx
	return verdicts, malformed
}

func parseVerdictLine(line string) (domain.RelevanceVerdict, bool) {
	start := strings.Index(line, "{")
	end := strings.LastIndex(line, "}")
	if start < 0 || end <= start {
		return domain.DefaultVerdict(), false
	}

	var parsed verdictLine
	if err := json.Unmarshal([]byte(line[start:end+1]), &parsed); err != nil {
		return domain.DefaultVerdict(), false
	}
	if parsed.IsRelevant == nil || parsed.RelevanceScore == nil {
		return domain.DefaultVerdict(), false
	}
	if *parsed.RelevanceScore < 1 || *parsed.RelevanceScore > 10 {
		return domain.DefaultVerdict(), false
	}

	return domain.RelevanceVerdict{
		IsRelevant:     *parsed.IsRelevant,
		RelevanceScore: *parsed.RelevanceScore,
	}, true
}

// stripCodeFence removes a surrounding ``` block (with or without a language tag).
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 && !strings.Contains(s[:nl], "{") {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func defaultVerdicts(n int) []domain.RelevanceVerdict {
	out := make([]domain.RelevanceVerdict, n)
	for i := range out {
		out[i] = domain.DefaultVerdict()
	}
	return out
}

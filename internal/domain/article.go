package domain

import (
	"net/url"
	"time"
)

// Sentinel strings used in place of errors by the summarization flow.
const (
	NoContentSentinel    = "No content to summarize."
	SummaryErrorSentinel = "Error summarizing content."
	NoCommentsSummary    = "No comments to summarize."
)

// CandidateArticle is a listing entry that has not been vetted for relevance yet.
type CandidateArticle struct {
	ID             string
	Title          string
	Link           string
	DiscussionLink string
	Score          int
	CommentCount   int

	// SourceURL is the listing page the row came from. It is not persisted.
	SourceURL string
}

// ContentURL resolves Link against the listing it was scraped from. Link is
// returned unchanged when it is already absolute or no source is known.
func (c CandidateArticle) ContentURL() string {
	if c.SourceURL == "" {
		return c.Link
	}
	base, err := url.Parse(c.SourceURL)
	if err != nil {
		return c.Link
	}
	ref, err := url.Parse(c.Link)
	if err != nil {
		return c.Link
	}
	return base.ResolveReference(ref).String()
}

// RelevanceVerdict is the model's triage decision for one candidate.
type RelevanceVerdict struct {
	IsRelevant     bool
	RelevanceScore int
}

// DefaultVerdict is used whenever the model response for a position is unusable.
func DefaultVerdict() RelevanceVerdict {
	return RelevanceVerdict{IsRelevant: false, RelevanceScore: 0}
}

// StoredArticle is a fully summarized article persisted for the read API.
type StoredArticle struct {
	CandidateArticle
	ArticleSummary  string
	CommentsSummary string
	IsRelevant      bool
	RelevanceScore  int
	Timestamp       time.Time
}

// IsSummarySentinel reports whether a summarizer result marks a failure or empty input.
func IsSummarySentinel(summary string) bool {
	return summary == NoContentSentinel || summary == SummaryErrorSentinel
}

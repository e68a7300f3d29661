package ports

import (
	"context"
	"time"

	"HNSummaries/internal/domain"
)

// ListingSource pulls the current front-page candidates from configured sites.
type ListingSource interface {
	FetchListing(ctx context.Context) ([]domain.CandidateArticle, error)
}

// ContentFetcher extracts best-effort plain text; failures come back as "".
type ContentFetcher interface {
	FetchArticleText(ctx context.Context, url string) string
	FetchDiscussionText(ctx context.Context, url string) string
}

// ChatClient sends a single prompt to an LLM and returns the raw reply text.
type ChatClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Classifier triages a whole batch at once. The result is always len(candidates) long.
type Classifier interface {
	ClassifyBatch(ctx context.Context, candidates []domain.CandidateArticle) []domain.RelevanceVerdict
}

// Summarizer condenses text; it returns a sentinel string instead of an error.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetWords int) string
}

// ArticleRepository persists stored articles for deduplication and history.
type ArticleRepository interface {
	AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error)
	Upsert(ctx context.Context, article domain.StoredArticle) error
}

// ArticlePager serves paginated reads, newest first.
type ArticlePager interface {
	Mode() domain.PaginationMode
	Page(ctx context.Context, req domain.PageRequest) (domain.PageResult, error)
	Count(ctx context.Context) (int, error)
}

// ArticleStore is the full storage capability implemented by every backend.
type ArticleStore interface {
	ArticleRepository
	ArticlePager
	EnsureSchema(ctx context.Context) error
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

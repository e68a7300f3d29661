package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"HNSummaries/internal/domain"
	"HNSummaries/internal/logging"
	"HNSummaries/internal/metrics"
	"HNSummaries/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.ListingSource
	Repository ports.ArticleRepository
	Classifier ports.Classifier
	Fetcher    ports.ContentFetcher
	Summarizer ports.Summarizer
	Notifier   ports.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// Clock defaults to time.Now.
	Clock        func() time.Time
	SummaryWords int
}

// Pipeline implements one ingestion run: list, classify, fetch, summarize, store.
type Pipeline struct {
	source       ports.ListingSource
	repository   ports.ArticleRepository
	classifier   ports.Classifier
	fetcher      ports.ContentFetcher
	summarizer   ports.Summarizer
	notifier     ports.Notifier
	metrics      *metrics.Metrics
	logger       *slog.Logger
	clock        func() time.Time
	summaryWords int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Pipeline{
		source:       deps.Source,
		repository:   deps.Repository,
		classifier:   deps.Classifier,
		fetcher:      deps.Fetcher,
		summarizer:   deps.Summarizer,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		clock:        deps.Clock,
		summaryWords: deps.SummaryWords,
	}
}

// Run executes a single ingestion pass and returns how many articles were newly stored.
// A persistence failure aborts the run; articles stored before it stay stored.
func (p *Pipeline) Run(ctx context.Context) (stored int, err error) {
	started := p.clock()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingestion run panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("ingestion run panicked: %v", r)
		}
		p.metrics.RecordRun(err, started, p.clock())
	}()

	if err := p.validate(); err != nil {
		return 0, err
	}

	candidates, err := p.source.FetchListing(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch listing: %w", err)
	}
	if len(candidates) == 0 {
		p.logger.Info("listing is empty; nothing to do")
		return 0, nil
	}
	p.logger.Info("fetched listing", "candidates", len(candidates))

	verdicts := p.classifier.ClassifyBatch(ctx, candidates)
	if len(verdicts) != len(candidates) {
		return 0, fmt.Errorf("classifier returned %d verdicts for %d candidates", len(verdicts), len(candidates))
	}

	ids := make([]string, len(candidates))
	for i, candidate := range candidates {
		ids[i] = candidate.ID
	}
	seen, err := p.repository.AlreadyProcessed(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load processed: %w", err)
	}
	if seen == nil {
		seen = map[string]bool{}
	}

	var digest []domain.StoredArticle
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return stored, fmt.Errorf("run interrupted after %d stored: %w", stored, err)
		}

		article, reason := p.process(ctx, candidate, verdicts[i], seen)
		if reason != "" {
			p.metrics.RecordSkip(reason)
			continue
		}

		if err := p.repository.Upsert(ctx, article); err != nil {
			return stored, fmt.Errorf("persist article %s: %w", candidate.ID, err)
		}
		seen[candidate.ID] = true
		stored++
		p.metrics.RecordStored()
		digest = append(digest, article)
		p.logger.Info("stored article", "id", article.ID, "title", article.Title, "relevance_score", article.RelevanceScore)
	}

	p.logger.Info("ingestion run finished", "candidates", len(candidates), "stored", stored)
	p.publish(ctx, digest)
	return stored, nil
}

// process turns one candidate into a StoredArticle or reports why it was skipped.
func (p *Pipeline) process(
	ctx context.Context,
	candidate domain.CandidateArticle,
	verdict domain.RelevanceVerdict,
	seen map[string]bool,
) (domain.StoredArticle, string) {
	log := p.logger.With("id", candidate.ID)

	if seen[candidate.ID] {
		log.Debug("skipping already stored article")
		return domain.StoredArticle{}, metrics.SkipAlreadyStored
	}
	if !verdict.IsRelevant {
		log.Debug("skipping irrelevant article", "relevance_score", verdict.RelevanceScore)
		return domain.StoredArticle{}, metrics.SkipNotRelevant
	}

	text := p.fetcher.FetchArticleText(ctx, candidate.ContentURL())
	if strings.TrimSpace(text) == "" {
		log.Info("skipping article without readable content", "link", candidate.ContentURL())
		return domain.StoredArticle{}, metrics.SkipNoContent
	}

	articleSummary := p.summarizer.Summarize(ctx, text, p.summaryWords)
	if domain.IsSummarySentinel(articleSummary) {
		log.Warn("skipping article whose summary failed", "summary", articleSummary)
		return domain.StoredArticle{}, metrics.SkipSummaryFailed
	}

	commentsSummary := domain.NoCommentsSummary
	if candidate.DiscussionLink != "" {
		discussion := p.fetcher.FetchDiscussionText(ctx, candidate.DiscussionLink)
		if strings.TrimSpace(discussion) != "" {
			commentsSummary = p.summarizer.Summarize(ctx, discussion, p.summaryWords)
			if domain.IsSummarySentinel(commentsSummary) {
				log.Warn("skipping article whose comments summary failed", "summary", commentsSummary)
				return domain.StoredArticle{}, metrics.SkipCommentsFailed
			}
		}
	}

	return domain.StoredArticle{
		CandidateArticle: candidate,
		ArticleSummary:   articleSummary,
		CommentsSummary:  commentsSummary,
		IsRelevant:       verdict.IsRelevant,
		RelevanceScore:   verdict.RelevanceScore,
		Timestamp:        p.clock().UTC(),
	}, ""
}

func (p *Pipeline) validate() error {
	switch {
	case p.source == nil:
		return fmt.Errorf("pipeline has no listing source")
	case p.repository == nil:
		return fmt.Errorf("pipeline has no repository")
	case p.classifier == nil:
		return fmt.Errorf("pipeline has no classifier")
	case p.fetcher == nil:
		return fmt.Errorf("pipeline has no content fetcher")
	case p.summarizer == nil:
		return fmt.Errorf("pipeline has no summarizer")
	}
	return nil
}

// publish sends the run digest; failures never fail the run.
func (p *Pipeline) publish(ctx context.Context, digest []domain.StoredArticle) {
	if p.notifier == nil || len(digest) == 0 {
		return
	}
	if err := p.notifier.PublishDigest(ctx, buildDigestMessage(digest)); err != nil {
		p.logger.Error("failed to publish digest", "articles", len(digest), "error", err)
	}
}

func buildDigestMessage(articles []domain.StoredArticle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new article(s)\n\n", len(articles))
	for _, article := range articles {
		fmt.Fprintf(&b, "- %s (relevance %d/10)\n%s\n%s\n",
			article.Title,
			article.RelevanceScore,
			article.ArticleSummary,
			article.Link)
		if article.DiscussionLink != "" {
			fmt.Fprintf(&b, "Discussion: %s\n", article.DiscussionLink)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"HNSummaries/internal/domain"
	"HNSummaries/internal/metrics"
)

type fakeSource struct {
	items []domain.CandidateArticle
	err   error
	panic bool
}

func (f *fakeSource) FetchListing(context.Context) ([]domain.CandidateArticle, error) {
	if f.panic {
		panic("listing exploded")
	}
	return f.items, f.err
}

type fakeClassifier struct {
	verdicts map[string]domain.RelevanceVerdict
	calls    int
}

func (f *fakeClassifier) ClassifyBatch(_ context.Context, candidates []domain.CandidateArticle) []domain.RelevanceVerdict {
	f.calls++
	out := make([]domain.RelevanceVerdict, len(candidates))
	for i, c := range candidates {
		if v, ok := f.verdicts[c.ID]; ok {
			out[i] = v
		} else {
			out[i] = domain.RelevanceVerdict{IsRelevant: true, RelevanceScore: 8}
		}
	}
	return out
}

type fakeFetcher struct {
	articles    map[string]string
	discussions map[string]string
}

func (f *fakeFetcher) FetchArticleText(_ context.Context, url string) string {
	return f.articles[url]
}

func (f *fakeFetcher) FetchDiscussionText(_ context.Context, url string) string {
	return f.discussions[url]
}

// fakeSummarizer maps input text to a canned reply; unknown input is echoed with a prefix.
type fakeSummarizer struct {
	replies map[string]string
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string, _ int) string {
	if reply, ok := f.replies[text]; ok {
		return reply
	}
	return "summary of " + text
}

type memoryRepo struct {
	mu       sync.Mutex
	articles map[string]domain.StoredArticle
	order    []string
	failOn   string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{articles: map[string]domain.StoredArticle{}}
}

func (r *memoryRepo) AlreadyProcessed(_ context.Context, ids []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := r.articles[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *memoryRepo) Upsert(_ context.Context, article domain.StoredArticle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if article.ID == r.failOn {
		return errors.New("disk full")
	}
	if _, ok := r.articles[article.ID]; !ok {
		r.order = append(r.order, article.ID)
	}
	r.articles[article.ID] = article
	return nil
}

type fakeNotifier struct {
	digests []string
	err     error
}

func (f *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	f.digests = append(f.digests, digest)
	return f.err
}

func candidate(id string) domain.CandidateArticle {
	return domain.CandidateArticle{
		ID:             id,
		Title:          "Title " + id,
		Link:           "https://example.com/" + id,
		DiscussionLink: "https://news.ycombinator.com/item?id=" + id,
		Score:          100,
		CommentCount:   10,
	}
}

type pipelineFixture struct {
	source     *fakeSource
	classifier *fakeClassifier
	fetcher    *fakeFetcher
	summarizer *fakeSummarizer
	repo       *memoryRepo
	notifier   *fakeNotifier
	now        time.Time
}

func newFixture(ids ...string) *pipelineFixture {
	f := &pipelineFixture{
		source:     &fakeSource{},
		classifier: &fakeClassifier{verdicts: map[string]domain.RelevanceVerdict{}},
		fetcher:    &fakeFetcher{articles: map[string]string{}, discussions: map[string]string{}},
		summarizer: &fakeSummarizer{replies: map[string]string{}},
		repo:       newMemoryRepo(),
		notifier:   &fakeNotifier{},
		now:        time.Date(2026, 3, 1, 15, 4, 5, 0, time.FixedZone("CET", 3600)),
	}
	for _, id := range ids {
		c := candidate(id)
		f.source.items = append(f.source.items, c)
		f.fetcher.articles[c.Link] = "article body " + id
		f.fetcher.discussions[c.DiscussionLink] = "comments " + id
	}
	return f
}

func (f *pipelineFixture) pipeline() *Pipeline {
	return NewPipeline(PipelineDeps{
		Source:       f.source,
		Repository:   f.repo,
		Classifier:   f.classifier,
		Fetcher:      f.fetcher,
		Summarizer:   f.summarizer,
		Notifier:     f.notifier,
		Metrics:      metrics.New(),
		Clock:        func() time.Time { return f.now },
		SummaryWords: 150,
	})
}

func TestRunStoresRelevantArticles(t *testing.T) {
	t.Parallel()

	f := newFixture("1", "2")
	stored, err := f.pipeline().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stored != 2 {
		t.Fatalf("expected 2 stored, got %d", stored)
	}

	got := f.repo.articles["1"]
	if got.ArticleSummary != "summary of article body 1" || got.CommentsSummary != "summary of comments 1" {
		t.Fatalf("unexpected summaries %+v", got)
	}
	if !got.IsRelevant || got.RelevanceScore != 8 {
		t.Fatalf("verdict not carried over: %+v", got)
	}
	if !got.Timestamp.Equal(f.now) || got.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp should be the clock in UTC, got %v", got.Timestamp)
	}
	if strings.Join(f.repo.order, ",") != "1,2" {
		t.Fatalf("articles should be stored in listing order, got %v", f.repo.order)
	}
	if len(f.notifier.digests) != 1 || !strings.Contains(f.notifier.digests[0], "Title 2") {
		t.Fatalf("expected one digest listing both articles, got %q", f.notifier.digests)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture("1", "2", "3")
	p := f.pipeline()
	if stored, err := p.Run(context.Background()); err != nil || stored != 3 {
		t.Fatalf("first run: stored=%d err=%v", stored, err)
	}
	stored, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stored != 0 {
		t.Fatalf("second run should store nothing, got %d", stored)
	}
	if len(f.repo.articles) != 3 {
		t.Fatalf("expected 3 records, got %d", len(f.repo.articles))
	}
	if len(f.notifier.digests) != 1 {
		t.Fatalf("no digest expected for an empty run, got %d", len(f.notifier.digests))
	}
}

func TestRunResolvesRelativeLinksPerSource(t *testing.T) {
	t.Parallel()

	f := newFixture()
	for _, c := range []domain.CandidateArticle{
		{ID: "a", Title: "From A", Link: "post/1", SourceURL: "https://a.example/news"},
		{ID: "b", Title: "From B", Link: "post/1", SourceURL: "https://b.example/front/"},
	} {
		f.source.items = append(f.source.items, c)
	}
	f.fetcher.articles["https://a.example/post/1"] = "body a"
	f.fetcher.articles["https://b.example/front/post/1"] = "body b"

	stored, err := f.pipeline().Run(context.Background())
	if err != nil || stored != 2 {
		t.Fatalf("expected both stored, got stored=%d err=%v", stored, err)
	}
	if got := f.repo.articles["b"].ArticleSummary; got != "summary of body b" {
		t.Fatalf("link should resolve against its own listing, got summary %q", got)
	}
	if got := f.repo.articles["a"].Link; got != "post/1" {
		t.Fatalf("stored link should stay as scraped, got %q", got)
	}
}

func TestRunSkipsDuplicateIDsWithinListing(t *testing.T) {
	t.Parallel()

	f := newFixture("1", "1")
	stored, err := f.pipeline().Run(context.Background())
	if err != nil || stored != 1 {
		t.Fatalf("expected one stored, got stored=%d err=%v", stored, err)
	}
}

func TestRunSkipReasons(t *testing.T) {
	t.Parallel()

	f := newFixture("irrelevant", "empty", "badsummary", "badcomments", "nodiscussion", "quiet", "ok")
	f.classifier.verdicts["irrelevant"] = domain.RelevanceVerdict{IsRelevant: false, RelevanceScore: 3}
	f.fetcher.articles["https://example.com/empty"] = "  \n"
	f.summarizer.replies["article body badsummary"] = domain.SummaryErrorSentinel
	f.summarizer.replies["comments badcomments"] = domain.SummaryErrorSentinel
	f.source.items[4].DiscussionLink = ""
	f.fetcher.discussions["https://news.ycombinator.com/item?id=quiet"] = ""

	stored, err := f.pipeline().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stored != 3 {
		t.Fatalf("expected 3 stored, got %d (%v)", stored, f.repo.order)
	}
	for _, id := range []string{"irrelevant", "empty", "badsummary", "badcomments"} {
		if _, ok := f.repo.articles[id]; ok {
			t.Fatalf("%s should have been skipped", id)
		}
	}
	for _, id := range []string{"nodiscussion", "quiet"} {
		if got := f.repo.articles[id].CommentsSummary; got != domain.NoCommentsSummary {
			t.Fatalf("%s: expected no-comments summary, got %q", id, got)
		}
	}
	if f.repo.articles["ok"].CommentsSummary != "summary of comments ok" {
		t.Fatalf("unexpected comments summary %q", f.repo.articles["ok"].CommentsSummary)
	}
}

func TestRunPersistenceFailureKeepsEarlierCommits(t *testing.T) {
	t.Parallel()

	f := newFixture("1", "2", "3")
	f.repo.failOn = "2"

	stored, err := f.pipeline().Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "persist article 2") {
		t.Fatalf("expected persistence error naming the article, got %v", err)
	}
	if stored != 1 {
		t.Fatalf("expected 1 stored before failure, got %d", stored)
	}
	if _, ok := f.repo.articles["1"]; !ok {
		t.Fatal("article 1 should remain stored")
	}
	if _, ok := f.repo.articles["3"]; ok {
		t.Fatal("article 3 should not be processed after the abort")
	}
	if len(f.notifier.digests) != 0 {
		t.Fatal("a failed run should not publish a digest")
	}
}

func TestRunEmptyListing(t *testing.T) {
	t.Parallel()

	f := newFixture()
	stored, err := f.pipeline().Run(context.Background())
	if err != nil || stored != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", stored, err)
	}
	if f.classifier.calls != 0 {
		t.Fatalf("classifier should not be called for an empty listing")
	}
}

func TestRunSourceError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	boom := errors.New("unknown scanner")
	f.source.err = boom
	if _, err := f.pipeline().Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.source.panic = true
	_, err := f.pipeline().Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "listing exploded") {
		t.Fatalf("expected recovered panic error, got %v", err)
	}
}

func TestRunNotifierFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	f := newFixture("1")
	f.notifier.err = errors.New("telegram down")
	stored, err := f.pipeline().Run(context.Background())
	if err != nil || stored != 1 {
		t.Fatalf("expected success despite notifier error, got stored=%d err=%v", stored, err)
	}
}

func TestRunRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(PipelineDeps{}).Run(context.Background()); err == nil {
		t.Fatal("expected error for unwired pipeline")
	}
}

func TestBuildDigestMessage(t *testing.T) {
	t.Parallel()

	msg := buildDigestMessage([]domain.StoredArticle{{
		CandidateArticle: candidate("7"),
		ArticleSummary:   "Short summary.",
		RelevanceScore:   9,
	}})
	for _, want := range []string{"1 new article(s)", "- Title 7 (relevance 9/10)", "Short summary.", "https://example.com/7", "Discussion: https://news.ycombinator.com/item?id=7"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("digest missing %q:\n%s", want, msg)
		}
	}
	if strings.HasSuffix(msg, "\n") {
		t.Fatalf("digest should not end with a newline: %q", msg)
	}
}

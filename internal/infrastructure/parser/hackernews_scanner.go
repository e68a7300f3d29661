package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"HNSummaries/internal/domain"
	"HNSummaries/internal/logging"
	"HNSummaries/internal/scanner"
)

const (
	hackerNewsBaseURL = "https://news.ycombinator.com/"
	maxBodyBytes      = 5 << 20
)

// HackerNewsScanner parses the Hacker News front page into candidates.
type HackerNewsScanner struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

var _ scanner.Scanner = (*HackerNewsScanner)(nil)

// NewHackerNewsScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewHackerNewsScanner(client *http.Client, userAgent string, logger *slog.Logger) *HackerNewsScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if userAgent == "" {
		userAgent = "HNSummaries/1.0"
	}
	return &HackerNewsScanner{client: client, userAgent: userAgent, logger: logger}
}

// Name identifies the strategy inside the registry.
func (h *HackerNewsScanner) Name() string {
	return "hackernews"
}

// Scan fetches the listing page. Transport failures and non-200 answers are
// logged and produce an empty listing rather than an error.
func (h *HackerNewsScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.CandidateArticle, error) {
	pageURL := req.URL
	if pageURL == "" {
		pageURL = hackerNewsBaseURL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing url %s: %w", pageURL, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logger.Warn("listing fetch failed", "site", req.SiteName, "url", pageURL, "error", err)
		return []domain.CandidateArticle{}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.logger.Warn("listing returned non-200", "site", req.SiteName, "url", pageURL, "status", resp.StatusCode)
		return []domain.CandidateArticle{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("listing parse failed", "site", req.SiteName, "error", err)
		return []domain.CandidateArticle{}, nil
	}

	articles := ParseListing(doc, base)
	h.logger.Debug("listing parsed", "site", req.SiteName, "articles", len(articles))
	return articles, nil
}

// ParseListing walks item rows in document order. Rows without an id or a
// title anchor are skipped; every other field falls back to its default.
func ParseListing(doc *goquery.Document, base *url.URL) []domain.CandidateArticle {
	articles := make([]domain.CandidateArticle, 0)
	source := ""
	if base != nil {
		source = base.String()
	}

	doc.Find("tr.athing").Each(func(_ int, row *goquery.Selection) {
		id := extractID(row)
		if id == "" {
			return
		}
		title, link, ok := extractTitle(row)
		if !ok {
			return
		}

		meta := metadataRow(row)
		discussion, comments := extractComments(meta, base)

		articles = append(articles, domain.CandidateArticle{
			ID:             id,
			Title:          title,
			Link:           link,
			DiscussionLink: discussion,
			Score:          extractScore(meta),
			CommentCount:   comments,
			SourceURL:      source,
		})
	})

	return articles
}

func extractID(row *goquery.Selection) string {
	id, _ := row.Attr("id")
	return strings.TrimSpace(id)
}

func extractTitle(row *goquery.Selection) (string, string, bool) {
	anchor := row.Find("span.titleline > a").First()
	if anchor.Length() == 0 {
		anchor = row.Find(".title a").First()
	}
	if anchor.Length() == 0 {
		return "", "", false
	}

	title := strings.TrimSpace(anchor.Text())
	if title == "" {
		return "", "", false
	}
	href, _ := anchor.Attr("href")
	return title, strings.TrimSpace(href), true
}

// metadataRow is the subtext cell of the row directly after an item. It is
// empty when that row is missing or is the next item.
func metadataRow(row *goquery.Selection) *goquery.Selection {
	next := row.NextAllFiltered("tr").First()
	if next.Length() == 0 || next.HasClass("athing") {
		return next.Slice(0, 0)
	}
	if subline := next.Find("span.subline").First(); subline.Length() > 0 {
		return subline
	}
	return next.Find("td.subtext").First()
}

func extractScore(meta *goquery.Selection) int {
	if meta.Length() == 0 {
		return 0
	}
	return digits(meta.Find("span.score").First().Text())
}

// extractComments returns the discussion link and comment count. A "discuss"
// anchor is the site's zero-comments convention.
func extractComments(meta *goquery.Selection, base *url.URL) (string, int) {
	if meta.Length() == 0 {
		return "", 0
	}

	var (
		link  string
		count int
	)
	meta.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.ToLower(normalizeSpace(a.Text()))
		isComments := strings.Contains(text, "comment")
		if !isComments && !strings.Contains(text, "discuss") {
			return true
		}

		href, _ := a.Attr("href")
		link = resolveLink(base, href)
		if isComments {
			count = digits(text)
		}
		return false
	})

	return link, count
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// digits keeps only the decimal digits of s; no digits (or overflow) yields 0.
func digits(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(b.String())
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

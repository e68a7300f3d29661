package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"HNSummaries/internal/config"
	"HNSummaries/internal/domain"
	"HNSummaries/internal/ports"
)

// ErrInvalidCursor is returned when a continuation token cannot be decoded.
var ErrInvalidCursor = domain.ErrInvalidCursor

const articleMapping = `{
  "mappings": {
    "properties": {
      "id": {"type": "keyword"},
      "title": {"type": "text"},
      "link": {"type": "keyword"},
      "comments_link": {"type": "keyword"},
      "score": {"type": "integer"},
      "num_comments": {"type": "integer"},
      "article_summary": {"type": "text"},
      "comments_summary": {"type": "text"},
      "gemini_is_relevant": {"type": "boolean"},
      "gemini_relevance_score": {"type": "integer"},
      "timestamp": {"type": "date"}
    }
  }
}`

// NewElasticClient builds a client from config. transport may be nil.
func NewElasticClient(cfg config.ElasticsearchConfig, transport http.RoundTripper) (*es.Client, error) {
	clientConfig := es.Config{
		Addresses: cfg.Addresses,
		Transport: transport,
	}
	if cfg.Username != "" && cfg.Password != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	client, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return client, nil
}

// ElasticRepository is the distributed store: cursor pagination via search_after.
type ElasticRepository struct {
	client *es.Client
	index  string
}

var _ ports.ArticleStore = (*ElasticRepository)(nil)

func NewElasticRepository(client *es.Client, index string) *ElasticRepository {
	if index == "" {
		index = "hn_articles"
	}
	return &ElasticRepository{client: client, index: index}
}

// Mode reports cursor pagination.
func (r *ElasticRepository) Mode() domain.PaginationMode {
	return domain.PaginationCursor
}

type articleDocument struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Link            string    `json:"link"`
	CommentsLink    string    `json:"comments_link,omitempty"`
	Score           int       `json:"score"`
	NumComments     int       `json:"num_comments"`
	ArticleSummary  string    `json:"article_summary"`
	CommentsSummary string    `json:"comments_summary"`
	IsRelevant      bool      `json:"gemini_is_relevant"`
	RelevanceScore  int       `json:"gemini_relevance_score"`
	Timestamp       time.Time `json:"timestamp"`
}

func toDocument(a domain.StoredArticle) articleDocument {
	return articleDocument{
		ID:              a.ID,
		Title:           a.Title,
		Link:            a.Link,
		CommentsLink:    a.DiscussionLink,
		Score:           a.Score,
		NumComments:     a.CommentCount,
		ArticleSummary:  a.ArticleSummary,
		CommentsSummary: a.CommentsSummary,
		IsRelevant:      a.IsRelevant,
		RelevanceScore:  a.RelevanceScore,
		Timestamp:       a.Timestamp.UTC(),
	}
}

func (d articleDocument) toArticle() domain.StoredArticle {
	return domain.StoredArticle{
		CandidateArticle: domain.CandidateArticle{
			ID:             d.ID,
			Title:          d.Title,
			Link:           d.Link,
			DiscussionLink: d.CommentsLink,
			Score:          d.Score,
			CommentCount:   d.NumComments,
		},
		ArticleSummary:  d.ArticleSummary,
		CommentsSummary: d.CommentsSummary,
		IsRelevant:      d.IsRelevant,
		RelevanceScore:  d.RelevanceScore,
		Timestamp:       d.Timestamp.UTC(),
	}
}

// EnsureSchema creates the index with an explicit mapping when it does not exist.
func (r *ElasticRepository) EnsureSchema(ctx context.Context) error {
	res, err := r.client.Indices.Exists([]string{r.index}, r.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", r.index, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status checking index %s: %d", r.index, res.StatusCode)
	}

	res, err = r.client.Indices.Create(
		r.index,
		r.client.Indices.Create.WithContext(ctx),
		r.client.Indices.Create.WithBody(strings.NewReader(articleMapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", r.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body := res.String()
		if strings.Contains(body, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("error creating index: %s", body)
	}
	return nil
}

// AlreadyProcessed looks the ids up with a single _mget.
func (r *ElasticRepository) AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(ids) == 0 {
		return result, nil
	}

	body, err := json.Marshal(map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mget: %w", err)
	}

	res, err := r.client.Mget(
		bytes.NewReader(body),
		r.client.Mget.WithContext(ctx),
		r.client.Mget.WithIndex(r.index),
		r.client.Mget.WithSource("false"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mget: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return result, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("error in mget: %s", res.String())
	}

	var mget struct {
		Docs []struct {
			ID    string `json:"_id"`
			Found bool   `json:"found"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&mget); err != nil {
		return nil, fmt.Errorf("error decoding mget response: %w", err)
	}

	for _, doc := range mget.Docs {
		if doc.Found {
			result[doc.ID] = true
		}
	}
	return result, nil
}

// Upsert indexes the article under its id and refreshes so readers see it at once.
func (r *ElasticRepository) Upsert(ctx context.Context, article domain.StoredArticle) error {
	docBytes, err := json.Marshal(toDocument(article))
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := r.client.Index(
		r.index,
		bytes.NewReader(docBytes),
		r.client.Index.WithContext(ctx),
		r.client.Index.WithDocumentID(article.ID),
		r.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("failed to index article %s: %w", article.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing article %s: %s", article.ID, res.String())
	}
	return nil
}

// Count returns the number of indexed articles; a missing index counts as zero.
func (r *ElasticRepository) Count(ctx context.Context) (int, error) {
	res, err := r.client.Count(
		r.client.Count.WithContext(ctx),
		r.client.Count.WithIndex(r.index),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("error counting: %s", res.String())
	}

	var count struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("error decoding count response: %w", err)
	}
	return count.Count, nil
}

// Page returns the page after req.Cursor (or the first page when empty).
// NextCursor is empty once the result set is exhausted.
func (r *ElasticRepository) Page(ctx context.Context, req domain.PageRequest) (domain.PageResult, error) {
	req = req.Normalize()

	query := map[string]any{
		"size": req.PageSize + 1,
		"sort": []map[string]any{
			{"timestamp": map[string]any{"order": "desc"}},
			{"id": map[string]any{"order": "asc"}},
		},
		"query": map[string]any{"match_all": map[string]any{}},
	}
	if req.Cursor != "" {
		after, err := DecodeCursor(req.Cursor)
		if err != nil {
			return domain.PageResult{}, err
		}
		query["search_after"] = after
	}

	queryBytes, err := json.Marshal(query)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(bytes.NewReader(queryBytes)),
	)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("failed to search: %w", err)
	}
	defer res.Body.Close()

	articles := make([]domain.StoredArticle, 0, req.PageSize)
	var nextCursor string

	switch {
	case res.StatusCode == http.StatusNotFound:
	case res.StatusCode == http.StatusBadRequest && req.Cursor != "":
		return domain.PageResult{}, fmt.Errorf("%w: rejected by search backend: %s", ErrInvalidCursor, res.String())
	case res.IsError():
		return domain.PageResult{}, fmt.Errorf("error searching: %s", res.String())
	default:
		var searchResult struct {
			Hits struct {
				Hits []struct {
					Source articleDocument `json:"_source"`
					Sort   json.RawMessage `json:"sort"`
				} `json:"hits"`
			} `json:"hits"`
		}
		if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
			return domain.PageResult{}, fmt.Errorf("error decoding response: %w", err)
		}

		hits := searchResult.Hits.Hits
		more := len(hits) > req.PageSize
		if more {
			hits = hits[:req.PageSize]
		}
		for _, hit := range hits {
			articles = append(articles, hit.Source.toArticle())
		}
		if more && len(hits) > 0 {
			nextCursor = EncodeCursor(hits[len(hits)-1].Sort)
		}
	}

	total, err := r.Count(ctx)
	if err != nil {
		return domain.PageResult{}, err
	}

	return domain.PageResult{
		Articles:   articles,
		TotalCount: total,
		TotalPages: domain.TotalPages(total, req.PageSize),
		Page:       req.Page,
		PageSize:   req.PageSize,
		NextCursor: nextCursor,
	}, nil
}

// EncodeCursor turns raw sort values into an opaque token.
func EncodeCursor(sortValues json.RawMessage) string {
	return base64.RawURLEncoding.EncodeToString(sortValues)
}

// DecodeCursor reverses EncodeCursor. Anything that is not a two-element
// JSON array of sort values yields ErrInvalidCursor.
func DecodeCursor(token string) ([]json.RawMessage, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var values []json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("%w: expected 2 sort values, got %d", ErrInvalidCursor, len(values))
	}

	// Sort values are [timestamp epoch millis, id].
	var (
		millis int64
		id     string
	)
	if err := json.Unmarshal(values[0], &millis); err != nil {
		return nil, fmt.Errorf("%w: timestamp sort value: %v", ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(values[1], &id); err != nil {
		return nil, fmt.Errorf("%w: id sort value: %v", ErrInvalidCursor, err)
	}
	return values, nil
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

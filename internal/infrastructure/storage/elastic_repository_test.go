package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HNSummaries/internal/config"
	"HNSummaries/internal/domain"
)

type esRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeElastic answers by "METHOD /path" and records every request.
type fakeElastic struct {
	mu        sync.Mutex
	requests  []esRequest
	responses map[string]fakeResponse
}

type fakeResponse struct {
	status int
	body   string
}

func newFakeElastic(t *testing.T, responses map[string]fakeResponse) (*fakeElastic, *ElasticRepository) {
	t.Helper()

	fake := &fakeElastic{responses: responses}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fake.mu.Lock()
		fake.requests = append(fake.requests, esRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		fake.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		resp, ok := fake.responses[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no route"}`))
			return
		}
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(server.Close)

	client, err := NewElasticClient(config.ElasticsearchConfig{Addresses: []string{server.URL}}, nil)
	require.NoError(t, err)
	return fake, NewElasticRepository(client, "hn_articles")
}

func (f *fakeElastic) find(method, path string) (esRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			return r, true
		}
	}
	return esRequest{}, false
}

func searchHit(id string, ts time.Time, sort string) string {
	doc, _ := json.Marshal(articleDocument{ID: id, Title: "t " + id, Link: "https://example.com/" + id, Timestamp: ts})
	return `{"_id":"` + id + `","_source":` + string(doc) + `,"sort":` + sort + `}`
}

func TestElasticPageShortResultHasNoCursor(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hits := []string{
		searchHit("3", ts, `[1772366400000,"3"]`),
		searchHit("2", ts, `[1772366400000,"2"]`),
		searchHit("1", ts.Add(-time.Hour), `[1772362800000,"1"]`),
	}

	fake, repo := newFakeElastic(t, map[string]fakeResponse{
		"POST /hn_articles/_search": {http.StatusOK, `{"hits":{"hits":[` + strings.Join(hits, ",") + `]}}`},
		"POST /hn_articles/_count":  {http.StatusOK, `{"count":25}`},
	})

	got, err := repo.Page(context.Background(), domain.PageRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)

	assert.Equal(t, domain.PaginationCursor, repo.Mode())
	assert.Equal(t, 10, got.PageSize, "unsupported size should clamp to 10")
	assert.Equal(t, 25, got.TotalCount)
	assert.Equal(t, 3, got.TotalPages)
	assert.Len(t, got.Articles, 3)
	assert.Empty(t, got.NextCursor, "fewer than size+1 hits means exhausted")

	req, ok := fake.find(http.MethodPost, "/hn_articles/_search")
	require.True(t, ok)
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.EqualValues(t, 11, sent["size"])
	assert.NotContains(t, sent, "search_after")
}

func TestElasticPageFollowsCursor(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hits := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		id := string(rune('a' + i))
		hits = append(hits, searchHit(id, ts, `[1772366400000,"`+id+`"]`))
	}

	fake, repo := newFakeElastic(t, map[string]fakeResponse{
		"POST /hn_articles/_search": {http.StatusOK, `{"hits":{"hits":[` + strings.Join(hits, ",") + `]}}`},
		"POST /hn_articles/_count":  {http.StatusOK, `{"count":40}`},
	})

	cursor := EncodeCursor(json.RawMessage(`[1772370000000,"z"]`))
	got, err := repo.Page(context.Background(), domain.PageRequest{PageSize: 10, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, got.Articles, 10)
	assert.Equal(t, "j", got.Articles[9].ID)

	values, err := DecodeCursor(got.NextCursor)
	require.NoError(t, err)
	assert.JSONEq(t, `"j"`, string(values[1]))

	req, ok := fake.find(http.MethodPost, "/hn_articles/_search")
	require.True(t, ok)
	assert.Contains(t, req.Body, `"search_after":[1772370000000,"z"]`)
}

func TestElasticPageInvalidCursor(t *testing.T) {
	t.Parallel()

	fake, repo := newFakeElastic(t, map[string]fakeResponse{})

	for _, token := range []string{
		"!!not-base64!!",
		EncodeCursor(json.RawMessage(`{"a":1}`)),
		EncodeCursor(json.RawMessage(`[1]`)),
		EncodeCursor(json.RawMessage(`["yesterday",{"x":1}]`)),
		EncodeCursor(json.RawMessage(`[1.5,"id"]`)),
		EncodeCursor(json.RawMessage(`[1772370000000,7]`)),
	} {
		_, err := repo.Page(context.Background(), domain.PageRequest{Cursor: token})
		assert.True(t, errors.Is(err, ErrInvalidCursor), "token %q: got %v", token, err)
	}
	_, searched := fake.find(http.MethodPost, "/hn_articles/_search")
	assert.False(t, searched, "invalid cursor must not reach the backend")
}

func TestElasticPageCursorRejectedByBackend(t *testing.T) {
	t.Parallel()

	_, repo := newFakeElastic(t, map[string]fakeResponse{
		"POST /hn_articles/_search": {http.StatusBadRequest, `{"error":{"type":"illegal_argument_exception"}}`},
	})

	_, err := repo.Page(context.Background(), domain.PageRequest{Cursor: EncodeCursor(json.RawMessage(`[1772370000000,"z"]`))})
	assert.True(t, errors.Is(err, ErrInvalidCursor), "got %v", err)

	_, err = repo.Page(context.Background(), domain.PageRequest{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCursor), "a first page failure is a backend error")
}

func TestElasticPageBackendError(t *testing.T) {
	t.Parallel()

	_, repo := newFakeElastic(t, map[string]fakeResponse{
		"POST /hn_articles/_search": {http.StatusInternalServerError, `{"error":"shard failure"}`},
	})

	_, err := repo.Page(context.Background(), domain.PageRequest{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCursor))
}

func TestElasticUpsertIndexesWithRefresh(t *testing.T) {
	t.Parallel()

	fake, repo := newFakeElastic(t, map[string]fakeResponse{
		"PUT /hn_articles/_doc/42": {http.StatusOK, `{"result":"created"}`},
	})

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := repo.Upsert(context.Background(), domain.StoredArticle{
		CandidateArticle: domain.CandidateArticle{ID: "42", Title: "Title", Link: "https://example.com", Score: 7},
		ArticleSummary:   "sum",
		CommentsSummary:  domain.NoCommentsSummary,
		IsRelevant:       true,
		RelevanceScore:   9,
		Timestamp:        ts,
	})
	require.NoError(t, err)

	req, ok := fake.find(http.MethodPut, "/hn_articles/_doc/42")
	require.True(t, ok)
	assert.Contains(t, req.Query, "refresh=true")

	var doc articleDocument
	require.NoError(t, json.Unmarshal([]byte(req.Body), &doc))
	assert.Equal(t, "42", doc.ID)
	assert.True(t, doc.IsRelevant)
	assert.Equal(t, 9, doc.RelevanceScore)
	assert.True(t, doc.Timestamp.Equal(ts))
	assert.NotContains(t, req.Body, "comments_link")
}

func TestElasticUpsertError(t *testing.T) {
	t.Parallel()

	_, repo := newFakeElastic(t, map[string]fakeResponse{
		"PUT /hn_articles/_doc/1": {http.StatusBadRequest, `{"error":"mapper_parsing_exception"}`},
	})
	err := repo.Upsert(context.Background(), domain.StoredArticle{CandidateArticle: domain.CandidateArticle{ID: "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "article 1")
}

func TestElasticAlreadyProcessed(t *testing.T) {
	t.Parallel()

	fake, repo := newFakeElastic(t, map[string]fakeResponse{
		"POST /hn_articles/_mget": {http.StatusOK, `{"docs":[{"_id":"1","found":false},{"_id":"2","found":true}]}`},
	})

	got, err := repo.AlreadyProcessed(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"2": true}, got)

	req, ok := fake.find(http.MethodPost, "/hn_articles/_mget")
	require.True(t, ok)
	assert.JSONEq(t, `{"ids":["1","2"]}`, req.Body)

	empty, err := repo.AlreadyProcessed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestElasticEnsureSchemaCreatesMissingIndex(t *testing.T) {
	t.Parallel()

	fake, repo := newFakeElastic(t, map[string]fakeResponse{
		"PUT /hn_articles": {http.StatusOK, `{"acknowledged":true}`},
	})

	require.NoError(t, repo.EnsureSchema(context.Background()))

	req, ok := fake.find(http.MethodPut, "/hn_articles")
	require.True(t, ok)
	assert.Contains(t, req.Body, `"gemini_relevance_score": {"type": "integer"}`)
}

func TestElasticEnsureSchemaExistingIndex(t *testing.T) {
	t.Parallel()

	fake, repo := newFakeElastic(t, map[string]fakeResponse{
		"HEAD /hn_articles": {http.StatusOK, ``},
	})

	require.NoError(t, repo.EnsureSchema(context.Background()))
	_, created := fake.find(http.MethodPut, "/hn_articles")
	assert.False(t, created)
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	token := EncodeCursor(json.RawMessage(`[1772366400000,"abc"]`))
	assert.NotContains(t, token, "=")

	values, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "1772366400000", string(values[0]))
}

package httpapi

import (
	"time"

	"HNSummaries/internal/domain"
)

type ArticleResponse struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Link                 string `json:"link"`
	CommentsLink         string `json:"comments_link"`
	Score                int    `json:"score"`
	NumComments          int    `json:"num_comments"`
	ArticleSummary       string `json:"article_summary"`
	CommentsSummary      string `json:"comments_summary"`
	GeminiIsRelevant     bool   `json:"gemini_is_relevant"`
	GeminiRelevanceScore int    `json:"gemini_relevance_score"`
	Timestamp            string `json:"timestamp"`
}

type ArticlesResponse struct {
	Articles          []ArticleResponse `json:"articles"`
	TotalArticles     int               `json:"total_articles"`
	TotalPages        int               `json:"total_pages"`
	CurrentPage       int               `json:"current_page"`
	PerPage           int               `json:"per_page"`
	ContinuationToken string            `json:"continuation_token,omitempty"`
}

func toArticleResponse(a domain.StoredArticle) ArticleResponse {
	return ArticleResponse{
		ID:                   a.ID,
		Title:                a.Title,
		Link:                 a.Link,
		CommentsLink:         a.DiscussionLink,
		Score:                a.Score,
		NumComments:          a.CommentCount,
		ArticleSummary:       a.ArticleSummary,
		CommentsSummary:      a.CommentsSummary,
		GeminiIsRelevant:     a.IsRelevant,
		GeminiRelevanceScore: a.RelevanceScore,
		Timestamp:            a.Timestamp.UTC().Format(time.RFC3339),
	}
}

func toArticlesResponse(page domain.PageResult) ArticlesResponse {
	articles := make([]ArticleResponse, 0, len(page.Articles))
	for _, a := range page.Articles {
		articles = append(articles, toArticleResponse(a))
	}
	return ArticlesResponse{
		Articles:          articles,
		TotalArticles:     page.TotalCount,
		TotalPages:        page.TotalPages,
		CurrentPage:       page.Page,
		PerPage:           page.PageSize,
		ContinuationToken: page.NextCursor,
	}
}

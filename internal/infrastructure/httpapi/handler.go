package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"HNSummaries/internal/domain"
	"HNSummaries/internal/logging"
	"HNSummaries/internal/ports"
)

const continuationHeader = "X-Continuation-Token"

// ArticleHandler serves the paginated read API over any ArticlePager.
type ArticleHandler struct {
	pager  ports.ArticlePager
	logger *slog.Logger
}

func NewArticleHandler(pager ports.ArticlePager, logger *slog.Logger) *ArticleHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ArticleHandler{pager: pager, logger: logger}
}

// GetArticles handles GET /articles?page=&per_page= with an optional continuation token.
func (h *ArticleHandler) GetArticles(c *gin.Context) {
	page, err := intParam(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page or per_page parameter. Must be an integer."})
		return
	}
	perPage, err := intParam(c, "per_page", domain.DefaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page or per_page parameter. Must be an integer."})
		return
	}

	token := strings.TrimSpace(c.Query("continuation_token"))
	if token == "" {
		token = strings.TrimSpace(c.GetHeader(continuationHeader))
	}
	if token != "" && h.pager.Mode() == domain.PaginationOffset {
		h.logger.Debug("ignoring continuation token for offset store")
		token = ""
	}

	result, err := h.pager.Page(c.Request.Context(), domain.PageRequest{Page: page, PageSize: perPage, Cursor: token})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid continuation token"})
			return
		}
		h.logger.Error("error fetching articles", "page", page, "per_page", perPage, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if result.NextCursor != "" {
		c.Header(continuationHeader, result.NextCursor)
	}
	c.JSON(http.StatusOK, toArticlesResponse(result))
}

// GetHealth reports whether the store answers a count query.
func (h *ArticleHandler) GetHealth(c *gin.Context) {
	total, err := h.pager.Count(c.Request.Context())
	if err != nil {
		h.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
		"articles": total,
	})
}

// intParam parses an optional integer query parameter.
func intParam(c *gin.Context, name string, fallback int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

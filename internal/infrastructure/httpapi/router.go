package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"HNSummaries/internal/logging"
	"HNSummaries/internal/metrics"
	"HNSummaries/internal/ports"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// NewRouter builds the gin engine for the read API.
func NewRouter(pager ports.ArticlePager, opts RouterOptions) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(opts.Logger, opts.Metrics))

	corsConfig := cors.Config{
		AllowOrigins:  opts.AllowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", continuationHeader},
		ExposeHeaders: []string{continuationHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(opts.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	handler := NewArticleHandler(pager, opts.Logger)
	router.GET("/articles", handler.GetArticles)
	router.GET("/data", handler.GetArticles)
	router.GET("/health", handler.GetHealth)
	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	return router
}

// requestLogger logs one line per request and counts it.
func requestLogger(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.RecordRequest(route, status)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			attrs = append(attrs, "query", query)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("HTTP request", attrs...)
			return
		}
		logger.Info("HTTP request", attrs...)
	}
}

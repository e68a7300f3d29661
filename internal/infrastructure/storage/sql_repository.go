package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"HNSummaries/internal/domain"
	"HNSummaries/internal/ports"
)

// Dialect selects placeholder style and DDL for the SQL store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

var articleColumns = []string{
	"id",
	"title",
	"link",
	"comments_link",
	"score",
	"num_comments",
	"article_summary",
	"comments_summary",
	"gemini_is_relevant",
	"gemini_relevance_score",
	"timestamp",
}

// SQLRepository is the single-node store: offset pagination over Postgres or SQLite.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	table   string
	builder sq.StatementBuilderType
}

var _ ports.ArticleStore = (*SQLRepository)(nil)

// NewSQLRepository wires a sql.DB opened with the driver matching dialect.
func NewSQLRepository(db *sql.DB, dialect Dialect, table string) (*SQLRepository, error) {
	if table == "" {
		table = "articles"
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	return &SQLRepository{db: db, dialect: dialect, table: table, builder: builder}, nil
}

// Mode reports offset pagination.
func (r *SQLRepository) Mode() domain.PaginationMode {
	return domain.PaginationOffset
}

// EnsureSchema creates the articles table when missing.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	timestampType := "TIMESTAMPTZ"
	if r.dialect == DialectSQLite {
		timestampType = "DATETIME"
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		link TEXT NOT NULL,
		comments_link TEXT,
		score INTEGER NOT NULL DEFAULT 0,
		num_comments INTEGER NOT NULL DEFAULT 0,
		article_summary TEXT NOT NULL,
		comments_summary TEXT NOT NULL,
		gemini_is_relevant BOOLEAN NOT NULL DEFAULT FALSE,
		gemini_relevance_score INTEGER NOT NULL DEFAULT 0,
		timestamp %s NOT NULL
	)`, r.table, timestampType)

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp_idx ON %s (timestamp DESC, id)`, r.table, r.table)
	if _, err := r.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create timestamp index: %w", err)
	}
	return nil
}

// AlreadyProcessed returns a map with IDs that already exist in storage.
func (r *SQLRepository) AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error) {
	if r.db == nil || len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := r.builder.Select("id").From(r.table).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build processed query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query processed: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// Upsert inserts the article or replaces the row with the same id.
func (r *SQLRepository) Upsert(ctx context.Context, article domain.StoredArticle) error {
	if r.db == nil {
		return fmt.Errorf("sql repository has no database")
	}

	updates := make([]string, 0, len(articleColumns)-1)
	for _, col := range articleColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	query, args, err := r.builder.
		Insert(r.table).
		Columns(articleColumns...).
		Values(
			article.ID,
			article.Title,
			article.Link,
			nullableString(article.DiscussionLink),
			article.Score,
			article.CommentCount,
			article.ArticleSummary,
			article.CommentsSummary,
			article.IsRelevant,
			article.RelevanceScore,
			article.Timestamp.UTC(),
		).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert article %s: %w", article.ID, err)
	}
	return nil
}

// Page returns one offset page, newest first. Pages past the end are empty
// and never reach the database.
func (r *SQLRepository) Page(ctx context.Context, req domain.PageRequest) (domain.PageResult, error) {
	req = req.Normalize()

	total, err := r.Count(ctx)
	if err != nil {
		return domain.PageResult{}, err
	}

	result := domain.PageResult{
		Articles:   []domain.StoredArticle{},
		TotalCount: total,
		TotalPages: domain.TotalPages(total, req.PageSize),
		Page:       req.Page,
		PageSize:   req.PageSize,
	}
	if req.Page > result.TotalPages {
		return result, nil
	}

	query, args, err := r.builder.
		Select(articleColumns...).
		From(r.table).
		OrderBy("timestamp DESC", "id ASC").
		Limit(uint64(req.PageSize)).
		Offset(uint64((req.Page - 1) * req.PageSize)).
		ToSql()
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("build page query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return domain.PageResult{}, err
		}
		result.Articles = append(result.Articles, article)
	}
	if err := rows.Err(); err != nil {
		return domain.PageResult{}, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// Count returns the number of stored articles.
func (r *SQLRepository) Count(ctx context.Context) (int, error) {
	query, args, err := r.builder.Select("COUNT(*)").From(r.table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return total, nil
}

func scanArticle(rows *sql.Rows) (domain.StoredArticle, error) {
	var (
		a            domain.StoredArticle
		commentsLink sql.NullString
	)
	err := rows.Scan(
		&a.ID,
		&a.Title,
		&a.Link,
		&commentsLink,
		&a.Score,
		&a.CommentCount,
		&a.ArticleSummary,
		&a.CommentsSummary,
		&a.IsRelevant,
		&a.RelevanceScore,
		&a.Timestamp,
	)
	if err != nil {
		return domain.StoredArticle{}, fmt.Errorf("scan article: %w", err)
	}
	a.DiscussionLink = commentsLink.String
	a.Timestamp = a.Timestamp.UTC()
	return a, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func validIdentifier(name string) bool {
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return name != ""
}

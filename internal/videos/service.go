package videos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

// CategoryAll selects every category in GetVideosByCategory.
const CategoryAll = "all"

const relevantLimit = 10

const videoColumns = `id, title, description, thumbnail, duration, category, views, upload_date, url, relevant_for`

// Service gives read access to the video catalog and counts views.
type Service struct {
	store  *db.Store
	logger *zap.SugaredLogger
}

func NewService(store *db.Store, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, logger: logger}
}

func joinTags(tags []entities.StressType) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitTags(raw string) []entities.StressType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]entities.StressType, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, entities.StressType(p))
		}
	}
	return tags
}

// likePattern builds a substring pattern with LIKE wildcards escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func (s *Service) query(ctx context.Context, where string, args ...any) ([]entities.Video, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	videos := []entities.Video{}
	for rows.Next() {
		var (
			v                 entities.Video
			uploaded, tagList string
		)
		if err := rows.Scan(&v.ID, &v.Title, &v.Description, &v.Thumbnail, &v.Duration,
			&v.Category, &v.Views, &uploaded, &v.URL, &tagList); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		if v.UploadDate, err = db.ParseTime(uploaded); err != nil {
			return nil, err
		}
		v.RelevantFor = splitTags(tagList)
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// GetVideos lists the catalog, newest upload first.
func (s *Service) GetVideos(ctx context.Context) ([]entities.Video, error) {
	return s.query(ctx, `ORDER BY upload_date DESC`)
}

// SearchVideos matches query case-insensitively against title, description
// and category. A blank query returns everything.
func (s *Service) SearchVideos(ctx context.Context, query string) ([]entities.Video, error) {
	if strings.TrimSpace(query) == "" {
		return s.GetVideos(ctx)
	}

	pattern := likePattern(strings.ToLower(query))
	return s.query(ctx,
		`WHERE LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\' OR LOWER(category) LIKE ? ESCAPE '\'
		 ORDER BY upload_date DESC`,
		pattern, pattern, pattern,
	)
}

// GetVideosByCategory filters by exact category name. CategoryAll, or an
// empty category, returns everything.
func (s *Service) GetVideosByCategory(ctx context.Context, category string) ([]entities.Video, error) {
	if category == "" || category == CategoryAll {
		return s.GetVideos(ctx)
	}
	return s.query(ctx, `WHERE category = ? ORDER BY upload_date DESC`, category)
}

// GetRelevantVideos returns the most viewed videos tagged with stressType.
func (s *Service) GetRelevantVideos(ctx context.Context, stressType entities.StressType) ([]entities.Video, error) {
	return s.query(ctx,
		`WHERE relevant_for LIKE ? ESCAPE '\' ORDER BY views DESC LIMIT ?`,
		likePattern(string(stressType)), relevantLimit,
	)
}

// GetVideoCategories lists the distinct categories in sorted order.
func (s *Service) GetVideoCategories(ctx context.Context) ([]string, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT DISTINCT category FROM videos ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// IncrementVideoViews adds one view. Unknown ids return db.ErrNotFound.
func (s *Service) IncrementVideoViews(ctx context.Context, videoID string) error {
	res, err := s.store.Exec(ctx, `UPDATE videos SET views = views + 1 WHERE id = ?`, videoID)
	if err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	return db.RowsAffected(res)
}

// AddVideos inserts catalog entries in one transaction.
func (s *Service) AddVideos(ctx context.Context, videos []entities.Video) error {
	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO videos (`+videoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, v := range videos {
			if _, err := stmt.ExecContext(ctx, v.ID, v.Title, v.Description, v.Thumbnail, v.Duration,
				v.Category, v.Views, db.FormatTime(v.UploadDate), v.URL, joinTags(v.RelevantFor)); err != nil {
				return fmt.Errorf("video %s: %w", v.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add videos: %w", err)
	}

	s.logger.Infow("Videos added", "count", len(videos))
	return nil
}

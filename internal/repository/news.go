package repository

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
)

// NewsRepository manages news articles and their embeddings. Deduplication
// rides on the partial unique indexes over (source, source_id) and
// (source, url): INSERT OR IGNORE makes re-ingesting a window a no-op.
type NewsRepository struct {
	db *database.DB
}

func NewNewsRepository(db *database.DB) *NewsRepository {
	return &NewsRepository{db: db}
}

// Insert writes articles, skipping ones already stored. Returns the number
// of new rows.
func (r *NewsRepository) Insert(ctx context.Context, articles []domain.NewsArticle) (int, error) {
	inserted := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO news_articles
				(source_id, title, body, source, url, publish_time, related_symbols)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range articles {
			related, err := encodeRelated(a.RelatedSymbols)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx,
				nullStr(a.SourceID), a.Title, nullStr(a.Body), a.Source, nullStr(a.URL),
				a.PublishTime.Format(tsLayout), related)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return inserted, fmt.Errorf("insert news: %w", err)
	}
	return inserted, nil
}

// DeleteOlderThan removes articles published before the cutoff. When
// protectWatchlist is set, articles mentioning a watchlist symbol survive
// regardless of age.
func (r *NewsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, protectWatchlist bool) (int64, error) {
	query := "DELETE FROM news_articles WHERE publish_time < ?"
	if protectWatchlist {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM json_each(COALESCE(news_articles.related_symbols, '[]')) je
			JOIN watchlist w ON w.code = je.value)`
	}
	res, err := r.db.Conn().ExecContext(ctx, query, cutoff.Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("delete old news: %w", err)
	}
	return res.RowsAffected()
}

// WithoutEmbedding returns up to limit articles that still need a vector,
// oldest first so backlog drains in publish order.
func (r *NewsRepository) WithoutEmbedding(ctx context.Context, limit int) ([]domain.NewsArticle, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, COALESCE(source_id,''), title, COALESCE(body,''), source, COALESCE(url,''), publish_time, COALESCE(related_symbols,'[]')
		FROM news_articles WHERE embedding IS NULL ORDER BY publish_time LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("news without embedding: %w", err)
	}
	defer rows.Close()

	var out []domain.NewsArticle
	for rows.Next() {
		var a domain.NewsArticle
		var pub, related string
		if err := rows.Scan(&a.ID, &a.SourceID, &a.Title, &a.Body, &a.Source, &a.URL, &pub, &related); err != nil {
			return nil, err
		}
		if a.PublishTime, err = parseDate(pub); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(related), &a.RelatedSymbols); err != nil {
			return nil, fmt.Errorf("decode related symbols for news %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetEmbedding stores the vector for one article.
func (r *NewsRepository) SetEmbedding(ctx context.Context, id int64, vec []float32) error {
	_, err := r.db.Conn().ExecContext(ctx,
		"UPDATE news_articles SET embedding = ? WHERE id = ?", encodeVector(vec), id)
	if err != nil {
		return fmt.Errorf("set embedding for news %d: %w", id, err)
	}
	return nil
}

// Count returns the total number of stored articles.
func (r *NewsRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM news_articles").Scan(&n)
	return n, err
}

// encodeVector packs float32s little-endian, 4 bytes per dimension.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func encodeRelated(symbols []string) (any, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

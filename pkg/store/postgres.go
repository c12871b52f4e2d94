package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// migrations はギャラリー用のスキーマです。
var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_create_images",
			Up: []string{`
				CREATE TABLE IF NOT EXISTS images (
					id                 TEXT PRIMARY KEY,
					prompt             TEXT NOT NULL,
					settings           JSONB NOT NULL,
					mime_type          TEXT NOT NULL,
					data               BYTEA NOT NULL,
					sources            JSONB NOT NULL DEFAULT '[]',
					generation_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
					status             TEXT NOT NULL,
					created_at         TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS images_created_at_idx ON images (created_at DESC)`,
			},
			Down: []string{`DROP TABLE IF EXISTS images`},
		},
	},
}

// PostgresStore は PostgreSQL の images テーブルに保存します。
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres は接続を開いてマイグレーションを適用します。
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging db: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate は未適用のマイグレーションを適用します。
func (s *PostgresStore) Migrate() error {
	n, err := migrate.Exec(s.db, "postgres", migrations, migrate.Up)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if n > 0 {
		slog.Info("マイグレーションを適用しました", "count", n)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Save(ctx context.Context, img domain.GeneratedImage) error {
	if err := checkPersistable(img); err != nil {
		return err
	}
	settings, err := json.Marshal(img.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	sources := img.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	srcJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}

	const query = `
		INSERT INTO images (id, prompt, settings, mime_type, data, sources, generation_seconds, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			prompt = EXCLUDED.prompt,
			settings = EXCLUDED.settings,
			mime_type = EXCLUDED.mime_type,
			data = EXCLUDED.data,
			sources = EXCLUDED.sources,
			generation_seconds = EXCLUDED.generation_seconds,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		img.ID, img.Prompt, settings, img.MIMEType, img.Data, srcJSON, img.GenerationSeconds, string(img.Status), img.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving image %s: %w", img.ID, err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]domain.GeneratedImage, error) {
	const query = `
		SELECT id, prompt, settings, mime_type, data, sources, generation_seconds, status, created_at
		FROM images
		ORDER BY created_at DESC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetching images: %w", err)
	}
	defer rows.Close()

	var images []domain.GeneratedImage
	for rows.Next() {
		var (
			img               domain.GeneratedImage
			settings, sources []byte
			status            string
		)
		if err := rows.Scan(&img.ID, &img.Prompt, &settings, &img.MIMEType, &img.Data, &sources, &img.GenerationSeconds, &status, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning image: %w", err)
		}
		if err := json.Unmarshal(settings, &img.Settings); err != nil {
			slog.WarnContext(ctx, "設定を復元できないため既定値を使います", "id", img.ID, "error", err)
			img.Settings = domain.DefaultSettings()
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &img.Sources); err != nil {
				slog.WarnContext(ctx, "出典を復元できません", "id", img.ID, "error", err)
			}
		}
		img.Status = domain.Status(status)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating images: %w", err)
	}
	return images, nil
}

func (s *PostgresStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `DELETE FROM images WHERE id = ANY($1)`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("deleting images: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM images`); err != nil {
		return fmt.Errorf("clearing images: %w", err)
	}
	return nil
}

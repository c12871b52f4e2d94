package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var imageColumns = []string{"id", "prompt", "settings", "mime_type", "data", "sources", "generation_seconds", "status", "created_at"}

func newMockDB(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert で保存するのだ", func(t *testing.T) {
		s, mock := newMockDB(t)
		img := image("a", 0)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images")).
			WithArgs("a", img.Prompt, sqlmock.AnyArg(), "image/png", img.Data, sqlmock.AnyArg(), 1.5, "completed", img.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Save(ctx, img))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("完成していない画像は DB に触れないのだ", func(t *testing.T) {
		s, mock := newMockDB(t)
		img := image("a", 0)
		img.Status = domain.StatusError
		assert.ErrorIs(t, s.Save(ctx, img), ErrNotPersistable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DB のエラーを包んで返すのだ", func(t *testing.T) {
		s, mock := newMockDB(t)
		boom := errors.New("connection reset")
		mock.ExpectExec("INSERT INTO images").WillReturnError(boom)
		assert.ErrorIs(t, s.Save(ctx, image("a", 0)), boom)
	})
}

func TestPostgresStore_LoadAll(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockDB(t)

	img := image("a", 0)
	rows := sqlmock.NewRows(imageColumns).
		AddRow("a", img.Prompt, []byte(`{"aspect_ratio":"16:9","resolution":"2K","batch_size":1,"model":"pro","image_to_image":false,"grounding":true,"sound_feedback":false}`),
			"image/png", img.Data, []byte(`[{"title":"Web Source","uri":"https://example.com/a"}]`), 2.5, "completed", img.CreatedAt).
		AddRow("b", "broken settings", []byte(`not json`), "image/png", []byte("png-b"), []byte(`[]`), 0.0, "completed", img.CreatedAt)
	mock.ExpectQuery("SELECT (.+) FROM images").WillReturnRows(rows)

	got, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, domain.AspectWide, got[0].Settings.AspectRatio)
	assert.Equal(t, domain.TierPro, got[0].Settings.Model)
	assert.True(t, got[0].Settings.Grounding)
	assert.Equal(t, []domain.Source{{Title: "Web Source", URI: "https://example.com/a"}}, got[0].Sources)
	assert.Equal(t, domain.StatusCompleted, got[0].Status)
	assert.Equal(t, img.Data, got[0].Data)

	assert.Equal(t, domain.DefaultSettings(), got[1].Settings, "壊れた設定は既定値に戻すのだ")
	assert.Empty(t, got[1].Sources)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("ANY で一括削除するのだ", func(t *testing.T) {
		s, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM images WHERE id = ANY($1)")).
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 2))
		require.NoError(t, s.DeleteMany(ctx, []string{"a", "b"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("空の ID リストでは何もしないのだ", func(t *testing.T) {
		s, mock := newMockDB(t)
		require.NoError(t, s.DeleteMany(ctx, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ClearAll は全行を消すのだ", func(t *testing.T) {
		s, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM images")).WillReturnResult(sqlmock.NewResult(0, 3))
		require.NoError(t, s.ClearAll(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMigrations(t *testing.T) {
	found, err := migrations.FindMigrations()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "0001_create_images", found[0].Id)
	assert.Contains(t, found[0].Up[0], "CREATE TABLE IF NOT EXISTS images")
}

func TestOpenPostgres(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "")
	assert.Error(t, err)
}

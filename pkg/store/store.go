// Package store はギャラリーの永続化先を提供します。
//
// どの実装も完成した画像だけを受け付け、LoadAll は新しい順に返します。
package store

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shouni/gemini-image-studio/pkg/domain"
)

// ErrNotPersistable は生成中や失敗した画像を保存しようとしたことを示します。
var ErrNotPersistable = errors.New("image is not persistable")

// checkPersistable は保存できる画像かを確認します。
func checkPersistable(img domain.GeneratedImage) error {
	if img.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrNotPersistable)
	}
	if img.Status != domain.StatusCompleted {
		return fmt.Errorf("%w: status is %s", ErrNotPersistable, img.Status)
	}
	if !img.HasAsset() {
		return fmt.Errorf("%w: no image data", ErrNotPersistable)
	}
	return nil
}

// sortNewest は作成日時の新しい順に並べ替えます。同時刻は ID 順です。
func sortNewest(images []domain.GeneratedImage) {
	slices.SortStableFunc(images, func(a, b domain.GeneratedImage) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// validID はファイル名として安全な ID かを返します。
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

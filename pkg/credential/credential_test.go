package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	t.Run("ファイルが無ければ空なのだ", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "missing"))
		key, err := f.Load()
		require.NoError(t, err)
		assert.Empty(t, key)
		assert.Empty(t, f.EffectiveCredential())
	})

	t.Run("保存したキーは前後の空白を取り除くのだ", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "api_key")
		f := NewFile(path)
		require.NoError(t, f.Save("  AIza-secret \n"))
		assert.Equal(t, "AIza-secret", f.EffectiveCredential())

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		reopened := NewFile(path)
		assert.Equal(t, "AIza-secret", reopened.EffectiveCredential())
	})

	t.Run("空のキーを保存するとファイルを消すのだ", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "api_key")
		f := NewFile(path)
		require.NoError(t, f.Save("key"))
		require.NoError(t, f.Save("   "))
		assert.Empty(t, f.EffectiveCredential())
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestChain(t *testing.T) {
	tests := []struct {
		name  string
		chain Chain
		want  string
	}{
		{"先頭のキーを優先するのだ", Chain{Static("stored"), Static("env")}, "stored"},
		{"先頭が空なら次を使うのだ", Chain{Static(""), Static(" env ")}, "env"},
		{"nil は読み飛ばすのだ", Chain{nil, Static("x")}, "x"},
		{"どこにも無ければ空なのだ", Chain{Static("  ")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.chain.EffectiveCredential())
		})
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask("abcd"))
	assert.Equal(t, "****5678", Mask("12345678"))
	assert.Equal(t, "", Mask(""))
}

// Package cli は studio コマンドの実装です。
package cli

import (
	"log/slog"

	"github.com/shouni/gemini-image-studio/pkg/config"
	"github.com/spf13/cobra"
)

// rootOptions はサブコマンドで共有する状態です。
type rootOptions struct {
	cfg *config.Config
}

// NewRootCmd は studio コマンドを組み立てます。
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "studio",
		Short: "Gemini で画像を生成し、ギャラリーとして管理します",
		Long: `studio は Gemini の画像モデルで画像を生成・編集するツールです。

複数枚の生成を並行して実行し、一時的なエラーは自動で再試行します。
生成した画像はギャラリーに保存され、一覧・削除・書き出しができます。`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()})))
			opts.cfg = cfg
			return nil
		},
	}

	cmd.AddCommand(
		newGenerateCmd(opts),
		newListCmd(opts),
		newRemoveCmd(opts),
		newClearCmd(opts),
		newExportCmd(opts),
		newAuthCmd(opts),
	)
	return cmd
}

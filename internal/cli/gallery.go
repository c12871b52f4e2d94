package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shouni/gemini-image-studio/pkg/store"
	"github.com/spf13/cobra"
)

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "ギャラリーの画像を新しい順に一覧表示します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.studio.Load(ctx); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tMODEL\tASPECT\tPROMPT")
			for _, img := range a.studio.Images() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					img.ID, img.CreatedAt.Local().Format(time.DateTime), img.Settings.Model, img.Settings.AspectRatio, truncate(img.Prompt, 40))
			}
			return w.Flush()
		},
	}
}

func newRemoveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "ギャラリーから画像を削除します",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.studio.Load(ctx); err != nil {
				return err
			}
			a.studio.RemoveMany(ctx, args)
			a.studio.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%d 件を削除しました\n", len(args))
			return nil
		},
	}
}

func newClearCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "ギャラリーを空にします",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the gallery without --yes")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			a.studio.ClearAll(ctx)
			a.studio.Flush()
			fmt.Fprintln(cmd.OutOrStdout(), "ギャラリーを空にしました")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "確認なしで実行する")
	return cmd
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "ギャラリーのメタデータを Parquet に書き出します",
		Example: `  studio export --parquet gallery.parquet`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.studio.Load(ctx); err != nil {
				return err
			}
			n, err := store.ExportParquet(path, a.studio.Images())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d 件を %s に書き出しました\n", n, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "parquet", "", "書き出し先の Parquet ファイル")
	_ = cmd.MarkFlagRequired("parquet")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

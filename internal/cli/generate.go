package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/shouni/gemini-image-studio/pkg/domain"
	"github.com/shouni/gemini-image-studio/pkg/studio"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type generateOptions struct {
	batch      int
	model      string
	aspect     string
	resolution string
	grounding  bool
	refs       []string
	edit       string
	out        string
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	o := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "プロンプトから画像を生成します",
		Example: `  # 4枚を 16:9 で生成
  studio generate -n 4 --aspect 16:9 "夕暮れの港町"

  # 参照画像を使って生成
  studio generate --ref ./cat.png --ref https://example.com/style.jpg "水彩画風に"

  # ギャラリーの画像を編集
  studio generate --edit 3f2b... "背景を青空にする"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.batch, "batch", "n", 1, "生成する枚数 (1-10)")
	f.StringVarP(&o.model, "model", "m", "", "モデルのティア (pro または fast)")
	f.StringVarP(&o.aspect, "aspect", "a", "", "縦横比 (例: 1:1, 16:9)")
	f.StringVarP(&o.resolution, "resolution", "r", "", "解像度 (1K, 2K, 4K)。pro ティアのみ有効です")
	f.BoolVar(&o.grounding, "grounding", false, "Google 検索によるグラウンディングを使う (pro ティアのみ)")
	f.StringSliceVar(&o.refs, "ref", nil, "参照画像のパスまたは URL (複数指定可)")
	f.StringVar(&o.edit, "edit", "", "編集するギャラリー画像の ID")
	f.StringVarP(&o.out, "out", "o", "", "完成した画像を書き出すディレクトリ")
	return cmd
}

// settings はフラグで指定された項目だけを既定の設定に上書きします。
func (o *generateOptions) settings(flags *pflag.FlagSet, def domain.Settings) domain.Settings {
	return def.With(func(s *domain.Settings) {
		if flags.Changed("batch") {
			s.BatchSize = o.batch
		}
		if flags.Changed("model") {
			s.Model = domain.ModelTier(o.model)
		}
		if flags.Changed("aspect") {
			s.AspectRatio = domain.AspectRatio(o.aspect)
		}
		if flags.Changed("resolution") {
			s.Resolution = domain.Resolution(o.resolution)
		}
		if flags.Changed("grounding") {
			s.Grounding = o.grounding
		}
		s.ImageToImage = len(o.refs) > 0
	})
}

func (o *generateOptions) run(cmd *cobra.Command, root *rootOptions, prompt string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, root.cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.studio.Load(ctx); err != nil {
		slog.WarnContext(ctx, "ギャラリーを読み込めませんでした", "error", err)
	}

	refs, err := loadRefs(o.refs)
	if err != nil {
		return err
	}
	settings := o.settings(cmd.Flags(), root.cfg.Defaults())

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	req := studio.Request{
		Prompt:     prompt,
		References: refs,
		Settings:   &settings,
		OnImage: func(img domain.GeneratedImage) {
			path, err := o.write(img)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.WarnContext(ctx, "画像を書き出せませんでした", "id", img.ID, "error", err)
			}
			printImage(out, img, path)
		},
	}
	if o.edit != "" {
		i := slices.IndexFunc(a.studio.Images(), func(img domain.GeneratedImage) bool { return img.ID == o.edit })
		if i < 0 {
			return fmt.Errorf("gallery image not found: %s", o.edit)
		}
		base := a.studio.Images()[i]
		req.EditBase = &base
	}

	// Ctrl-C はバッチ全体の中断として扱います。
	b, err := a.studio.Generate(context.WithoutCancel(ctx), req)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		n := a.studio.StopAll()
		slog.Info("中断しました", "stopped", n)
	})
	defer stop()

	res, err := b.Wait(context.Background())
	a.studio.Flush()

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "%s: %d/%d 枚を生成しました", b.Mode, len(res.Images), res.Requested)
	if res.Stopped > 0 {
		fmt.Fprintf(out, " (%d 枚中断)", res.Stopped)
	}
	fmt.Fprintln(out)
	if le := a.studio.LastError(); le != nil {
		fmt.Fprintf(out, "%s: %s\n", le.Code, le.Message)
	}
	if err != nil && errors.Is(err, domain.ErrCredentialExpired) {
		return fmt.Errorf("API キーを確認してください: %w", err)
	}
	return err
}

// write は --out が指定されていれば画像をファイルに書き出します。
func (o *generateOptions) write(img domain.GeneratedImage) (string, error) {
	if o.out == "" {
		return "", nil
	}
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(o.out, img.ID+img.Extension())
	return path, os.WriteFile(path, img.Data, 0o644)
}

func printImage(w io.Writer, img domain.GeneratedImage, path string) {
	line := fmt.Sprintf("%s  %s  %.1fs", img.ID, img.Settings.Model, img.GenerationSeconds)
	if path != "" {
		line += "  " + path
	}
	fmt.Fprintln(w, line)
	for _, src := range img.Sources {
		fmt.Fprintf(w, "  - %s <%s>\n", src.Title, src.URI)
	}
}

// loadRefs はローカルのパスを読み込み、URL はそのまま渡します。
func loadRefs(refs []string) ([]domain.ImageRef, error) {
	out := make([]domain.ImageRef, 0, len(refs))
	for _, r := range refs {
		if strings.HasPrefix(r, "data:") || strings.Contains(r, "://") {
			out = append(out, domain.ImageRef{URI: r})
			continue
		}
		data, err := os.ReadFile(r)
		if err != nil {
			return nil, fmt.Errorf("reading reference image: %w", err)
		}
		out = append(out, domain.ImageRef{URI: r, Data: data})
	}
	return out, nil
}

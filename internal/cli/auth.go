package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/shouni/gemini-image-studio/pkg/credential"
	"github.com/shouni/gemini-image-studio/pkg/generator"
	"github.com/spf13/cobra"
)

func newAuthCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Gemini API キーを管理します",
	}
	cmd.AddCommand(newAuthSetCmd(root), newAuthCheckCmd(root))
	return cmd
}

func newAuthSetCmd(root *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "set [key]",
		Short: "API キーを保存します。引数が無ければ標準入力から読みます",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading key from stdin: %w", err)
				}
				key = line
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("key is empty")
			}

			file, _, err := credentials(root.cfg)
			if err != nil {
				return err
			}
			if check {
				if err := validate(cmd, root, credential.Static(key)); err != nil {
					return err
				}
			}
			if err := file.Save(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API キー %s を %s に保存しました\n", credential.Mask(key), file.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "保存する前にキーを検証する")
	return cmd
}

func newAuthCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "現在の API キーで fast モデルに問い合わせて確認します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, creds, err := credentials(root.cfg)
			if err != nil {
				return err
			}
			if err := validate(cmd, root, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API キー %s は有効です\n", credential.Mask(creds.EffectiveCredential()))
			return nil
		},
	}
}

func validate(cmd *cobra.Command, root *rootOptions, creds generator.CredentialSource) error {
	if creds.EffectiveCredential() == "" {
		return fmt.Errorf("API キーが設定されていません: %w", generator.ErrNoCredential)
	}
	ep, err := generator.NewGenAIEndpoint(creds)
	if err != nil {
		return err
	}
	if err := generator.ValidateCredential(cmd.Context(), ep, root.cfg.FastModel); err != nil {
		var f *generator.Failure
		if errors.As(err, &f) {
			return fmt.Errorf("%s: %w", f.GenerationError().Message, err)
		}
		return err
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/pkg/event"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// マイグレーションはデータベースを開く時に適用される
			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "migrated: %s\n", rt.cfg.DatabasePath)
			return nil
		},
	}
}

func newProcessCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one event from a JSON file and print the envelopes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("イベントファイルの読み込みに失敗: %w", err)
			}
			ev, err := event.Decode(data)
			if err != nil {
				return err
			}

			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := newComponents(rt, nil)
			if err != nil {
				return err
			}
			res, err := c.processor.Process(cmd.Context(), ev)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "イベントJSONのパス (required)")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("--fileを必須にできません: %v", err))
	}
	return cmd
}

func newSeedCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import a directory snapshot (identities, roles, innovations, preferences)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("スナップショットの読み込みに失敗: %w", err)
			}
			var snapshot recipient.Snapshot
			if err := json.Unmarshal(data, &snapshot); err != nil {
				return fmt.Errorf("スナップショットの解析に失敗: %w", err)
			}

			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := recipient.NewSQLiteDirectory(rt.db).Import(cmd.Context(), snapshot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported: %d identities, %d roles, %d innovations, %d preferences\n",
				len(snapshot.Identities), len(snapshot.Roles), len(snapshot.Innovations), len(snapshot.Preferences))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "スナップショットJSONのパス (required)")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("--fileを必須にできません: %v", err))
	}
	return cmd
}

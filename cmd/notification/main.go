// 通知サービスのエントリポイント。
// ビジネスイベントを受け取り、メールとアプリ内通知を組み立てて配信する。
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/casenotify/internal/config"
	"github.com/nao1215/casenotify/internal/storage"
	"github.com/nao1215/casenotify/pkg/logging"
)

// configPath は設定ファイルのパス（--config）。
var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "notification",
		Short: "Notification service for the case-management platform",
		Long: `notification turns business events into email and in-app notifications.
It serves an HTTP API, polls the Event Store, and provides maintenance commands
for the database.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "設定ファイル(JSON)のパス")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newSeedCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app はサブコマンド共通の設定・ロガー・データベース。
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
}

// openApp は設定を読み込み、ロガーを生成してデータベースを開く。
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

// Close はデータベースを閉じ、ログを書き出す。
func (r *app) Close() {
	if err := r.db.Close(); err != nil {
		r.logger.Warn("データベースのクローズに失敗", zap.Error(err))
	}
	_ = r.logger.Sync()
}

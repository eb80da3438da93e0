// Package storage は通知サービスのSQLiteデータベースを開き、スキーマを適用する。
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/casenotify/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// MemoryPath はインメモリデータベースを表すパス。テストで使用する。
const MemoryPath = ":memory:"

// Open はSQLiteデータベースを開き、未適用のマイグレーションを適用する。
// トランザクションはIMMEDIATEで開始されるため、購読の読み取りと削除が直列化される。
func Open(ctx context.Context, path string, logger *zap.Logger) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("データベースのパスが指定されていません")
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	if err := migration.Run(ctx, db, migrationsFS, "migrations", logger.Named("migration")); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}

// dsn はパスからSQLiteの接続文字列を組み立てる。
// インメモリDBは呼び出しごとに名前付きの共有キャッシュにして、
// 同じ*sql.DBの接続間でデータベースを共有させる。
func dsn(path string) string {
	if path == MemoryPath {
		return "file:" + uuid.New().String() + "?mode=memory&cache=shared&_pragma=foreign_keys(ON)"
	}
	return "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_txlock=immediate"
}

// timeLayout は保存用の書式。固定幅なので文字列の順序が時刻の順序になる。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timeLayouts はSQLiteに保存された日時文字列として受け付ける書式。
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// FormatTime は日時を保存用の文字列に変換する。
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime はDATETIME列から読み取った値を日時に変換する。
// ドライバーは列の宣言型によってtime.Timeか文字列のどちらかを返す。
func ParseTime(v any) (time.Time, error) {
	var s string
	switch vv := v.(type) {
	case time.Time:
		return vv.UTC(), nil
	case string:
		s = vv
	case []byte:
		s = string(vv)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("日時として解釈できない値: %T", v)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("日時の解析に失敗: %q", s)
}

package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// openMemoryDB はテスト用のインメモリSQLiteを開く。
func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// countRows は指定テーブルの行数を返す。
func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("%s の件数取得に失敗: %v", table, err)
	}
	return n
}

// TestRun はRun関数を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_items.up.sql":      {Data: []byte(`INSERT INTO items (name) VALUES ('seed');`)},
		"migrations/000001_create_items.up.sql":   {Data: []byte(`CREATE TABLE items (name TEXT NOT NULL);`)},
		"migrations/000001_create_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
		"migrations/README.md":                    {Data: []byte(`ignored`)},
	}

	t.Run("バージョン順に適用されること", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		if err := Run(context.Background(), db, fsys, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if got := countRows(t, db, "items"); got != 1 {
			t.Errorf("items件数 = %d, want 1", got)
		}
		if got := countRows(t, db, "schema_migrations"); got != 2 {
			t.Errorf("schema_migrations件数 = %d, want 2", got)
		}
	})

	t.Run("2回実行しても適用済みのものはスキップされること", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		for i := 0; i < 2; i++ {
			if err := Run(context.Background(), db, fsys, "migrations", zap.NewNop()); err != nil {
				t.Fatalf("%d回目のRun()でエラーが発生: %v", i+1, err)
			}
		}
		if got := countRows(t, db, "items"); got != 1 {
			t.Errorf("items件数 = %d, want 1", got)
		}
	})

	t.Run("SQLが不正な場合はエラーになりバージョンが記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte(`CREATE TABLE (;`)},
		}
		if err := Run(context.Background(), db, broken, "m", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
		if got := countRows(t, db, "schema_migrations"); got != 0 {
			t.Errorf("schema_migrations件数 = %d, want 0", got)
		}
	})

	t.Run("バージョンが重複している場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		db := openMemoryDB(t)
		dup := fstest.MapFS{
			"m/000001_a.up.sql": {Data: []byte(`SELECT 1;`)},
			"m/000001_b.up.sql": {Data: []byte(`SELECT 1;`)},
		}
		if err := Run(context.Background(), db, dup, "m", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
	})
}

package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/casenotify/internal/storage"
	"github.com/nao1215/casenotify/pkg/event"
)

// querier は*sql.DBと*sql.Txの共通部分。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLiteStore はSQLiteを使うStoreの実装。
type SQLiteStore struct {
	db *sql.DB
	q  querier
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore は新しいSQLiteStoreを生成する。
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, q: db}
}

// Transact はfnを1つのトランザクションで実行する。
// fnに渡すストアの操作はすべてそのトランザクション内で行われ、fnがエラーを返すとロールバックする。
func (s *SQLiteStore) Transact(ctx context.Context, fn func(tx *SQLiteStore) error) error {
	if s.db == nil {
		return errors.New("トランザクション内でTransactは呼び出せません")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&SQLiteStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return nil
}

const selectColumns = `id, role_id, innovation_id, event_type, subscription_type, pre_conditions, created_at`

// InnovationEventSubscriptions はイノベーションとイベント種別に一致する購読を作成順で返す。
func (s *SQLiteStore) InnovationEventSubscriptions(ctx context.Context, innovationID string, eventType event.Type) ([]Subscription, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM subscriptions
WHERE innovation_id = ? AND event_type = ?
ORDER BY created_at, rowid`, innovationID, string(eventType))
}

// ListByRole はロールが所有する購読を作成順で返す。
func (s *SQLiteStore) ListByRole(ctx context.Context, roleID string) ([]Subscription, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM subscriptions
WHERE role_id = ?
ORDER BY created_at, rowid`, roleID)
}

// DeleteSubscription は購読を削除する。
func (s *SQLiteStore) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Create は購読を保存する。IDと作成日時が空なら採番する。
func (s *SQLiteStore) Create(ctx context.Context, sub Subscription) (Subscription, error) {
	if !sub.Type.Valid() {
		return Subscription{}, fmt.Errorf("不明な購読種別: %q", sub.Type)
	}
	if !Subscribable(sub.EventType) {
		return Subscription{}, fmt.Errorf("購読できないイベント種別: %q", sub.EventType)
	}
	if sub.RoleID == "" || sub.InnovationID == "" {
		return Subscription{}, errors.New("購読にはロールIDとイノベーションIDが必要です")
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if sub.PreConditions == nil {
		sub.PreConditions = map[string]any{}
	}

	pre, err := json.Marshal(sub.PreConditions)
	if err != nil {
		return Subscription{}, fmt.Errorf("事前条件のシリアライズに失敗: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `
INSERT INTO subscriptions (id, role_id, innovation_id, event_type, subscription_type, pre_conditions, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.RoleID, sub.InnovationID, string(sub.EventType), string(sub.Type), string(pre), storage.FormatTime(sub.CreatedAt)); err != nil {
		return Subscription{}, fmt.Errorf("購読の保存に失敗: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []Subscription
	for rows.Next() {
		var (
			sub       Subscription
			eventType string
			subType   string
			pre       string
			createdAt any
		)
		if err := rows.Scan(&sub.ID, &sub.RoleID, &sub.InnovationID, &eventType, &subType, &pre, &createdAt); err != nil {
			return nil, fmt.Errorf("購読の読み取りに失敗: %w", err)
		}
		sub.EventType = event.Type(eventType)
		sub.Type = Type(subType)
		if err := json.Unmarshal([]byte(pre), &sub.PreConditions); err != nil {
			return nil, fmt.Errorf("購読 %s の事前条件の解析に失敗: %w", sub.ID, err)
		}
		if sub.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("購読 %s の作成日時の解析に失敗: %w", sub.ID, err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読の走査に失敗: %w", err)
	}
	return subs, nil
}

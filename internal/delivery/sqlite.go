package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/internal/storage"
)

// SQLiteSink はSQLiteに保存するSinkの実装。受信箱の参照と既読管理も提供する。
type SQLiteSink struct {
	db    *sql.DB
	prefs PreferenceSource
	now   func() time.Time
}

var _ Sink = (*SQLiteSink)(nil)

// NewSQLiteSink は新しいSQLiteSinkを生成する。
func NewSQLiteSink(db *sql.DB, prefs PreferenceSource) *SQLiteSink {
	return &SQLiteSink{db: db, prefs: prefs, now: time.Now}
}

// Deliver はメールとアプリ内通知を1トランザクションで保存する。
// どちらかの保存に失敗した場合は何も保存しない。
func (s *SQLiteSink) Deliver(ctx context.Context, res dispatch.Result) error {
	if res.Empty() {
		return nil
	}

	// 通知設定はトランザクションの外で読む
	prefs, err := s.preferences(ctx, res.Emails)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	createdAt := storage.FormatTime(s.now())
	if err := insertInApps(ctx, tx, res.InApps, createdAt); err != nil {
		return err
	}
	if err := insertEmails(ctx, tx, res.Emails, prefs, createdAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("配信内容のコミットに失敗: %w", err)
	}
	return nil
}

// DeliverEmails はメールを送信待ちキューに保存する。
// 通知設定で拒否されたメールはskippedとして記録する。
func (s *SQLiteSink) DeliverEmails(ctx context.Context, emails []dispatch.EmailEnvelope) error {
	return s.Deliver(ctx, dispatch.Result{Emails: emails})
}

// DeliverInApp はアプリ内通知を宛先ロールごとに1行ずつ受信箱へ保存する。
func (s *SQLiteSink) DeliverInApp(ctx context.Context, inApps []dispatch.InAppEnvelope) error {
	return s.Deliver(ctx, dispatch.Result{InApps: inApps})
}

// preferences は通知設定の確認が必要な宛先の設定を取得する。
func (s *SQLiteSink) preferences(ctx context.Context, emails []dispatch.EmailEnvelope) (map[string]recipient.Preferences, error) {
	roleIDs := make([]string, 0, len(emails))
	for _, e := range emails {
		if e.Category != "" && !e.Options.IgnorePreferences && e.Recipient.RoleID != "" {
			roleIDs = append(roleIDs, e.Recipient.RoleID)
		}
	}
	if len(roleIDs) == 0 {
		return map[string]recipient.Preferences{}, nil
	}
	prefs, err := s.prefs.EmailPreferences(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("メール通知設定の取得に失敗: %w", err)
	}
	return prefs, nil
}

func insertEmails(ctx context.Context, tx *sql.Tx, emails []dispatch.EmailEnvelope, prefs map[string]recipient.Preferences, createdAt string) error {
	for _, e := range emails {
		status := EmailSkipped
		if shouldSend(e, prefs) {
			status = EmailQueued
		}
		params, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("メールパラメータのシリアライズに失敗: %w", err)
		}
		var category sql.NullString
		if e.Category != "" {
			category = sql.NullString{String: string(e.Category), Valid: true}
		}
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO email_outbox (id, template_id, category, role_id, to_email, display_name, params, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.TemplateID, category, e.Recipient.RoleID, e.Recipient.Email, e.Recipient.DisplayName,
			string(params), string(status), createdAt); err != nil {
			return fmt.Errorf("メールの保存に失敗: %w", err)
		}
	}
	return nil
}

func insertInApps(ctx context.Context, tx *sql.Tx, inApps []dispatch.InAppEnvelope, createdAt string) error {
	for _, n := range inApps {
		params, err := json.Marshal(n.Params)
		if err != nil {
			return fmt.Errorf("通知パラメータのシリアライズに失敗: %w", err)
		}
		envelopeID := n.ID
		if envelopeID == "" {
			envelopeID = uuid.New().String()
		}
		for _, roleID := range n.UserRoleIDs {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO notifications (id, envelope_id, role_id, innovation_id, template_id, context_type, context_detail, context_id, params, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), envelopeID, roleID, n.InnovationID, n.TemplateID,
				n.Context.Type, n.Context.Detail, n.Context.ID, string(params), createdAt); err != nil {
				return fmt.Errorf("通知の保存に失敗: %w", err)
			}
		}
	}
	return nil
}

const notificationColumns = `id, envelope_id, role_id, innovation_id, template_id, context_type, context_detail, context_id, params, is_read, created_at`

// List はロールの通知を新しい順に返す。unreadOnlyなら未読だけを返す。
func (s *SQLiteSink) List(ctx context.Context, roleID string, unreadOnly bool) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE role_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の走査に失敗: %w", err)
	}
	return notifications, nil
}

// Get は通知を1件返す。存在しない場合はErrNotFound。
func (s *SQLiteSink) Get(ctx context.Context, id string) (Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	return n, err
}

// MarkRead はロールの通知を既読にする。
// 存在しない場合はErrNotFound、他のロールの通知ならErrForbidden。
func (s *SQLiteSink) MarkRead(ctx context.Context, roleID, id string) error {
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.RoleID != roleID {
		return ErrForbidden
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return nil
}

// MarkAllRead はロールの未読通知をすべて既読にし、更新件数を返す。
func (s *SQLiteSink) MarkAllRead(ctx context.Context, roleID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE role_id = ? AND is_read = 0`, roleID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Outbox は送信待ちキューのメールを古い順に返す。statusが空ならすべて返す。
func (s *SQLiteSink) Outbox(ctx context.Context, status EmailStatus) ([]OutboxEmail, error) {
	query := `SELECT id, template_id, COALESCE(category, ''), role_id, to_email, display_name, params, status, created_at FROM email_outbox`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("送信待ちメールの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	emails := make([]OutboxEmail, 0)
	for rows.Next() {
		var (
			e         OutboxEmail
			category  string
			params    string
			st        string
			createdAt any
		)
		if err := rows.Scan(&e.ID, &e.TemplateID, &category, &e.RoleID, &e.ToEmail, &e.DisplayName, &params, &st, &createdAt); err != nil {
			return nil, fmt.Errorf("送信待ちメールの読み取りに失敗: %w", err)
		}
		e.Category = recipient.Category(category)
		e.Status = EmailStatus(st)
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			return nil, fmt.Errorf("メールパラメータの解析に失敗: %w", err)
		}
		if e.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("送信待ちメールの走査に失敗: %w", err)
	}
	return emails, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(r rowScanner) (Notification, error) {
	var (
		n         Notification
		params    string
		isRead    int
		createdAt any
	)
	if err := r.Scan(&n.ID, &n.EnvelopeID, &n.RoleID, &n.InnovationID, &n.TemplateID,
		&n.Context.Type, &n.Context.Detail, &n.Context.ID, &params, &isRead, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Notification{}, err
		}
		return Notification{}, fmt.Errorf("通知の読み取りに失敗: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &n.Params); err != nil {
		return Notification{}, fmt.Errorf("通知パラメータの解析に失敗: %w", err)
	}
	n.IsRead = isRead != 0
	var err error
	if n.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return Notification{}, err
	}
	return n, nil
}

package recipient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLiteDirectory はSQLite上の読み取りモデルを使うDirectoryの実装。
type SQLiteDirectory struct {
	db *sql.DB
}

var _ Directory = (*SQLiteDirectory)(nil)

// NewSQLiteDirectory は新しいSQLiteDirectoryを生成する。
func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

// placeholders は要素数n個分の "?, ?, ..." を返す。
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// uniqueArgs は空文字列と重複を取り除き、入力順を保ったままクエリ引数に変換する。
func uniqueArgs(ids []string) ([]string, []any) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
		args = append(args, id)
	}
	return unique, args
}

// RecipientsByRoleIDs はロールIDから宛先を解決する。
// 結果は入力順で、見つからないロールは含まれない。
func (d *SQLiteDirectory) RecipientsByRoleIDs(ctx context.Context, roleIDs []string) ([]Recipient, error) {
	ids, args := uniqueArgs(roleIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := d.db.QueryContext(ctx, `
SELECT r.id, r.user_id, r.identity_id, r.role, COALESCE(r.organisation_unit_id, ''), r.locked,
       COALESCE(i.email, ''), COALESCE(i.display_name, '')
FROM user_roles r
LEFT JOIN identities i ON i.id = r.identity_id
WHERE r.id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("ロールの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]Recipient, len(ids))
	for rows.Next() {
		var (
			r      Recipient
			role   string
			locked int
		)
		if err := rows.Scan(&r.RoleID, &r.UserID, &r.IdentityID, &role, &r.OrganisationUnitID, &locked, &r.Email, &r.DisplayName); err != nil {
			return nil, fmt.Errorf("ロールの読み取りに失敗: %w", err)
		}
		r.Role = Role(role)
		r.Locked = locked != 0
		byID[r.RoleID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ロールの読み取りに失敗: %w", err)
	}

	recipients := make([]Recipient, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			recipients = append(recipients, r)
		}
	}
	return recipients, nil
}

// Identities はIDプロバイダ識別子から表示名とメールアドレスを解決する。
func (d *SQLiteDirectory) Identities(ctx context.Context, identityIDs []string) (map[string]Identity, error) {
	ids, args := uniqueArgs(identityIDs)
	result := make(map[string]Identity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, display_name, email FROM identities WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("アイデンティティの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id       string
			identity Identity
		)
		if err := rows.Scan(&id, &identity.DisplayName, &identity.Email); err != nil {
			return nil, fmt.Errorf("アイデンティティの読み取りに失敗: %w", err)
		}
		result[id] = identity
	}
	return result, rows.Err()
}

// EmailPreferences はロールごとのメール通知設定を返す。
// 設定が1件もないロールは結果に含まれない。
func (d *SQLiteDirectory) EmailPreferences(ctx context.Context, roleIDs []string) (map[string]Preferences, error) {
	ids, args := uniqueArgs(roleIDs)
	result := make(map[string]Preferences, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT role_id, category, preference FROM email_preferences WHERE role_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("メール通知設定の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var roleID, category, preference string
		if err := rows.Scan(&roleID, &category, &preference); err != nil {
			return nil, fmt.Errorf("メール通知設定の読み取りに失敗: %w", err)
		}
		if result[roleID] == nil {
			result[roleID] = Preferences{}
		}
		result[roleID][Category(category)] = Preference(preference)
	}
	return result, rows.Err()
}

// InnovationInfo はイノベーションの情報を返す。
func (d *SQLiteDirectory) InnovationInfo(ctx context.Context, innovationID string) (Innovation, error) {
	var (
		inno  Innovation
		owner sql.NullString
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, owner_role_id FROM innovations WHERE id = ?`, innovationID,
	).Scan(&inno.ID, &inno.Name, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return Innovation{}, ErrNotFound
	}
	if err != nil {
		return Innovation{}, fmt.Errorf("イノベーションの取得に失敗: %w", err)
	}
	inno.OwnerRoleID = owner.String

	rows, err := d.db.QueryContext(ctx,
		`SELECT role_id FROM innovation_collaborators WHERE innovation_id = ? ORDER BY rowid`, innovationID)
	if err != nil {
		return Innovation{}, fmt.Errorf("共同作業者の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return Innovation{}, fmt.Errorf("共同作業者の読み取りに失敗: %w", err)
		}
		inno.CollaboratorRoleIDs = append(inno.CollaboratorRoleIDs, roleID)
	}
	return inno, rows.Err()
}

package recipient

import (
	"context"
	"database/sql"
	"fmt"
)

// Snapshot はディレクトリ読み取りモデルへ取り込むデータ一式。
// プラットフォーム本体からのエクスポートや開発用シードに使う。
type Snapshot struct {
	Identities  []IdentityRecord   `json:"identities"`
	Roles       []RoleRecord       `json:"roles"`
	Innovations []InnovationRecord `json:"innovations"`
	Preferences []PreferenceRecord `json:"preferences"`
}

// IdentityRecord はidentitiesテーブルの1行。
type IdentityRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// RoleRecord はuser_rolesテーブルの1行。
type RoleRecord struct {
	ID                 string `json:"id"`
	UserID             string `json:"userId"`
	IdentityID         string `json:"identityId"`
	Role               Role   `json:"role"`
	OrganisationUnitID string `json:"organisationUnitId,omitempty"`
	Locked             bool   `json:"locked,omitempty"`
}

// InnovationRecord はイノベーションと共同作業者。
type InnovationRecord struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	OwnerRoleID         string   `json:"ownerRoleId,omitempty"`
	CollaboratorRoleIDs []string `json:"collaboratorRoleIds,omitempty"`
}

// PreferenceRecord はロール・カテゴリ単位のメール通知設定。
type PreferenceRecord struct {
	RoleID     string     `json:"roleId"`
	Category   Category   `json:"category"`
	Preference Preference `json:"preference"`
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Import はスナップショットを1トランザクションで取り込む。既存の行は上書きする。
func (d *SQLiteDirectory) Import(ctx context.Context, s Snapshot) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, i := range s.Identities {
		if err := saveIdentity(ctx, tx, i); err != nil {
			return err
		}
	}
	for _, r := range s.Roles {
		if err := saveRole(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, inno := range s.Innovations {
		if err := saveInnovation(ctx, tx, inno); err != nil {
			return err
		}
	}
	for _, p := range s.Preferences {
		if err := savePreference(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("スナップショットのコミットに失敗: %w", err)
	}
	return nil
}

// SaveIdentity はアイデンティティを保存する。
func (d *SQLiteDirectory) SaveIdentity(ctx context.Context, i IdentityRecord) error {
	return saveIdentity(ctx, d.db, i)
}

// SaveRole はロールを保存する。
func (d *SQLiteDirectory) SaveRole(ctx context.Context, r RoleRecord) error {
	return saveRole(ctx, d.db, r)
}

// SaveInnovation はイノベーションを保存し、共同作業者を置き換える。
func (d *SQLiteDirectory) SaveInnovation(ctx context.Context, inno InnovationRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := saveInnovation(ctx, tx, inno); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePreference はメール通知設定を保存する。
func (d *SQLiteDirectory) SavePreference(ctx context.Context, p PreferenceRecord) error {
	return savePreference(ctx, d.db, p)
}

func saveIdentity(ctx context.Context, e execer, i IdentityRecord) error {
	_, err := e.ExecContext(ctx, `
INSERT INTO identities (id, display_name, email) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email`,
		i.ID, i.DisplayName, i.Email)
	if err != nil {
		return fmt.Errorf("アイデンティティ %s の保存に失敗: %w", i.ID, err)
	}
	return nil
}

func saveRole(ctx context.Context, e execer, r RoleRecord) error {
	var unit sql.NullString
	if r.OrganisationUnitID != "" {
		unit = sql.NullString{String: r.OrganisationUnitID, Valid: true}
	}
	locked := 0
	if r.Locked {
		locked = 1
	}
	_, err := e.ExecContext(ctx, `
INSERT INTO user_roles (id, user_id, identity_id, role, organisation_unit_id, locked) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    user_id = excluded.user_id,
    identity_id = excluded.identity_id,
    role = excluded.role,
    organisation_unit_id = excluded.organisation_unit_id,
    locked = excluded.locked`,
		r.ID, r.UserID, r.IdentityID, string(r.Role), unit, locked)
	if err != nil {
		return fmt.Errorf("ロール %s の保存に失敗: %w", r.ID, err)
	}
	return nil
}

func saveInnovation(ctx context.Context, e execer, inno InnovationRecord) error {
	var owner sql.NullString
	if inno.OwnerRoleID != "" {
		owner = sql.NullString{String: inno.OwnerRoleID, Valid: true}
	}
	if _, err := e.ExecContext(ctx, `
INSERT INTO innovations (id, name, owner_role_id) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, owner_role_id = excluded.owner_role_id`,
		inno.ID, inno.Name, owner); err != nil {
		return fmt.Errorf("イノベーション %s の保存に失敗: %w", inno.ID, err)
	}

	if _, err := e.ExecContext(ctx, `DELETE FROM innovation_collaborators WHERE innovation_id = ?`, inno.ID); err != nil {
		return fmt.Errorf("共同作業者の削除に失敗: %w", err)
	}
	for _, roleID := range inno.CollaboratorRoleIDs {
		if _, err := e.ExecContext(ctx,
			`INSERT OR IGNORE INTO innovation_collaborators (innovation_id, role_id) VALUES (?, ?)`,
			inno.ID, roleID); err != nil {
			return fmt.Errorf("共同作業者 %s の保存に失敗: %w", roleID, err)
		}
	}
	return nil
}

func savePreference(ctx context.Context, e execer, p PreferenceRecord) error {
	_, err := e.ExecContext(ctx, `
INSERT INTO email_preferences (role_id, category, preference) VALUES (?, ?, ?)
ON CONFLICT(role_id, category) DO UPDATE SET preference = excluded.preference`,
		p.RoleID, string(p.Category), string(p.Preference))
	if err != nil {
		return fmt.Errorf("メール通知設定の保存に失敗 (role=%s): %w", p.RoleID, err)
	}
	return nil
}

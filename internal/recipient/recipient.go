// Package recipient は通知の宛先を解決する受信者ディレクトリを提供する。
//
// ディレクトリは読み取り専用の協調者として扱い、ディスパッチや購読照合には
// インターフェースとして注入する。
package recipient

import (
	"context"
	"errors"
)

// ErrNotFound は問い合わせ対象が存在しないことを表す。
// 通知処理では「何もしない」を意味し、失敗としては扱わない。
var ErrNotFound = errors.New("recipient: not found")

// Role はユーザーロールの種別。
type Role string

const (
	// RoleInnovator はイノベーションの提案者。
	RoleInnovator Role = "INNOVATOR"
	// RoleAccessor は支援組織の担当者。
	RoleAccessor Role = "ACCESSOR"
	// RoleQualifyingAccessor は支援組織の有資格担当者。
	RoleQualifyingAccessor Role = "QUALIFYING_ACCESSOR"
	// RoleAssessment は評価チームのメンバー。
	RoleAssessment Role = "ASSESSMENT"
	// RoleAdmin はプラットフォーム管理者。
	RoleAdmin Role = "ADMIN"
)

// Recipient は連絡可能な通知の宛先。
type Recipient struct {
	// RoleID はロールID。未登録の招待者などでは空になる。
	RoleID string
	// UserID はユーザーID。
	UserID string
	// IdentityID はIDプロバイダ上の識別子。
	IdentityID string
	// Role はロール種別。
	Role Role
	// OrganisationUnitID は所属する組織ユニットのID。
	OrganisationUnitID string
	// Locked はアカウントがロックされているか。
	Locked bool
	// Email はメールアドレス。
	Email string
	// DisplayName は表示名。
	DisplayName string
}

// Identity はIDプロバイダから得られる表示名とメールアドレス。
type Identity struct {
	DisplayName string
	Email       string
}

// Category は通知設定のカテゴリ。空文字列は設定に関係なく常に送る通知を表す。
type Category string

const (
	// CategorySupport はサポート状況に関する通知。
	CategorySupport Category = "SUPPORT"
	// CategoryTask はタスクに関する通知。
	CategoryTask Category = "TASK"
	// CategoryMessage はメッセージに関する通知。
	CategoryMessage Category = "MESSAGE"
	// CategoryInnovationManagement はイノベーションの管理（共同作業者など）に関する通知。
	CategoryInnovationManagement Category = "INNOVATION_MANAGEMENT"
	// CategoryDocument は文書に関する通知。
	CategoryDocument Category = "DOCUMENT"
	// CategoryNotifyMe はユーザーが購読した「通知してほしい」イベントの通知。
	CategoryNotifyMe Category = "NOTIFY_ME"
)

// Preference はカテゴリごとのメール通知設定値。
type Preference string

const (
	// PreferenceYes は通知を受け取る。
	PreferenceYes Preference = "YES"
	// PreferenceNo は通知を受け取らない。
	PreferenceNo Preference = "NO"
)

// Preferences はロール1つ分のカテゴリ別設定。キーがないカテゴリは未設定。
type Preferences map[Category]Preference

// Innovation はイノベーションの基本情報。
type Innovation struct {
	ID   string
	Name string
	// OwnerRoleID はオーナーのロールID。オーナー不在の場合は空。
	OwnerRoleID string
	// CollaboratorRoleIDs は共同作業者のロールID。
	CollaboratorRoleIDs []string
}

// Directory は受信者ディレクトリ。
type Directory interface {
	// RecipientsByRoleIDs はロールIDから宛先を解決する。見つからないIDは結果に含まれない。
	RecipientsByRoleIDs(ctx context.Context, roleIDs []string) ([]Recipient, error)
	// Identities はIDプロバイダ識別子から表示名とメールアドレスを解決する。
	Identities(ctx context.Context, identityIDs []string) (map[string]Identity, error)
	// EmailPreferences はロールごとのメール通知設定を返す。
	EmailPreferences(ctx context.Context, roleIDs []string) (map[string]Preferences, error)
	// InnovationInfo はイノベーションの情報を返す。存在しない場合はErrNotFound。
	InnovationInfo(ctx context.Context, innovationID string) (Innovation, error)
}

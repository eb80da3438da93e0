// Package dispatch は1回の通知処理で送るメール・アプリ内通知のエンベロープを組み立てる。
//
// Builder は処理1回分のアキュムレータで、宛先の重複排除、操作者本人の除外、
// ロック済みアカウントの除外、カテゴリ付与を一か所で行う。
// イベント種別ごとの宛先と内容の決定はハンドラーテーブル（Registry）に置く。
package dispatch

import (
	"errors"

	"github.com/nao1215/casenotify/internal/recipient"
)

// ErrParamsMismatch はパラメータのリストと宛先の件数が一致しないことを表す。
// ハンドラーの実装誤りであり、再試行しても解決しない。
var ErrParamsMismatch = errors.New("dispatch: params list length does not match recipients")

// Options はエンベロープごとの配信ポリシー。
type Options struct {
	// IncludeSelf は操作者本人も宛先に含めるか。本人宛ての控えでのみtrueにする。
	IncludeSelf bool `json:"includeSelf,omitempty"`
	// IncludeLocked はロック済みアカウントも宛先に含めるか。
	IncludeLocked bool `json:"includeLocked,omitempty"`
	// IgnorePreferences は配信側で通知設定を再確認しないことを表す。
	// 送信可否を既に判定済みのエンベロープに付ける。
	IgnorePreferences bool `json:"ignorePreferences,omitempty"`
}

// EmailRecipient はメールの宛先。未登録の招待者ではRoleIDが空になる。
type EmailRecipient struct {
	RoleID      string `json:"roleId,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// EmailEnvelope は宛先1件分のメール。
type EmailEnvelope struct {
	// ID は相関ID（UUID）。
	ID         string `json:"id"`
	TemplateID string `json:"templateId"`
	// Category は通知設定のカテゴリ。空は常に送る。
	Category  recipient.Category `json:"category,omitempty"`
	Recipient EmailRecipient     `json:"recipient"`
	Params    map[string]any     `json:"params"`
	Options   Options            `json:"options"`
}

// Context はアプリ内通知の分類と対象。
type Context struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	ID     string `json:"id"`
}

// InAppEnvelope は複数ロール宛ての1件のアプリ内通知。
type InAppEnvelope struct {
	// ID は相関ID（UUID）。
	ID           string         `json:"id"`
	TemplateID   string         `json:"templateId"`
	Context      Context        `json:"context"`
	InnovationID string         `json:"innovationId"`
	UserRoleIDs  []string       `json:"userRoleIds"`
	Params       map[string]any `json:"params"`
	// NotificationID は既存の通知を指す場合に設定する。
	NotificationID string  `json:"notificationId,omitempty"`
	Options        Options `json:"options"`
}

// Result は1回の処理で組み立てたエンベロープ。出力順を保つ。
type Result struct {
	Emails []EmailEnvelope `json:"emails"`
	InApps []InAppEnvelope `json:"inApps"`
}

// Merge はotherの結果を後ろに連結した新しいResultを返す。
func (r Result) Merge(other Result) Result {
	return Result{
		Emails: append(append([]EmailEnvelope(nil), r.Emails...), other.Emails...),
		InApps: append(append([]InAppEnvelope(nil), r.InApps...), other.InApps...),
	}
}

// Empty はエンベロープが1件もないかを返す。
func (r Result) Empty() bool {
	return len(r.Emails) == 0 && len(r.InApps) == 0
}

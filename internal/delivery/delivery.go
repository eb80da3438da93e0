// Package delivery はエンベロープを受け取り、アプリ内通知の受信箱とメールの送信待ちキューに保存する。
//
// メールの送信そのものや再送は外部のメール送信サービスが担う。
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/internal/recipient"
)

var (
	// ErrNotFound は通知が存在しないことを表す。
	ErrNotFound = errors.New("delivery: notification not found")
	// ErrForbidden は他のロールの通知を操作しようとしたことを表す。
	ErrForbidden = errors.New("delivery: notification belongs to another role")
)

// Sink はエンベロープの配信先。
// Deliver は1回の処理結果をまとめて受け取り、全件保存するか何も保存しない。
type Sink interface {
	DeliverEmails(ctx context.Context, emails []dispatch.EmailEnvelope) error
	DeliverInApp(ctx context.Context, inApps []dispatch.InAppEnvelope) error
	Deliver(ctx context.Context, res dispatch.Result) error
}

// PreferenceSource はメール通知設定の参照先。recipient.Directoryが満たす。
type PreferenceSource interface {
	EmailPreferences(ctx context.Context, roleIDs []string) (map[string]recipient.Preferences, error)
}

// EmailStatus は送信待ちメールの状態。
type EmailStatus string

const (
	// EmailQueued は送信待ち。
	EmailQueued EmailStatus = "queued"
	// EmailSkipped は通知設定により送信しない。
	EmailSkipped EmailStatus = "skipped"
)

// Notification は受信箱のアプリ内通知1件。
type Notification struct {
	ID           string           `json:"id"`
	EnvelopeID   string           `json:"envelope_id"`
	RoleID       string           `json:"role_id"`
	InnovationID string           `json:"innovation_id"`
	TemplateID   string           `json:"template_id"`
	Context      dispatch.Context `json:"context"`
	Params       map[string]any   `json:"params"`
	IsRead       bool             `json:"is_read"`
	CreatedAt    time.Time        `json:"created_at"`
}

// OutboxEmail は送信待ちキューのメール1件。
type OutboxEmail struct {
	ID          string             `json:"id"`
	TemplateID  string             `json:"template_id"`
	Category    recipient.Category `json:"category,omitempty"`
	RoleID      string             `json:"role_id,omitempty"`
	ToEmail     string             `json:"to_email"`
	DisplayName string             `json:"display_name,omitempty"`
	Params      map[string]any     `json:"params"`
	Status      EmailStatus        `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

// shouldSend はメールを送るかを通知設定から判定する。
// カテゴリなし、判定済み、宛先にロールがない場合は常に送る。未設定は送る。
func shouldSend(e dispatch.EmailEnvelope, prefs map[string]recipient.Preferences) bool {
	if e.Category == "" || e.Options.IgnorePreferences || e.Recipient.RoleID == "" {
		return true
	}
	return prefs[e.Recipient.RoleID][e.Category] != recipient.PreferenceNo
}

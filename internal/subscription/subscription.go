// Package subscription はユーザーが登録した「通知してほしい」購読とイベントを照合する。
//
// 照合に一致した購読ごとにアプリ内通知を1件、通知設定で拒否されていなければメールを1件作る。
// 一度きり（ONCE）の購読は通知後に同じ処理の中で削除する。
package subscription

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/nao1215/casenotify/pkg/event"
)

// ErrNotFound は購読が存在しないことを表す。
var ErrNotFound = errors.New("subscription: not found")

// Type は購読のライフサイクル種別。
type Type string

const (
	// TypeInstantly は一致するたびに通知し、購読は残る。
	TypeInstantly Type = "INSTANTLY"
	// TypeOnce は最初に一致したときだけ通知し、購読は削除される。
	TypeOnce Type = "ONCE"
	// TypeScheduled はリマインダーで通知し、購読は残る。
	TypeScheduled Type = "SCHEDULED"
)

// Valid は既知の種別かを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeInstantly, TypeOnce, TypeScheduled:
		return true
	}
	return false
}

// Subscription はロール1つが登録した購読。
type Subscription struct {
	ID string `json:"id"`
	// RoleID は購読者のロールID。
	RoleID       string     `json:"roleId"`
	InnovationID string     `json:"innovationId"`
	EventType    event.Type `json:"eventType"`
	Type         Type       `json:"subscriptionType"`
	// PreConditions はイベントのparamsに対するフィールド単位の条件。
	PreConditions map[string]any `json:"preConditions"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// subscribable は購読できるイベント種別。
var subscribable = []event.Type{
	event.TypeSupportUpdated,
	event.TypeProgressUpdateCreated,
	event.TypeInnovationRecordUpdated,
	event.TypeDocumentUploaded,
	event.TypeReminder,
}

// Subscribable は購読できるイベント種別かを返す。
func Subscribable(t event.Type) bool {
	return slices.Contains(subscribable, t)
}

// Store は照合エンジンが使う購読の保存先。
type Store interface {
	// InnovationEventSubscriptions はイノベーションとイベント種別に一致する購読を返す。
	InnovationEventSubscriptions(ctx context.Context, innovationID string, eventType event.Type) ([]Subscription, error)
	// DeleteSubscription は購読を削除する。存在しない場合はErrNotFound。
	DeleteSubscription(ctx context.Context, id string) error
}

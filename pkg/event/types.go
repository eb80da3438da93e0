package event

import "time"

// Type はビジネスイベントの種類を表す。
type Type string

const (
	// TypeSupportUpdated は組織ユニットによるサポート状況の変更を表す。
	TypeSupportUpdated Type = "SUPPORT_UPDATED"
	// TypeTaskCreated はイノベーターへのタスクが作成されたことを表す。
	TypeTaskCreated Type = "TASK_CREATED"
	// TypeMessageSent はスレッドにメッセージが投稿されたことを表す。
	TypeMessageSent Type = "MESSAGE_SENT"
	// TypeCollaboratorInvited はイノベーションへ共同作業者が招待されたことを表す。
	TypeCollaboratorInvited Type = "COLLABORATOR_INVITED"
	// TypeAccountEmailChanged はユーザーのメールアドレスが変更されたことを表す。
	TypeAccountEmailChanged Type = "ACCOUNT_EMAIL_CHANGED"
	// TypeDocumentUploaded はイノベーションに文書がアップロードされたことを表す。
	TypeDocumentUploaded Type = "DOCUMENT_UPLOADED"
	// TypeProgressUpdateCreated は進捗報告が登録されたことを表す。
	TypeProgressUpdateCreated Type = "PROGRESS_UPDATE_CREATED"
	// TypeInnovationRecordUpdated はイノベーションの記録が更新されたことを表す。
	TypeInnovationRecordUpdated Type = "INNOVATION_RECORD_UPDATED"
	// TypeReminder はスケジュールされたリマインダーを表す。
	// params.subscriptionId で対象の購読を指す。
	TypeReminder Type = "REMINDER"
	// TypeNotificationsDispatched は通知サービスが配信を終えたことを表す。
	// 通知サービス自身が発行し、通知の対象にはならない。
	TypeNotificationsDispatched Type = "NOTIFICATIONS_DISPATCHED"
)

// AggregateTypeInnovation はEvent Store上でイノベーションを表す集約種別。
const AggregateTypeInnovation = "innovation"

// Actor はイベントを発生させたユーザー（操作者）を表す。
type Actor struct {
	// UserID は操作者のユーザーID。
	UserID string `json:"userId,omitempty"`
	// IdentityID は操作者のIDプロバイダ上の識別子。
	IdentityID string `json:"identityId,omitempty"`
	// RoleID は操作時に使用していたロールのID。
	RoleID string `json:"roleId,omitempty"`
	// Email は操作者のメールアドレス。
	Email string `json:"email,omitempty"`
}

// Event はプラットフォームで発生したビジネスイベントを表す。
// 1つのイベントが通知処理1回分の入力になる。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Type はイベントの種類。
	Type Type `json:"type"`
	// InnovationID は対象イノベーションのID。
	InnovationID string `json:"innovationId"`
	// Params はイベント固有のフィールド。購読の事前条件との照合にも使う。
	Params Params `json:"params"`
	// Actor はイベントを発生させた操作者。
	Actor Actor `json:"actor"`
	// CreatedAt はイベントの発生日時。
	CreatedAt time.Time `json:"createdAt"`
}

// StoredEvent はEvent StoreのAPIが返すイベントレコード。
// Data にはEventのJSONが格納されている。
type StoredEvent struct {
	ID            string `json:"id"`
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	EventType     string `json:"event_type"`
	Data          string `json:"data"`
	Version       int64  `json:"version"`
	CreatedAt     string `json:"created_at"`
}

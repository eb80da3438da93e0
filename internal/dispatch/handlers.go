package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/pkg/event"
)

// テンプレートID。
const (
	TemplateSupportUpdated         = "SU01_SUPPORT_UPDATED"
	TemplateTaskCreated            = "TA01_TASK_CREATED"
	TemplateMessageSent            = "ME01_MESSAGE_SENT"
	TemplateCollaboratorInvited    = "MC01_COLLABORATOR_INVITED"
	TemplateCollaboratorInviteSent = "MC02_COLLABORATOR_INVITE_SENT"
	TemplateAccountEmailChanged    = "AC01_ACCOUNT_EMAIL_CHANGED"
	TemplateDocumentUploaded       = "DO01_DOCUMENT_UPLOADED"
)

// アプリ内通知のコンテキスト種別。
const (
	ContextSupport              = "SUPPORT"
	ContextTask                 = "TASK"
	ContextMessage              = "MESSAGE"
	ContextInnovationManagement = "INNOVATION_MANAGEMENT"
	ContextDocument             = "DOCUMENT"
	ContextNotifyMe             = "NOTIFY_ME"
)

// Deps はハンドラーが参照する協調者。
type Deps struct {
	Directory recipient.Directory
	Links     Links
}

// ComputeFunc はイベント1件から宛先と内容を決めてBuilderに追加する。
type ComputeFunc func(ctx context.Context, deps Deps, ev event.Event, b *Builder) error

// Handler はイベント種別と処理関数の組。
type Handler struct {
	EventType event.Type
	Compute   ComputeFunc
}

// Registry はイベント種別ごとのハンドラーテーブル。
type Registry struct {
	handlers map[event.Type]Handler
}

// NewRegistry はハンドラーを登録したRegistryを生成する。
// 同じイベント種別を重複して登録した場合はエラーを返す。
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[event.Type]Handler, len(handlers))}
	for _, h := range handlers {
		if h.EventType == "" || h.Compute == nil {
			return nil, fmt.Errorf("不正なハンドラー: %q", h.EventType)
		}
		if _, ok := r.handlers[h.EventType]; ok {
			return nil, fmt.Errorf("ハンドラーが重複している: %s", h.EventType)
		}
		r.handlers[h.EventType] = h
	}
	return r, nil
}

// DefaultRegistry は組み込みハンドラーを登録したRegistryを返す。
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultHandlers()...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultHandlers は組み込みハンドラーの一覧を返す。
func DefaultHandlers() []Handler {
	return []Handler{
		{EventType: event.TypeSupportUpdated, Compute: supportUpdated},
		{EventType: event.TypeTaskCreated, Compute: taskCreated},
		{EventType: event.TypeMessageSent, Compute: messageSent},
		{EventType: event.TypeCollaboratorInvited, Compute: collaboratorInvited},
		{EventType: event.TypeAccountEmailChanged, Compute: accountEmailChanged},
		{EventType: event.TypeDocumentUploaded, Compute: documentUploaded},
	}
}

// Lookup はイベント種別に対応するハンドラーを返す。
func (r *Registry) Lookup(t event.Type) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Run はイベントに対応するハンドラーを実行する。
// ハンドラーが登録されていない場合は空のResultとfalseを返す。
func (r *Registry) Run(ctx context.Context, deps Deps, ev event.Event) (Result, bool, error) {
	h, ok := r.Lookup(ev.Type)
	if !ok {
		return Result{}, false, nil
	}
	b := NewBuilder(ev.Actor)
	if err := h.Compute(ctx, deps, ev, b); err != nil {
		return Result{}, true, fmt.Errorf("%s の処理に失敗: %w", ev.Type, err)
	}
	return b.Result(), true, nil
}

// innovation はイノベーション情報を取得する。存在しない場合はokがfalseになる。
func innovation(ctx context.Context, deps Deps, innovationID string) (recipient.Innovation, bool, error) {
	info, err := deps.Directory.InnovationInfo(ctx, innovationID)
	if errors.Is(err, recipient.ErrNotFound) {
		return recipient.Innovation{}, false, nil
	}
	if err != nil {
		return recipient.Innovation{}, false, fmt.Errorf("イノベーション情報の取得に失敗: %w", err)
	}
	return info, true, nil
}

// resolve はロールIDから宛先を解決する。空のIDは問い合わせない。
func resolve(ctx context.Context, deps Deps, roleIDs ...string) ([]recipient.Recipient, error) {
	ids := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rs, err := deps.Directory.RecipientsByRoleIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("宛先の解決に失敗: %w", err)
	}
	return rs, nil
}

// innovationTeam はオーナーと共同作業者を解決する。
func innovationTeam(ctx context.Context, deps Deps, info recipient.Innovation) ([]recipient.Recipient, error) {
	return resolve(ctx, deps, append([]string{info.OwnerRoleID}, info.CollaboratorRoleIDs...)...)
}

func supportUpdated(ctx context.Context, deps Deps, ev event.Event, b *Builder) error {
	info, ok, err := innovation(ctx, deps, ev.InnovationID)
	if err != nil || !ok {
		return err
	}
	team, err := innovationTeam(ctx, deps, info)
	if err != nil {
		return err
	}

	unitID := ev.Params.String("unitId")
	params := map[string]any{
		"innovationName": info.Name,
		"unitName":       ev.Params.String("unitName"),
		"status":         ev.Params.String("status"),
		"message":        ev.Params.String("message"),
	}
	emailParams := withParam(params, "supportUrl", deps.Links.Support(ev.InnovationID, unitID))
	return b.Notify(TemplateSupportUpdated, team, NotifyOptions{
		Email: EmailOptions{Category: recipient.CategorySupport, Params: emailParams},
		InApp: InAppOptions{
			Context:      Context{Type: ContextSupport, Detail: TemplateSupportUpdated, ID: unitID},
			InnovationID: ev.InnovationID,
			Params:       withParam(params, "unitId", unitID),
		},
	})
}

func taskCreated(ctx context.Context, deps Deps, ev event.Event, b *Builder) error {
	info, ok, err := innovation(ctx, deps, ev.InnovationID)
	if err != nil || !ok {
		return err
	}
	team, err := innovationTeam(ctx, deps, info)
	if err != nil {
		return err
	}

	taskID := ev.Params.String("taskId")
	params := map[string]any{
		"innovationName": info.Name,
		"section":        ev.Params.String("section"),
		"taskId":         taskID,
	}
	return b.Notify(TemplateTaskCreated, team, NotifyOptions{
		Email: EmailOptions{
			Category: recipient.CategoryTask,
			Params:   withParam(params, "taskUrl", deps.Links.Task(ev.InnovationID, taskID)),
		},
		InApp: InAppOptions{
			Context:      Context{Type: ContextTask, Detail: TemplateTaskCreated, ID: taskID},
			InnovationID: ev.InnovationID,
			Params:       params,
		},
	})
}

// messageSent はスレッドのフォロワーへ通知する。送信者本人は既定のポリシーで除外される。
func messageSent(ctx context.Context, deps Deps, ev event.Event, b *Builder) error {
	followers, err := resolve(ctx, deps, ev.Params.Strings("followerRoleIds")...)
	if err != nil || len(followers) == 0 {
		return err
	}

	threadID := ev.Params.String("threadId")
	params := map[string]any{
		"subject":  ev.Params.String("subject"),
		"threadId": threadID,
	}
	if info, ok, err := innovation(ctx, deps, ev.InnovationID); err != nil {
		return err
	} else if ok {
		params["innovationName"] = info.Name
	}

	return b.Notify(TemplateMessageSent, followers, NotifyOptions{
		Email: EmailOptions{
			Category: recipient.CategoryMessage,
			Params:   withParam(params, "threadUrl", deps.Links.Thread(ev.InnovationID, threadID)),
		},
		InApp: InAppOptions{
			Context:      Context{Type: ContextMessage, Detail: TemplateMessageSent, ID: threadID},
			InnovationID: ev.InnovationID,
			Params:       params,
		},
	})
}

// collaboratorInvited は招待された人へ通知し、オーナーへ控えを送る。
// 招待者が未登録の場合はメールアドレスだけを宛先にする。
func collaboratorInvited(ctx context.Context, deps Deps, ev event.Event, b *Builder) error {
	info, ok, err := innovation(ctx, deps, ev.InnovationID)
	if err != nil || !ok {
		return err
	}

	email := ev.Params.String("email")
	invitee := recipient.Recipient{Email: email}
	if roleID := ev.Params.String("collaboratorRoleId"); roleID != "" {
		rs, err := resolve(ctx, deps, roleID)
		if err != nil {
			return err
		}
		if len(rs) > 0 {
			invitee = rs[0]
		}
	}

	params := map[string]any{"innovationName": info.Name}
	if invitee.Email != "" {
		if err := b.Notify(TemplateCollaboratorInvited, []recipient.Recipient{invitee}, NotifyOptions{
			Email: EmailOptions{
				Category: recipient.CategoryInnovationManagement,
				Params:   withParam(params, "invitationUrl", deps.Links.Invitation(ev.InnovationID)),
			},
			InApp: InAppOptions{
				Context:      Context{Type: ContextInnovationManagement, Detail: TemplateCollaboratorInvited, ID: ev.InnovationID},
				InnovationID: ev.InnovationID,
				Params:       params,
			},
		}); err != nil {
			return err
		}
	}

	owner, err := resolve(ctx, deps, info.OwnerRoleID)
	if err != nil {
		return err
	}
	b.AddInApp(TemplateCollaboratorInviteSent, owner, InAppOptions{
		Context:      Context{Type: ContextInnovationManagement, Detail: TemplateCollaboratorInviteSent, ID: ev.InnovationID},
		InnovationID: ev.InnovationID,
		Params:       withParam(params, "collaboratorEmail", email),
		Options:      Options{IncludeSelf: true},
	})
	return nil
}

// accountEmailChanged は変更前のアドレスへ確認メールを送る。
// 本人宛てかつアカウント状態に関係なく届ける必要がある。
func accountEmailChanged(ctx context.Context, deps Deps, ev event.Event, b *Builder) error {
	previous := ev.Params.String("previousEmail")
	if previous == "" {
		return nil
	}
	rs, err := resolve(ctx, deps, ev.Actor.RoleID)
	if err != nil || len(rs) == 0 {
		return err
	}
	target := rs[0]
	target.Email = previous

	return b.AddEmails(TemplateAccountEmailChanged, []recipient.Recipient{target}, EmailOptions{
		Params: map[string]any{
			"newEmail":   ev.Params.String("newEmail"),
			"accountUrl": deps.Links.Account(),
		},
		Options: Options{IncludeSelf: true, IncludeLocked: true},
	})
}

func documentUploaded(ctx context.Context, deps Deps, ev event.Event, b *Builder) error {
	info, ok, err := innovation(ctx, deps, ev.InnovationID)
	if err != nil || !ok {
		return err
	}
	owner, err := resolve(ctx, deps, info.OwnerRoleID)
	if err != nil {
		return err
	}

	documentID := ev.Params.String("documentId")
	b.AddInApp(TemplateDocumentUploaded, owner, InAppOptions{
		Context:      Context{Type: ContextDocument, Detail: TemplateDocumentUploaded, ID: documentID},
		InnovationID: ev.InnovationID,
		Params: map[string]any{
			"innovationName": info.Name,
			"documentName":   ev.Params.String("documentName"),
			"documentId":     documentID,
		},
	})
	return nil
}

// withParam はparamsの複製にkeyを追加して返す。
func withParam(params map[string]any, key, value string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[key] = value
	return out
}

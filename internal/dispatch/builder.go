package dispatch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/pkg/event"
)

// EmailOptions はAddEmailsのオプション。
// ParamsListを指定した場合は宛先と同じ順序・件数でなければならない。
type EmailOptions struct {
	Category   recipient.Category
	Params     map[string]any
	ParamsList []map[string]any
	Options    Options
}

// InAppOptions はAddInAppのオプション。
type InAppOptions struct {
	Context        Context
	InnovationID   string
	Params         map[string]any
	NotificationID string
	Options        Options
}

// NotifyOptions はNotifyのオプション。
type NotifyOptions struct {
	Email EmailOptions
	InApp InAppOptions
}

// Builder は処理1回分のエンベロープを蓄積する。
// 重複排除は呼び出し単位で行うため、宛先リストは呼び出し側で1回だけ組み立てること。
// 並行利用は想定しない。
type Builder struct {
	actor  event.Actor
	emails []EmailEnvelope
	inApps []InAppEnvelope
}

// NewBuilder は操作者actorのためのBuilderを生成する。
func NewBuilder(actor event.Actor) *Builder {
	return &Builder{actor: actor}
}

// AddEmails は宛先1件ごとにメールのエンベロープを追加する。
// メールアドレスのない宛先と、同じ呼び出し内で重複するアドレスは除かれる。
func (b *Builder) AddEmails(templateID string, recipients []recipient.Recipient, opts EmailOptions) error {
	if opts.ParamsList != nil && len(opts.ParamsList) != len(recipients) {
		return fmt.Errorf("テンプレート %s: params=%d件, recipients=%d件: %w",
			templateID, len(opts.ParamsList), len(recipients), ErrParamsMismatch)
	}

	seen := make(map[string]struct{}, len(recipients))
	for i, r := range recipients {
		if r.Email == "" || !b.allowed(r, opts.Options) {
			continue
		}
		key := strings.ToLower(r.Email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		params := opts.Params
		if opts.ParamsList != nil {
			params = opts.ParamsList[i]
		}
		if params == nil {
			params = map[string]any{}
		}
		b.emails = append(b.emails, EmailEnvelope{
			ID:         uuid.New().String(),
			TemplateID: templateID,
			Category:   opts.Category,
			Recipient: EmailRecipient{
				RoleID:      r.RoleID,
				Email:       r.Email,
				DisplayName: r.DisplayName,
			},
			Params:  params,
			Options: opts.Options,
		})
	}
	return nil
}

// AddInApp は宛先のロールIDをまとめて1件のアプリ内通知を追加する。
// ロールIDのない宛先は無視し、残りが空ならエンベロープを作らない。
func (b *Builder) AddInApp(templateID string, recipients []recipient.Recipient, opts InAppOptions) {
	seen := make(map[string]struct{}, len(recipients))
	roleIDs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r.RoleID == "" || !b.allowed(r, opts.Options) {
			continue
		}
		if _, ok := seen[r.RoleID]; ok {
			continue
		}
		seen[r.RoleID] = struct{}{}
		roleIDs = append(roleIDs, r.RoleID)
	}
	if len(roleIDs) == 0 {
		return
	}

	params := opts.Params
	if params == nil {
		params = map[string]any{}
	}
	b.inApps = append(b.inApps, InAppEnvelope{
		ID:             uuid.New().String(),
		TemplateID:     templateID,
		Context:        opts.Context,
		InnovationID:   opts.InnovationID,
		UserRoleIDs:    roleIDs,
		Params:         params,
		NotificationID: opts.NotificationID,
		Options:        opts.Options,
	})
}

// Notify はメールとアプリ内通知の両方を追加する。
// ロールIDのない宛先はメールのみ受け取る。
func (b *Builder) Notify(templateID string, recipients []recipient.Recipient, opts NotifyOptions) error {
	if err := b.AddEmails(templateID, recipients, opts.Email); err != nil {
		return err
	}
	b.AddInApp(templateID, recipients, opts.InApp)
	return nil
}

// Result はこれまでに追加したエンベロープを返す。
func (b *Builder) Result() Result {
	return Result{
		Emails: append([]EmailEnvelope(nil), b.emails...),
		InApps: append([]InAppEnvelope(nil), b.inApps...),
	}
}

// allowed は本人除外とロック済み除外のポリシーを適用する。
func (b *Builder) allowed(r recipient.Recipient, o Options) bool {
	if !o.IncludeLocked && r.Locked {
		return false
	}
	if !o.IncludeSelf && b.isActor(r) {
		return false
	}
	return true
}

// isActor は宛先が操作者本人かを返す。
// ユーザーID、IDプロバイダ識別子、ロールID、メールアドレスのいずれかが一致すれば本人とみなす。
func (b *Builder) isActor(r recipient.Recipient) bool {
	a := b.actor
	switch {
	case a.UserID != "" && r.UserID == a.UserID:
		return true
	case a.IdentityID != "" && r.IdentityID == a.IdentityID:
		return true
	case a.RoleID != "" && r.RoleID == a.RoleID:
		return true
	case a.Email != "" && strings.EqualFold(r.Email, a.Email):
		return true
	}
	return false
}

package subscription

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/pkg/event"
)

// Engine はイベントを購読と照合し、一致した購読者への通知を組み立てる。
// Executeの呼び出しは互いに状態を共有しない。
type Engine struct {
	store      Store
	directory  recipient.Directory
	links      dispatch.Links
	logger     *zap.Logger
	onConsumed func(Subscription)
}

// Option はEngineのオプション。
type Option func(*Engine)

// WithLinks はメールに埋め込むリンクの組み立てを設定する。
func WithLinks(l dispatch.Links) Option {
	return func(e *Engine) { e.links = l }
}

// WithLogger はロガーを設定する。
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOnConsumed は一度きりの購読を削除したときに呼ばれる関数を設定する。
func WithOnConsumed(fn func(Subscription)) Option {
	return func(e *Engine) { e.onConsumed = fn }
}

// NewEngine は新しいEngineを生成する。
func NewEngine(store Store, directory recipient.Directory, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		directory: directory,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// execution はExecute1回分の状態。
type execution struct {
	ev      event.Event
	builder *dispatch.Builder

	innovation       recipient.Innovation
	innovationLoaded bool
	innovationFound  bool
}

// Execute はイベントに一致する購読ごとに通知を組み立てる。
// 一致した購読の所有者や表示名を解決できない場合はその購読を飛ばす。
// 一度きりの購読は通知を組み立てた後に削除する。
// 読み取りと削除を1つの単位にするトランザクションは呼び出し側が用意する。
func (e *Engine) Execute(ctx context.Context, ev event.Event) (dispatch.Result, error) {
	subs, err := e.store.InnovationEventSubscriptions(ctx, ev.InnovationID, ev.Type)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("購読の取得に失敗: %w", err)
	}
	if len(subs) == 0 {
		return dispatch.Result{}, nil
	}

	x := &execution{ev: ev, builder: dispatch.NewBuilder(ev.Actor)}
	for _, sub := range subs {
		if !MatchPreconditions(sub, ev) {
			continue
		}
		fired, err := e.fire(ctx, x, sub)
		if err != nil {
			return dispatch.Result{}, err
		}
		if !fired || sub.Type != TypeOnce {
			continue
		}
		if err := e.store.DeleteSubscription(ctx, sub.ID); err != nil {
			return dispatch.Result{}, fmt.Errorf("購読 %s の削除に失敗: %w", sub.ID, err)
		}
		e.logger.Debug("一度きりの購読を削除",
			zap.String("subscription_id", sub.ID), zap.String("role_id", sub.RoleID))
		if e.onConsumed != nil {
			e.onConsumed(sub)
		}
	}
	return x.builder.Result(), nil
}

// fire は一致した購読1件の通知を組み立てる。宛先を解決できなければfalseを返す。
func (e *Engine) fire(ctx context.Context, x *execution, sub Subscription) (bool, error) {
	info, ok, err := e.innovation(ctx, x)
	if err != nil || !ok {
		return false, err
	}

	owners, err := e.directory.RecipientsByRoleIDs(ctx, []string{sub.RoleID})
	if err != nil {
		return false, fmt.Errorf("購読者の解決に失敗: %w", err)
	}
	if len(owners) == 0 {
		e.logger.Debug("購読者を解決できないため通知しない", zap.String("subscription_id", sub.ID))
		return false, nil
	}
	owner := owners[0]

	identities, err := e.directory.Identities(ctx, []string{owner.IdentityID})
	if err != nil {
		return false, fmt.Errorf("購読者の表示名の解決に失敗: %w", err)
	}
	identity, ok := identities[owner.IdentityID]
	if !ok {
		e.logger.Debug("購読者の表示名を解決できないため通知しない", zap.String("subscription_id", sub.ID))
		return false, nil
	}

	p := project(projectionInput{sub: sub, ev: x.ev, innovation: info, identity: identity, links: e.links})

	owner.Email = identity.Email
	owner.DisplayName = identity.DisplayName
	target := []recipient.Recipient{owner}

	// 購読は本人の明示的な依頼なので、本人除外とロック済み除外は適用しない。
	policy := dispatch.Options{IncludeSelf: true, IncludeLocked: true}
	x.builder.AddInApp(p.templateID, target, dispatch.InAppOptions{
		Context:      dispatch.Context{Type: dispatch.ContextNotifyMe, Detail: p.templateID, ID: sub.ID},
		InnovationID: x.ev.InnovationID,
		Params:       p.inApp,
		Options:      policy,
	})

	prefs, err := e.directory.EmailPreferences(ctx, []string{sub.RoleID})
	if err != nil {
		return false, fmt.Errorf("メール通知設定の取得に失敗: %w", err)
	}
	if prefs[sub.RoleID][recipient.CategoryNotifyMe] == recipient.PreferenceNo {
		return true, nil
	}

	emailPolicy := policy
	emailPolicy.IgnorePreferences = true
	if err := x.builder.AddEmails(p.templateID, target, dispatch.EmailOptions{
		Category: recipient.CategoryNotifyMe,
		Params:   p.email,
		Options:  emailPolicy,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// innovation はイノベーション情報を1回だけ取得する。
func (e *Engine) innovation(ctx context.Context, x *execution) (recipient.Innovation, bool, error) {
	if x.innovationLoaded {
		return x.innovation, x.innovationFound, nil
	}
	info, err := e.directory.InnovationInfo(ctx, x.ev.InnovationID)
	switch {
	case errors.Is(err, recipient.ErrNotFound):
		e.logger.Debug("イノベーションが存在しないため通知しない", zap.String("innovation_id", x.ev.InnovationID))
	case err != nil:
		return recipient.Innovation{}, false, fmt.Errorf("イノベーション情報の取得に失敗: %w", err)
	default:
		x.innovation = info
		x.innovationFound = true
	}
	x.innovationLoaded = true
	return x.innovation, x.innovationFound, nil
}

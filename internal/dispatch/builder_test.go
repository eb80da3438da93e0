package dispatch

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/pkg/event"
)

var (
	actor = event.Actor{UserID: "user-actor", IdentityID: "idp-actor", RoleID: "role-actor", Email: "actor@example.com"}

	actorRecipient = recipient.Recipient{RoleID: "role-actor", UserID: "user-actor", IdentityID: "idp-actor", Email: "actor@example.com"}
	alice          = recipient.Recipient{RoleID: "role-alice", UserID: "user-alice", IdentityID: "idp-alice", Email: "alice@example.com", DisplayName: "Alice"}
	bob            = recipient.Recipient{RoleID: "role-bob", UserID: "user-bob", IdentityID: "idp-bob", Email: "bob@example.com"}
	lockedCarol    = recipient.Recipient{RoleID: "role-carol", UserID: "user-carol", IdentityID: "idp-carol", Email: "carol@example.com", Locked: true}
	invitee        = recipient.Recipient{Email: "new@example.com"}
)

func emailAddresses(envs []EmailEnvelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Recipient.Email)
	}
	return out
}

// TestBuilderAddEmails はAddEmailsを検証する。
func TestBuilderAddEmails(t *testing.T) {
	t.Parallel()

	t.Run("宛先1件ごとにエンベロープが作られること", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		err := b.AddEmails("T1", []recipient.Recipient{alice, bob}, EmailOptions{
			Category: recipient.CategorySupport,
			Params:   map[string]any{"k": "v"},
		})
		if err != nil {
			t.Fatalf("AddEmails()でエラーが発生: %v", err)
		}

		got := b.Result().Emails
		if want := []string{"alice@example.com", "bob@example.com"}; !reflect.DeepEqual(emailAddresses(got), want) {
			t.Fatalf("宛先 = %v, want %v", emailAddresses(got), want)
		}
		for _, e := range got {
			if e.ID == "" {
				t.Error("相関IDが空")
			}
			if e.TemplateID != "T1" || e.Category != recipient.CategorySupport {
				t.Errorf("TemplateID/Category = %s/%s", e.TemplateID, e.Category)
			}
		}
		if got[0].Recipient.DisplayName != "Alice" || got[0].Recipient.RoleID != "role-alice" {
			t.Errorf("Recipient = %+v", got[0].Recipient)
		}
	})

	t.Run("パラメータのリストが宛先と位置で対応すること", func(t *testing.T) {
		t.Parallel()

		list := []map[string]any{{"n": 1}, {"n": 2}}
		b := NewBuilder(actor)
		if err := b.AddEmails("T1", []recipient.Recipient{alice, bob}, EmailOptions{ParamsList: list}); err != nil {
			t.Fatalf("AddEmails()でエラーが発生: %v", err)
		}

		got := b.Result().Emails
		for i := range got {
			if reflect.ValueOf(got[i].Params).Pointer() != reflect.ValueOf(list[i]).Pointer() {
				t.Errorf("envelope[%d].Params = %v, want %v", i, got[i].Params, list[i])
			}
		}
	})

	t.Run("除外された宛先があっても位置の対応が保たれること", func(t *testing.T) {
		t.Parallel()

		list := []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}}
		b := NewBuilder(actor)
		if err := b.AddEmails("T1", []recipient.Recipient{alice, actorRecipient, bob}, EmailOptions{ParamsList: list}); err != nil {
			t.Fatalf("AddEmails()でエラーが発生: %v", err)
		}

		got := b.Result().Emails
		if len(got) != 2 {
			t.Fatalf("件数 = %d, want 2", len(got))
		}
		if got[1].Recipient.Email != "bob@example.com" || got[1].Params["n"] != 3 {
			t.Errorf("envelope[1] = %s %v, want bob@example.com n=3", got[1].Recipient.Email, got[1].Params)
		}
	})

	t.Run("件数が一致しない場合はErrParamsMismatchになりエンベロープは作られないこと", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		err := b.AddEmails("T1", []recipient.Recipient{alice, bob}, EmailOptions{ParamsList: []map[string]any{{}}})
		if !errors.Is(err, ErrParamsMismatch) {
			t.Fatalf("err = %v, want ErrParamsMismatch", err)
		}
		if !b.Result().Empty() {
			t.Error("エンベロープが作られている")
		}
	})

	t.Run("同じアドレスは大文字小文字を区別せず最初の1件だけになること", func(t *testing.T) {
		t.Parallel()

		dup := bob
		dup.Email = "BOB@example.com"
		b := NewBuilder(actor)
		if err := b.AddEmails("T1", []recipient.Recipient{bob, alice, dup}, EmailOptions{}); err != nil {
			t.Fatalf("AddEmails()でエラーが発生: %v", err)
		}

		if want := []string{"bob@example.com", "alice@example.com"}; !reflect.DeepEqual(emailAddresses(b.Result().Emails), want) {
			t.Errorf("宛先 = %v, want %v", emailAddresses(b.Result().Emails), want)
		}
	})

	t.Run("ロールIDのない宛先にもメールが届くこと", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		if err := b.AddEmails("T1", []recipient.Recipient{invitee}, EmailOptions{}); err != nil {
			t.Fatalf("AddEmails()でエラーが発生: %v", err)
		}
		got := b.Result().Emails
		if len(got) != 1 || got[0].Recipient.RoleID != "" {
			t.Errorf("Emails = %+v, want 招待者1件", got)
		}
		if got[0].Params == nil {
			t.Error("Paramsがnil")
		}
	})

	t.Run("メールアドレスのない宛先は除かれること", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		if err := b.AddEmails("T1", []recipient.Recipient{{RoleID: "role-x"}}, EmailOptions{}); err != nil {
			t.Fatalf("AddEmails()でエラーが発生: %v", err)
		}
		if len(b.Result().Emails) != 0 {
			t.Error("アドレスのない宛先にエンベロープが作られている")
		}
	})
}

// TestBuilderAddInApp はAddInAppを検証する。
func TestBuilderAddInApp(t *testing.T) {
	t.Parallel()

	t.Run("宛先が1件のエンベロープに入力順でまとまること", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		b.AddInApp("T1", []recipient.Recipient{bob, invitee, alice, bob}, InAppOptions{
			Context:      Context{Type: ContextSupport, Detail: "T1", ID: "unit-1"},
			InnovationID: "inno-1",
		})

		got := b.Result().InApps
		if len(got) != 1 {
			t.Fatalf("件数 = %d, want 1", len(got))
		}
		if want := []string{"role-bob", "role-alice"}; !reflect.DeepEqual(got[0].UserRoleIDs, want) {
			t.Errorf("UserRoleIDs = %v, want %v", got[0].UserRoleIDs, want)
		}
		if got[0].InnovationID != "inno-1" || got[0].Context.ID != "unit-1" {
			t.Errorf("InApp = %+v", got[0])
		}
	})

	t.Run("空の宛先ではエンベロープを作らないこと", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		b.AddInApp("T1", nil, InAppOptions{})
		b.AddInApp("T1", []recipient.Recipient{invitee, actorRecipient}, InAppOptions{})
		if len(b.Result().InApps) != 0 {
			t.Errorf("件数 = %d, want 0", len(b.Result().InApps))
		}
	})

	t.Run("呼び出しごとに別のエンベロープになること", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		b.AddInApp("T1", []recipient.Recipient{alice}, InAppOptions{})
		b.AddInApp("T2", []recipient.Recipient{alice}, InAppOptions{})
		got := b.Result().InApps
		if len(got) != 2 || got[0].TemplateID != "T1" || got[1].TemplateID != "T2" {
			t.Errorf("InApps = %+v", got)
		}
	})
}

// TestBuilderPolicy は本人除外とロック済み除外のポリシーを検証する。
func TestBuilderPolicy(t *testing.T) {
	t.Parallel()

	all := []recipient.Recipient{alice, actorRecipient, lockedCarol, bob}

	tests := []struct {
		name       string
		actor      event.Actor
		opts       Options
		wantEmails []string
		wantRoles  []string
	}{
		{
			name:       "既定では本人とロック済みが両方のチャネルから除かれること",
			actor:      actor,
			wantEmails: []string{"alice@example.com", "bob@example.com"},
			wantRoles:  []string{"role-alice", "role-bob"},
		},
		{
			name:       "IncludeSelfで本人が含まれること",
			actor:      actor,
			opts:       Options{IncludeSelf: true},
			wantEmails: []string{"alice@example.com", "actor@example.com", "bob@example.com"},
			wantRoles:  []string{"role-alice", "role-actor", "role-bob"},
		},
		{
			name:       "IncludeLockedでロック済みが含まれること",
			actor:      actor,
			opts:       Options{IncludeLocked: true},
			wantEmails: []string{"alice@example.com", "carol@example.com", "bob@example.com"},
			wantRoles:  []string{"role-alice", "role-carol", "role-bob"},
		},
		{
			name:       "メールアドレスだけで本人と判定されること",
			actor:      event.Actor{Email: "ALICE@example.com"},
			wantEmails: []string{"actor@example.com", "bob@example.com"},
			wantRoles:  []string{"role-actor", "role-bob"},
		},
		{
			name:       "IDプロバイダ識別子だけで本人と判定されること",
			actor:      event.Actor{IdentityID: "idp-bob"},
			wantEmails: []string{"alice@example.com", "actor@example.com"},
			wantRoles:  []string{"role-alice", "role-actor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := NewBuilder(tt.actor)
			err := b.Notify("T1", all, NotifyOptions{
				Email: EmailOptions{Options: tt.opts},
				InApp: InAppOptions{Options: tt.opts},
			})
			if err != nil {
				t.Fatalf("Notify()でエラーが発生: %v", err)
			}

			res := b.Result()
			if got := emailAddresses(res.Emails); !reflect.DeepEqual(got, tt.wantEmails) {
				t.Errorf("メール宛先 = %v, want %v", got, tt.wantEmails)
			}
			if len(res.InApps) != 1 {
				t.Fatalf("アプリ内通知の件数 = %d, want 1", len(res.InApps))
			}
			if got := res.InApps[0].UserRoleIDs; !reflect.DeepEqual(got, tt.wantRoles) {
				t.Errorf("アプリ内宛先 = %v, want %v", got, tt.wantRoles)
			}
		})
	}
}

// TestBuilderNotify はNotifyを検証する。
func TestBuilderNotify(t *testing.T) {
	t.Parallel()

	t.Run("ロールIDのない宛先はメールだけに含まれること", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		if err := b.Notify("T1", []recipient.Recipient{invitee, alice}, NotifyOptions{}); err != nil {
			t.Fatalf("Notify()でエラーが発生: %v", err)
		}

		res := b.Result()
		if len(res.Emails) != 2 {
			t.Errorf("メール件数 = %d, want 2", len(res.Emails))
		}
		if len(res.InApps) != 1 || !reflect.DeepEqual(res.InApps[0].UserRoleIDs, []string{"role-alice"}) {
			t.Errorf("InApps = %+v", res.InApps)
		}
	})

	t.Run("パラメータ不一致の場合はアプリ内通知も追加されないこと", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(actor)
		err := b.Notify("T1", []recipient.Recipient{alice}, NotifyOptions{
			Email: EmailOptions{ParamsList: []map[string]any{}},
		})
		if !errors.Is(err, ErrParamsMismatch) {
			t.Fatalf("err = %v, want ErrParamsMismatch", err)
		}
		if !b.Result().Empty() {
			t.Error("エンベロープが作られている")
		}
	})
}

// TestResultMerge はResult.Mergeが出力順を保つことを検証する。
func TestResultMerge(t *testing.T) {
	t.Parallel()

	a := Result{Emails: []EmailEnvelope{{ID: "e1"}}, InApps: []InAppEnvelope{{ID: "i1"}}}
	b := Result{Emails: []EmailEnvelope{{ID: "e2"}}}

	got := a.Merge(b)
	if len(got.Emails) != 2 || got.Emails[0].ID != "e1" || got.Emails[1].ID != "e2" {
		t.Errorf("Emails = %+v", got.Emails)
	}
	if len(got.InApps) != 1 {
		t.Errorf("InApps = %+v", got.InApps)
	}
	if len(a.Emails) != 1 {
		t.Error("元のResultが変更されている")
	}
	if !(Result{}).Empty() {
		t.Error("空のResultでEmpty()がfalse")
	}
}

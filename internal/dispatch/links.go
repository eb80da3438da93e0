package dispatch

import (
	"fmt"
	"net/url"
)

// Links はメール本文に埋め込むディープリンクを組み立てる。
type Links struct {
	base *url.URL
}

// NewLinks はベースURLからLinksを生成する。
func NewLinks(baseURL string) (Links, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return Links{}, fmt.Errorf("ベースURLの解析に失敗: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Links{}, fmt.Errorf("ベースURLは絶対URLである必要があります: %q", baseURL)
	}
	return Links{base: u}, nil
}

func (l Links) build(query url.Values, segments ...string) string {
	if l.base == nil {
		return ""
	}
	u := l.base.JoinPath(segments...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Innovation はイノベーションの概要ページ。
func (l Links) Innovation(innovationID string) string {
	return l.build(nil, "innovations", innovationID)
}

// Support は組織ユニットのサポート状況ページ。
func (l Links) Support(innovationID, unitID string) string {
	q := url.Values{}
	if unitID != "" {
		q.Set("unit", unitID)
	}
	return l.build(q, "innovations", innovationID, "support")
}

// Task はタスクページ。
func (l Links) Task(innovationID, taskID string) string {
	return l.build(nil, "innovations", innovationID, "tasks", taskID)
}

// Thread はメッセージスレッドページ。
func (l Links) Thread(innovationID, threadID string) string {
	return l.build(nil, "innovations", innovationID, "threads", threadID)
}

// Documents は文書一覧ページ。
func (l Links) Documents(innovationID string) string {
	return l.build(nil, "innovations", innovationID, "documents")
}

// Record はイノベーション記録ページ。
func (l Links) Record(innovationID string) string {
	return l.build(nil, "innovations", innovationID, "record")
}

// Invitation は共同作業者の招待ページ。
func (l Links) Invitation(innovationID string) string {
	return l.build(nil, "innovations", innovationID, "collaborations")
}

// Account はアカウント管理ページ。
func (l Links) Account() string {
	return l.build(nil, "account")
}

// NotificationPreferences はメール通知設定ページ。
func (l Links) NotificationPreferences() string {
	return l.build(nil, "account", "email-notifications")
}

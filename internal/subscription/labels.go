package subscription

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// supportStatusLabels はサポート状況の表示ラベル。
var supportStatusLabels = map[string]string{
	"ENGAGING":   "Engaging",
	"WAITING":    "Waiting",
	"NOT_YET":    "Not yet",
	"UNASSIGNED": "Unassigned",
	"UNSUITABLE": "Unsuitable",
	"CLOSED":     "Closed",
	"SUGGESTED":  "Suggested",
}

// labels はステータスコードを通知文面用のラベルに変換する。
type labels struct {
	tag     language.Tag
	catalog *catalog.Builder
}

var defaultLabels = mustNewLabels()

func mustNewLabels() *labels {
	l, err := newLabels(language.English)
	if err != nil {
		panic(err)
	}
	return l
}

func newLabels(tag language.Tag) (*labels, error) {
	cat := catalog.NewBuilder(catalog.Fallback(tag))
	for status, label := range supportStatusLabels {
		if err := cat.SetString(tag, supportStatusKey(status), label); err != nil {
			return nil, fmt.Errorf("ラベル %s の登録に失敗: %w", status, err)
		}
	}
	return &labels{tag: tag, catalog: cat}, nil
}

func supportStatusKey(status string) string {
	return "support.status." + status
}

// supportStatus はサポート状況のラベルを小文字で返す。
// 未登録のステータスはコードの区切りを空白にして使う。
func (l *labels) supportStatus(status string) string {
	if status == "" {
		return ""
	}
	key := supportStatusKey(status)
	label := message.NewPrinter(l.tag, message.Catalog(l.catalog)).Sprintf(key)
	if label == key {
		label = strings.ReplaceAll(status, "_", " ")
	}
	return cases.Lower(l.tag).String(label)
}

package event

import "fmt"

// ParamSubscriptionID はリマインダー系イベントで対象の購読IDを格納するキー。
const ParamSubscriptionID = "subscriptionId"

// Params はイベント固有のフィールドマップ。
// JSONから復元した場合、配列は[]any、数値はfloat64になる。
type Params map[string]any

// String はkeyの値を文字列として返す。存在しない場合は空文字列。
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Strings はkeyの値を文字列スライスとして返す。
// スカラー値は要素1つのスライスとして扱う。
func (p Params) Strings(key string) []string {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...)
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{p.String(key)}
	}
}

// SubscriptionID はリマインダー系イベントの対象購読IDを返す。
// キーが存在すれば値が空文字列でもtrueを返す。
func (p Params) SubscriptionID() (string, bool) {
	v, ok := p[ParamSubscriptionID]
	if !ok || v == nil {
		return "", false
	}
	return p.String(ParamSubscriptionID), true
}

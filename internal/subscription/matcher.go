package subscription

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/nao1215/casenotify/pkg/event"
)

// MatchPreconditions は購読の事前条件がイベントに一致するかを返す。副作用はない。
//
// イベントが購読IDのキーを持つ場合（リマインダー）は購読IDの一致だけで判定する。
// 値が空文字列でもキーがあればリマインダーとして扱い、どの購読にも一致しない。
// それ以外は、両方に存在するキーだけを比較する。共通のキーがなければ一致になる。
//   - リスト条件: イベントのスカラー値が含まれていること。イベントの値がリストなら、
//     空でなく、すべての要素が含まれていること。
//   - スカラー条件: イベントの値が等しいこと。リストの値は等しいとみなさない。
func MatchPreconditions(sub Subscription, ev event.Event) bool {
	if id, ok := ev.Params.SubscriptionID(); ok {
		return id == sub.ID
	}

	for key, want := range sub.PreConditions {
		got, ok := ev.Params[key]
		if !ok {
			continue
		}
		if !satisfies(normalize(want), normalize(got)) {
			return false
		}
	}
	return true
}

// satisfies は正規化済みの条件値wantにイベントの値gotが適合するかを返す。
func satisfies(want, got any) bool {
	set, isList := want.([]any)
	if !isList {
		return reflect.DeepEqual(want, got)
	}
	if list, ok := got.([]any); ok {
		return len(list) > 0 && contains(set, list)
	}
	return contains(set, []any{got})
}

// contains はsubの要素がすべてsetに含まれるかを返す。
func contains(set, sub []any) bool {
	for _, v := range sub {
		found := false
		for _, s := range set {
			if reflect.DeepEqual(s, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// normalize は比較のために値の表現を揃える。
// 数値はfloat64に、スライスは[]anyに、マップはmap[string]anyに変換する。
func normalize(v any) any {
	switch vv := v.(type) {
	case nil, string, bool, float64:
		return vv
	case json.Number:
		if f, err := vv.Float64(); err == nil {
			return f
		}
		return vv.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}

package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// paramsがnilの場合は空のParamsを設定する。
func New(eventType Type, innovationID string, actor Actor, params Params) Event {
	if params == nil {
		params = Params{}
	}
	return Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		InnovationID: innovationID,
		Params:       params,
		Actor:        actor,
		CreatedAt:    time.Now().UTC(),
	}
}

// Decode はJSONからイベントを復元する。
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("イベントのデシリアライズに失敗: %w", err)
	}
	if err := complete(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// FromStored はEvent Storeのレコードからイベントを復元する。
// Data側に種別やIDがない場合はレコードの値を使う。
func FromStored(s StoredEvent) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(s.Data), &e); err != nil {
		return Event{}, fmt.Errorf("イベントデータのデシリアライズに失敗 (id=%s): %w", s.ID, err)
	}
	if e.Type == "" {
		e.Type = Type(s.EventType)
	}
	if e.ID == "" {
		e.ID = s.ID
	}
	if e.CreatedAt.IsZero() {
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			e.CreatedAt = t
		}
	}
	if err := complete(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// complete は欠けているID・Params・発生日時を補完する。種別は必須。
func complete(e *Event) error {
	if e.Type == "" {
		return fmt.Errorf("イベント種別が指定されていません")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Params == nil {
		e.Params = Params{}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

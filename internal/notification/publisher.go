package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/pkg/event"
	"github.com/nao1215/casenotify/pkg/httpclient"
)

// Publisher は配信を終えたイベントを外部へ知らせる。
type Publisher interface {
	Publish(ctx context.Context, source event.Event, res dispatch.Result) error
}

// EventStorePublisher はEvent StoreへNOTIFICATIONS_DISPATCHEDイベントを追記する。
type EventStorePublisher struct {
	client *httpclient.Client
	now    func() time.Time
}

var _ Publisher = (*EventStorePublisher)(nil)

// NewEventStorePublisher は新しいEventStorePublisherを生成する。
func NewEventStorePublisher(client *httpclient.Client) *EventStorePublisher {
	return &EventStorePublisher{client: client, now: time.Now}
}

// appendEventRequest はEvent StoreのPOST /api/v1/eventsのリクエスト。
type appendEventRequest struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
}

// Publish はsourceの配信件数を記録したイベントを追記する。
// 追記したイベントはポーラーが読み戻しても通知を生まない。
func (p *EventStorePublisher) Publish(ctx context.Context, source event.Event, res dispatch.Result) error {
	dispatched := event.Event{
		ID:           uuid.New().String(),
		Type:         event.TypeNotificationsDispatched,
		InnovationID: source.InnovationID,
		Params: event.Params{
			"sourceEventId":   source.ID,
			"sourceEventType": string(source.Type),
			"emails":          len(res.Emails),
			"inApps":          len(res.InApps),
		},
		CreatedAt: p.now().UTC(),
	}
	data, err := json.Marshal(dispatched)
	if err != nil {
		return fmt.Errorf("配信済みイベントのシリアライズに失敗: %w", err)
	}

	req := appendEventRequest{
		AggregateID:   source.InnovationID,
		AggregateType: event.AggregateTypeInnovation,
		EventType:     string(event.TypeNotificationsDispatched),
		Data:          data,
	}
	if err := p.client.PostJSON(ctx, "/api/v1/events", req, nil); err != nil {
		return fmt.Errorf("Event Storeへの追記に失敗: %w", err)
	}
	return nil
}

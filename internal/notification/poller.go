package notification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/pkg/event"
	"github.com/nao1215/casenotify/pkg/httpclient"
)

// EventProcessor はイベント1件を処理する。*Processorが満たす。
type EventProcessor interface {
	Process(ctx context.Context, ev event.Event) (dispatch.Result, error)
}

// Poller はEvent Storeの新しいイベントをポーリングし、Processorへ渡すバックグラウンドプロセス。
// 処理に失敗したイベントは記録して読み飛ばし、再試行はしない。
// 発生日時を解析できないイベントは処理しない。
type Poller struct {
	// client はEvent Storeとの通信用HTTPクライアント。
	client *httpclient.Client
	// processor はイベントの処理先。
	processor EventProcessor
	// interval はポーリング間隔。
	interval time.Duration
	logger   *zap.Logger

	// mu はlastTimestampとcancelへの並行アクセスを保護する。
	mu sync.Mutex
	// lastTimestamp は次回の取得開始時刻。
	lastTimestamp time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewPoller は新しいPollerを生成する。
func NewPoller(client *httpclient.Client, processor EventProcessor, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:    client,
		processor: processor,
		interval:  interval,
		logger:    logger,
	}
}

// Start はバックグラウンドでポーリングを開始する。
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.logger.Info("Event Storeのポーリングを開始します",
			zap.String("url", p.client.BaseURL()), zap.Duration("interval", p.interval))
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("ポーリングを停止しました")
				return
			case <-ticker.C:
				if _, err := p.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
					p.logger.Warn("ポーリングに失敗", zap.Error(err))
				}
			}
		}
	}()
}

// Stop はポーリングを停止し、実行中のポーリングの終了を待つ。
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Poll はEvent Storeから新しいイベントを1回取得して処理し、取得件数を返す。
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	since := p.lastTimestamp
	p.mu.Unlock()

	var stored []event.StoredEvent
	q := url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
	if err := p.client.GetJSON(ctx, "/api/v1/events/since", q, &stored); err != nil {
		return 0, fmt.Errorf("Event Storeからのイベント取得に失敗: %w", err)
	}
	if len(stored) == 0 {
		return 0, nil
	}

	var latest time.Time
	for _, s := range stored {
		// 発生日時が読めないレコードは取得位置に使えないので処理しない
		createdAt, err := time.Parse(time.RFC3339Nano, s.CreatedAt)
		if err != nil {
			p.logger.Warn("発生日時を解析できないイベントを読み飛ばします",
				zap.String("event_id", s.ID), zap.String("created_at", s.CreatedAt), zap.Error(err))
			continue
		}
		if createdAt.After(latest) {
			latest = createdAt
		}

		ev, err := event.FromStored(s)
		if err != nil {
			p.logger.Warn("イベントの復元に失敗", zap.String("event_id", s.ID), zap.Error(err))
			continue
		}
		if _, err := p.processor.Process(ctx, ev); err != nil {
			// Processorが記録済み。再試行はしない
			continue
		}
	}

	if !latest.IsZero() {
		p.mu.Lock()
		// 同じイベントを再取得しないように1ナノ秒進める
		p.lastTimestamp = latest.Add(time.Nanosecond)
		p.mu.Unlock()
	}

	p.logger.Debug("イベントを処理しました", zap.Int("count", len(stored)))
	return len(stored), nil
}

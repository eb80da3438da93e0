package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nao1215/casenotify/internal/delivery"
	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/internal/subscription"
	"github.com/nao1215/casenotify/pkg/event"
)

const tracerName = "github.com/nao1215/casenotify/internal/notification"

// Processor はビジネスイベント1件を通知に変換して配信先へ渡す。
// 呼び出しごとに独立しており、並行に呼び出してよい。
type Processor struct {
	registry      *dispatch.Registry
	deps          dispatch.Deps
	subscriptions *subscription.SQLiteStore
	sink          delivery.Sink
	publisher     Publisher
	metrics       *Metrics
	logger        *zap.Logger
	tracer        trace.Tracer
}

// ProcessorConfig はProcessorの依存関係。
type ProcessorConfig struct {
	Registry      *dispatch.Registry
	Directory     recipient.Directory
	Links         dispatch.Links
	Subscriptions *subscription.SQLiteStore
	Sink          delivery.Sink
	Publisher     Publisher
	Metrics       *Metrics
	Logger        *zap.Logger
}

// NewProcessor は新しいProcessorを生成する。
func NewProcessor(cfg ProcessorConfig) *Processor {
	registry := cfg.Registry
	if registry == nil {
		registry = dispatch.DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		registry:      registry,
		deps:          dispatch.Deps{Directory: cfg.Directory, Links: cfg.Links},
		subscriptions: cfg.Subscriptions,
		sink:          cfg.Sink,
		publisher:     cfg.Publisher,
		metrics:       cfg.Metrics,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
}

// Process はイベントに対応するハンドラーと購読照合を実行し、
// 組み立てたエンベロープを配信先へ渡す。
// 配信済みイベントの発行に失敗してもログに記録するだけでエラーは返さない。
func (p *Processor) Process(ctx context.Context, ev event.Event) (dispatch.Result, error) {
	ctx, span := p.tracer.Start(ctx, "notification.Process", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", string(ev.Type)),
		attribute.String("innovation.id", ev.InnovationID),
	))
	defer span.End()

	start := time.Now()
	res, err := p.process(ctx, ev)
	if p.metrics != nil {
		p.metrics.duration.Observe(time.Since(start).Seconds())
		p.metrics.events.WithLabelValues(string(ev.Type), outcome(err)).Inc()
	}

	logger := p.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, dispatch.ErrParamsMismatch) {
			logger.Error("ハンドラーの契約違反", zap.Error(err))
		} else {
			logger.Warn("イベントの処理に失敗", zap.Error(err))
		}
		return dispatch.Result{}, err
	}

	span.SetAttributes(
		attribute.Int("envelopes.email", len(res.Emails)),
		attribute.Int("envelopes.in_app", len(res.InApps)),
	)
	logger.Info("イベントを処理しました",
		zap.Int("emails", len(res.Emails)), zap.Int("in_apps", len(res.InApps)))

	if p.publisher != nil && !res.Empty() {
		if err := p.publisher.Publish(ctx, ev, res); err != nil {
			logger.Warn("配信済みイベントの発行に失敗", zap.Error(err))
		}
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, ev event.Event) (dispatch.Result, error) {
	res, handled, err := p.registry.Run(ctx, p.deps, ev)
	if err != nil {
		return dispatch.Result{}, err
	}

	subscribable := subscription.Subscribable(ev.Type) && p.subscriptions != nil
	if !handled && !subscribable {
		p.logger.Debug("対象外のイベント", zap.String("event_type", string(ev.Type)))
		return dispatch.Result{}, nil
	}

	if subscribable {
		matched, err := p.matchSubscriptions(ctx, ev)
		if err != nil {
			return dispatch.Result{}, err
		}
		res = res.Merge(matched)
	}

	if err := p.deliver(ctx, res); err != nil {
		return dispatch.Result{}, err
	}
	return res, nil
}

// matchSubscriptions は購読の読み取りから一度きりの購読の削除までを1トランザクションで行う。
func (p *Processor) matchSubscriptions(ctx context.Context, ev event.Event) (dispatch.Result, error) {
	ctx, span := p.tracer.Start(ctx, "subscription.Execute")
	defer span.End()

	var res dispatch.Result
	err := p.subscriptions.Transact(ctx, func(tx *subscription.SQLiteStore) error {
		engine := subscription.NewEngine(tx, p.deps.Directory,
			subscription.WithLinks(p.deps.Links),
			subscription.WithLogger(p.logger.Named("subscription")),
			subscription.WithOnConsumed(func(subscription.Subscription) {
				if p.metrics != nil {
					p.metrics.consumed.Inc()
				}
			}),
		)
		var err error
		res, err = engine.Execute(ctx, ev)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dispatch.Result{}, fmt.Errorf("購読の照合に失敗: %w", err)
	}
	return res, nil
}

// deliver は両チャネルをまとめて配信先へ渡す。失敗時はどちらも保存されないので再処理してよい。
func (p *Processor) deliver(ctx context.Context, res dispatch.Result) error {
	if err := p.sink.Deliver(ctx, res); err != nil {
		return fmt.Errorf("通知の配信に失敗: %w", err)
	}
	if p.metrics != nil {
		p.metrics.envelopes.WithLabelValues("in_app").Add(float64(len(res.InApps)))
		p.metrics.envelopes.WithLabelValues("email").Add(float64(len(res.Emails)))
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dispatch.ErrParamsMismatch):
		return "contract_error"
	default:
		return "error"
	}
}

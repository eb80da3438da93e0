package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/casenotify/internal/delivery"
	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/internal/notification"
	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/internal/subscription"
	"github.com/nao1215/casenotify/pkg/httpclient"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the Event Store poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// components はProcessorとその依存関係一式。
type components struct {
	processor     *notification.Processor
	sink          *delivery.SQLiteSink
	subscriptions *subscription.SQLiteStore
}

// newComponents はデータベース上にProcessorを組み立てる。
func newComponents(rt *app, reg prometheus.Registerer) (*components, error) {
	links, err := dispatch.NewLinks(rt.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	dir := recipient.NewSQLiteDirectory(rt.db)
	sink := delivery.NewSQLiteSink(rt.db, dir)
	subs := subscription.NewSQLiteStore(rt.db)

	var metrics *notification.Metrics
	if reg != nil {
		metrics = notification.NewMetrics(reg)
	}

	// Event Storeが設定されていれば配信済みイベントを書き戻す
	var publisher notification.Publisher
	if rt.cfg.EventStoreURL != "" {
		publisher = notification.NewEventStorePublisher(httpclient.New(rt.cfg.EventStoreURL))
	}

	return &components{
		processor: notification.NewProcessor(notification.ProcessorConfig{
			Registry:      dispatch.DefaultRegistry(),
			Directory:     dir,
			Links:         links,
			Subscriptions: subs,
			Sink:          sink,
			Publisher:     publisher,
			Metrics:       metrics,
			Logger:        rt.logger.Named("processor"),
		}),
		sink:          sink,
		subscriptions: subs,
	}, nil
}

func runServe(ctx context.Context) error {
	rt, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := newComponents(rt, reg)
	if err != nil {
		return err
	}

	server, err := notification.NewServer(notification.Options{
		Port:           rt.cfg.Port,
		JWTSecret:      rt.cfg.JWTSecret,
		Processor:      c.processor,
		Inbox:          c.sink,
		Subscriptions:  c.subscriptions,
		AllowedOrigins: rt.cfg.Origins(),
		Gatherer:       reg,
		Logger:         rt.logger.Named("http"),
	})
	if err != nil {
		return err
	}

	if rt.cfg.EventStoreURL != "" {
		poller := notification.NewPoller(httpclient.New(rt.cfg.EventStoreURL), c.processor,
			rt.cfg.PollInterval, rt.logger.Named("poller"))
		poller.Start(ctx)
		defer poller.Stop()
	} else {
		rt.logger.Info("Event StoreのURLが未設定のため、ポーリングは行いません")
	}

	rt.logger.Info("通知サービスを起動します", zap.String("port", rt.cfg.Port))
	return server.Run(ctx)
}

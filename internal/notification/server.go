package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/casenotify/internal/delivery"
	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/internal/subscription"
	"github.com/nao1215/casenotify/pkg/event"
	"github.com/nao1215/casenotify/pkg/middleware"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ上限。
const shutdownTimeout = 10 * time.Second

// Options はServerの依存関係と設定。
type Options struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はトークン検証用の秘密鍵。
	JWTSecret string
	// Processor はイベントの処理先。
	Processor EventProcessor
	// Inbox はアプリ内通知の受信箱。
	Inbox *delivery.SQLiteSink
	// Subscriptions は購読一覧の参照先。
	Subscriptions *subscription.SQLiteStore
	// AllowedOrigins はCORSを許可するオリジン。
	AllowedOrigins []string
	// Gatherer は/metricsで公開するメトリクス。nilの場合は公開しない。
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router    *gin.Engine
	port      string
	processor EventProcessor
	inbox     *delivery.SQLiteSink
	subs      *subscription.SQLiteStore
	logger    *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil || opts.Inbox == nil || opts.Subscriptions == nil {
		return nil, errors.New("Processor・Inbox・Subscriptionsは必須です")
	}
	if opts.JWTSecret == "" {
		return nil, errors.New("JWTの秘密鍵が指定されていません")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router:    router,
		port:      opts.Port,
		processor: opts.Processor,
		inbox:     opts.Inbox,
		subs:      opts.Subscriptions,
		logger:    logger,
	}
	s.setupRoutes(opts.JWTSecret, opts.Gatherer)

	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで待ってから停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	s.logger.Info("HTTPサーバーを停止しました")
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string, gatherer prometheus.Gatherer) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList(false))
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleList(true))
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 購読一覧取得
		api.GET("/subscriptions", s.handleListSubscriptions())

		// イベント受信（内部API - プラットフォーム本体から呼び出される）
		// 操作者を含むイベントを任意に投入できるため、サービスのトークンに限る
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleService))
		{
			internal.POST("/events", s.handleIngest())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// handleList は認証済みロールの通知一覧を返すハンドラ。
func (s *Server) handleList(unreadOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID := middleware.GetRoleID(c)
		if roleID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ロールIDが取得できません"})
			return
		}

		notifications, err := s.inbox.List(c.Request.Context(), roleID, unreadOnly)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			s.logger.Error("通知一覧取得エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID := middleware.GetRoleID(c)
		if roleID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ロールIDが取得できません"})
			return
		}

		err := s.inbox.MarkRead(c.Request.Context(), roleID, c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
		case errors.Is(err, delivery.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
		case errors.Is(err, delivery.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			s.logger.Error("通知既読処理エラー", zap.Error(err))
		}
	}
}

// handleMarkAllAsRead は認証済みロールの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID := middleware.GetRoleID(c)
		if roleID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ロールIDが取得できません"})
			return
		}

		n, err := s.inbox.MarkAllRead(c.Request.Context(), roleID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			s.logger.Error("全通知既読処理エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": n})
	}
}

// handleListSubscriptions は認証済みロールの購読一覧を返すハンドラ。
func (s *Server) handleListSubscriptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID := middleware.GetRoleID(c)
		if roleID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ロールIDが取得できません"})
			return
		}

		subs, err := s.subs.ListByRole(c.Request.Context(), roleID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読一覧の取得に失敗しました"})
			s.logger.Error("購読一覧取得エラー", zap.Error(err))
			return
		}
		if subs == nil {
			subs = []subscription.Subscription{}
		}

		c.JSON(http.StatusOK, subs)
	}
}

// handleIngest はイベント1件を受け取って処理するハンドラ。
func (s *Server) handleIngest() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディの読み取りに失敗しました"})
			return
		}

		ev, err := event.Decode(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		res, err := s.processor.Process(c.Request.Context(), ev)
		if err != nil {
			// 詳細はProcessorが記録済み
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの処理に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, ingestResponse(ev, res))
	}
}

// ingestResponse はイベント受信のレスポンスを組み立てる。
func ingestResponse(ev event.Event, res dispatch.Result) gin.H {
	return gin.H{
		"event_id": ev.ID,
		"emails":   len(res.Emails),
		"in_apps":  len(res.InApps),
	}
}

package notification

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/casenotify/internal/subscription"
	"github.com/nao1215/casenotify/pkg/event"
	"github.com/nao1215/casenotify/pkg/middleware"
)

const testJWTSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用の通知サーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()

	env := setupTestEnv(t, nil)
	s, err := NewServer(Options{
		Port:          "0",
		JWTSecret:     testJWTSecret,
		Processor:     env.processor,
		Inbox:         env.sink,
		Subscriptions: env.subs,
		Gatherer:      env.registry,
	})
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	return env, s.Handler()
}

// tokenFor はロール用のJWTトークンを生成する。
func tokenFor(t *testing.T, userID, roleID string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testJWTSecret, userID, roleID, "ACCESSOR")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	return token
}

// serviceToken はプラットフォーム内部サービス用のトークンを生成する。
func serviceToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testJWTSecret, "system", "role-system", middleware.RoleService)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	return token
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
// bodyが[]byteの場合はそのまま送信する。
func doRequest(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reqBody io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = bytes.NewReader(b)
	default:
		jsonBytes, _ := json.Marshal(b)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// parseJSONArray はレスポンスボディをスライスにデコードするヘルパー関数。
func parseJSONArray(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var result []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSON配列のデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// ingest は内部APIへイベントを送信する。
func ingest(t *testing.T, h http.Handler, ev event.Event) map[string]any {
	t.Helper()
	w := doRequest(h, http.MethodPost, "/api/v1/internal/events", serviceToken(t), ev)
	if w.Code != http.StatusCreated {
		t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
	return parseJSON(t, w)
}

// TestNewServer はNewServerの入力検証を検証する。
func TestNewServer(t *testing.T) {
	t.Parallel()

	t.Run("依存関係が欠けている場合はエラーになること", func(t *testing.T) {
		t.Parallel()
		if _, err := NewServer(Options{JWTSecret: testJWTSecret}); err == nil {
			t.Fatal("NewServer()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("秘密鍵が空の場合はエラーになること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t, nil)
		_, err := NewServer(Options{Processor: env.processor, Inbox: env.sink, Subscriptions: env.subs})
		if err == nil {
			t.Fatal("NewServer()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	_, h := setupTestServer(t)

	w := doRequest(h, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	result := parseJSON(t, w)
	if result["status"] != "ok" {
		t.Errorf("status: got %v, want ok", result["status"])
	}
	if result["service"] != "notification" {
		t.Errorf("service: got %v, want notification", result["service"])
	}
}

// TestMetricsEndpoint は/metricsでメトリクスが公開されることを検証する。
func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	_, h := setupTestServer(t)
	ingest(t, h, supportUpdatedEvent("ENGAGING"))

	w := doRequest(h, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "casenotify_events_processed_total") {
		t.Errorf("casenotify_events_processed_totalが含まれていない: %s", w.Body.String())
	}
}

// TestHandleIngest はイベント受信ハンドラのテスト。
func TestHandleIngest(t *testing.T) {
	t.Parallel()

	t.Run("イベントを処理してエンベロープ数を返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)

		ev := supportUpdatedEvent("ENGAGING")
		result := ingest(t, h, ev)

		if result["event_id"] != ev.ID {
			t.Errorf("event_id: got %v, want %s", result["event_id"], ev.ID)
		}
		if result["emails"] != float64(1) {
			t.Errorf("emails: got %v, want 1", result["emails"])
		}
		if result["in_apps"] != float64(1) {
			t.Errorf("in_apps: got %v, want 1", result["in_apps"])
		}
	})

	t.Run("不正なJSONの場合は400を返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)

		w := doRequest(h, http.MethodPost, "/api/v1/internal/events", serviceToken(t), []byte(`{invalid`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("種別がない場合は400を返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)

		w := doRequest(h, http.MethodPost, "/api/v1/internal/events", serviceToken(t), []byte(`{"innovationId":"inno-1"}`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("トークンがない場合は401を返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)

		w := doRequest(h, http.MethodPost, "/api/v1/internal/events", "", supportUpdatedEvent("ENGAGING"))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("サービス以外のトークンでは403を返し処理しないこと", func(t *testing.T) {
		t.Parallel()
		env, h := setupTestServer(t)

		// 担当者本人が操作者を偽ってイベントを投入しようとする
		ev := supportUpdatedEvent("ENGAGING")
		ev.Actor = event.Actor{UserID: "user-owner", RoleID: "role-owner"}
		w := doRequest(h, http.MethodPost, "/api/v1/internal/events", tokenFor(t, "user-acc", "role-acc"), ev)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}

		inbox, err := env.sink.List(t.Context(), "role-owner", false)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(inbox) != 0 {
			t.Errorf("受信箱: got %d件, want 0", len(inbox))
		}
	})
}

// TestHandleListNotifications は通知一覧取得ハンドラのテスト。
func TestHandleListNotifications(t *testing.T) {
	t.Parallel()

	t.Run("通知が存在しない場合は空配列を返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)

		w := doRequest(h, http.MethodGet, "/api/v1/notifications", tokenFor(t, "user-owner", "role-owner"), nil)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if result := parseJSONArray(t, w); len(result) != 0 {
			t.Errorf("配列の長さ: got %d, want 0", len(result))
		}
	})

	t.Run("ロールの通知だけを返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)
		ingest(t, h, supportUpdatedEvent("ENGAGING"))

		w := doRequest(h, http.MethodGet, "/api/v1/notifications", tokenFor(t, "user-owner", "role-owner"), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		result := parseJSONArray(t, w)
		if len(result) != 1 {
			t.Fatalf("配列の長さ: got %d, want 1", len(result))
		}
		if result[0]["role_id"] != "role-owner" {
			t.Errorf("role_id: got %v, want role-owner", result[0]["role_id"])
		}
		if result[0]["is_read"] != false {
			t.Errorf("is_read: got %v, want false", result[0]["is_read"])
		}

		// 操作者の受信箱は空
		w = doRequest(h, http.MethodGet, "/api/v1/notifications", tokenFor(t, "user-acc", "role-acc"), nil)
		if result := parseJSONArray(t, w); len(result) != 0 {
			t.Errorf("配列の長さ: got %d, want 0", len(result))
		}
	})
}

// TestHandleMarkAsRead は既読処理ハンドラのテスト。
func TestHandleMarkAsRead(t *testing.T) {
	t.Parallel()

	t.Run("既読にすると未読一覧から消えること", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)
		ingest(t, h, supportUpdatedEvent("ENGAGING"))
		ingest(t, h, supportUpdatedEvent("CLOSED"))
		owner := tokenFor(t, "user-owner", "role-owner")

		w := doRequest(h, http.MethodGet, "/api/v1/notifications/unread", owner, nil)
		unread := parseJSONArray(t, w)
		if len(unread) != 2 {
			t.Fatalf("未読数: got %d, want 2", len(unread))
		}

		id, _ := unread[0]["id"].(string)
		w = doRequest(h, http.MethodPut, "/api/v1/notifications/"+id+"/read", owner, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		w = doRequest(h, http.MethodGet, "/api/v1/notifications/unread", owner, nil)
		if unread := parseJSONArray(t, w); len(unread) != 1 {
			t.Errorf("未読数: got %d, want 1", len(unread))
		}
	})

	t.Run("存在しない通知は404を返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)

		w := doRequest(h, http.MethodPut, "/api/v1/notifications/missing/read", tokenFor(t, "user-owner", "role-owner"), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("他のロールの通知は403を返すこと", func(t *testing.T) {
		t.Parallel()
		_, h := setupTestServer(t)
		ingest(t, h, supportUpdatedEvent("ENGAGING"))

		w := doRequest(h, http.MethodGet, "/api/v1/notifications", tokenFor(t, "user-owner", "role-owner"), nil)
		id, _ := parseJSONArray(t, w)[0]["id"].(string)

		w = doRequest(h, http.MethodPut, "/api/v1/notifications/"+id+"/read", tokenFor(t, "user-acc", "role-acc"), nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestHandleMarkAllAsRead は全既読処理ハンドラのテスト。
func TestHandleMarkAllAsRead(t *testing.T) {
	t.Parallel()

	_, h := setupTestServer(t)
	ingest(t, h, supportUpdatedEvent("ENGAGING"))
	ingest(t, h, supportUpdatedEvent("CLOSED"))
	owner := tokenFor(t, "user-owner", "role-owner")

	w := doRequest(h, http.MethodPut, "/api/v1/notifications/read-all", owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	if result := parseJSON(t, w); result["updated"] != float64(2) {
		t.Errorf("updated: got %v, want 2", result["updated"])
	}

	w = doRequest(h, http.MethodGet, "/api/v1/notifications/unread", owner, nil)
	if unread := parseJSONArray(t, w); len(unread) != 0 {
		t.Errorf("未読数: got %d, want 0", len(unread))
	}
}

// TestHandleListSubscriptions は購読一覧取得ハンドラのテスト。
func TestHandleListSubscriptions(t *testing.T) {
	t.Parallel()

	env, h := setupTestServer(t)
	if _, err := env.subs.Create(t.Context(), subscription.Subscription{
		RoleID: "role-sub", InnovationID: "inno-1", EventType: event.TypeSupportUpdated, Type: subscription.TypeInstantly,
	}); err != nil {
		t.Fatalf("Create()でエラーが発生: %v", err)
	}

	w := doRequest(h, http.MethodGet, "/api/v1/subscriptions", tokenFor(t, "user-sub", "role-sub"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	result := parseJSONArray(t, w)
	if len(result) != 1 {
		t.Fatalf("配列の長さ: got %d, want 1", len(result))
	}
	if result[0]["subscriptionType"] != string(subscription.TypeInstantly) {
		t.Errorf("subscriptionType: got %v, want INSTANTLY", result[0]["subscriptionType"])
	}

	w = doRequest(h, http.MethodGet, "/api/v1/subscriptions", tokenFor(t, "user-owner", "role-owner"), nil)
	if result := parseJSONArray(t, w); len(result) != 0 {
		t.Errorf("配列の長さ: got %d, want 0", len(result))
	}
}

// TestCORSPreflight は受信箱APIのプリフライトに応答することを検証する。
func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t, nil)
	s, err := NewServer(Options{
		JWTSecret:      testJWTSecret,
		Processor:      env.processor,
		Inbox:          env.sink,
		Subscriptions:  env.subs,
		AllowedOrigins: []string{"https://cases.example.com"},
	})
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/notifications", nil)
	req.Header.Set("Origin", "https://cases.example.com")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://cases.example.com" {
		t.Errorf("Access-Control-Allow-Origin: got %q", got)
	}
}

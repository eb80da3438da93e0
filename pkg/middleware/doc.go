// Package middleware は通知サービスのHTTP APIで使用するGinミドルウェアを提供する。
//
// ロール単位のJWT認証、zapによるリクエストログとパニックリカバリ、
// 受信箱を表示するブラウザ向けのCORS設定を含む。
package middleware

// Package notification は通知サービスの内部実装を提供する。
//
// ビジネスイベントを受け取り、イベント種別ごとのハンドラーと購読照合エンジンで
// メールとアプリ内通知のエンベロープを組み立てて配信先へ渡す。
// イベントは内部APIへのPOSTか、Event Storeのポーリングで受け取る。
// 認証済みロール向けにアプリ内通知の一覧取得や既読管理、購読一覧も提供する。
package notification

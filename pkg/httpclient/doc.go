// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 通知サービスがEvent Storeからイベントを取得する際などに使用する。
// 2xx以外の応答は*StatusErrorとして返すので、errors.Asで状態コードを判定できる。
package httpclient

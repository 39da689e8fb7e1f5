// Package model はドメインモデルを定義する。
package model

import "time"

// Bookmark はユーザーが保存したブックマークを表す。
// IDとCreatedAtはストア側で採番され、レコードは作成後に
// 本文が書き換えられることはない（faviconの補完のみ例外）。
type Bookmark struct {
	ID               string
	UserID           string
	Title            string
	URL              string
	FaviconData      []byte
	FaviconMime      string
	FaviconFetchedAt *time.Time
	CreatedAt        time.Time
}

// ChangeOp はブックマークテーブルに対する変更種別を表す。
type ChangeOp string

const (
	// ChangeOpInsert は行の挿入。
	ChangeOpInsert ChangeOp = "INSERT"
	// ChangeOpUpdate は行の更新。
	ChangeOpUpdate ChangeOp = "UPDATE"
	// ChangeOpDelete は行の削除。
	ChangeOpDelete ChangeOp = "DELETE"
)

// ChangeEvent はブックマークテーブルの変更通知を表す。
// トリガーが全変更を通知するため、受信側は自ユーザー以外の
// 変更も受け取る（フェッチ時にuser_idで絞り直す前提）。
type ChangeEvent struct {
	Op         ChangeOp `json:"op"`
	BookmarkID string   `json:"id"`
	UserID     string   `json:"user_id"`
}

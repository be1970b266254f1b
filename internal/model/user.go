// Package model はドメインモデルを定義する。
package model

import "time"

// User は外部IdPのアイデンティティと照合済みのローカルユーザーを表す。
// ExternalIDはIdP発行のsubjectで、一度設定されたら不変。
type User struct {
	ID           string
	ExternalID   string
	Email        string
	FirstName    string
	LastName     string
	ImageURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSignInAt time.Time
}

// UserUpsert はユーザーの作成・部分更新に使うパッチ値。
// ポインタ型のフィールドはnilの場合に既存値を維持する。
// ExternalIDは照合キーであり、既存レコードの値を書き換えることはない。
type UserUpsert struct {
	ExternalID   string
	Email        string
	FirstName    *string
	LastName     *string
	ImageURL     *string
	LastSignInAt *time.Time
}

// SessionToken はこのサービスが発行するファーストパーティの不透明トークンを表す。
// Secretは高エントロピーのランダム文字列で、ログには決して出力しない。
type SessionToken struct {
	ID         string
	UserID     string
	ExternalID string
	Secret     string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Valid はトークンが指定時刻において有効かどうかを返す。
// now == ExpiresAt の境界は無効と判定する。
func (t *SessionToken) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

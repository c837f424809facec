// Package model はドメインモデルを定義する。
package model

import "time"

// Account は認証基盤が保持する資格情報を表す。
// パスワードハッシュはドキュメントストアには書き込まない。
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserProfile はusers/{uid}に保存されるプロフィールを表す。
// IDは認証UIDと一致する。ガードは参照のみ行い、変更しない。
type UserProfile struct {
	ID             string    `json:"uid"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"createdAt"`
	Specialization string    `json:"specialization,omitempty"`
	ContactNumber  string    `json:"contactNumber,omitempty"`
}

// DisplayName は名前順リスト用の表示名を返す。
func (p UserProfile) DisplayName() string { return p.Name }

// SearchFields はディレクトリ検索の対象フィールドを返す。
func (p UserProfile) SearchFields() []string {
	return []string{p.Name, p.Email, p.Specialization}
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsAuthenticated はセッションが有効かどうかを返す。nilは未認証として扱う。
func (s *Session) IsAuthenticated(now time.Time) bool {
	return s != nil && s.UserID != "" && now.Before(s.ExpiresAt)
}

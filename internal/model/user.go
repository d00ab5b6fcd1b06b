// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限区分を表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者ユーザー。
	RoleAdmin Role = "admin"
)

// User は外部IdP（Google）で認証されたサービス利用ユーザーを表す。
// IDは外部IdPが発行するsubject識別子であり、一度割り当てられたら不変。
type User struct {
	ID           string
	Email        string
	Name         string
	Picture      string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSignedIn time.Time
}

// Session はセッションストアに格納されるエントリを表す。
// Userがnilの場合はOAuth stateの保留エントリ（コールバック待ち）を意味する。
type Session struct {
	Token     string
	User      *User
	CreatedAt time.Time
}

// Pending はOAuth state検証待ちの保留エントリかどうかを返す。
func (s *Session) Pending() bool {
	return s.User == nil
}

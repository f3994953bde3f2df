package domain

import "time"

// User は認証対象のユーザーを表す。
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Repository はチャートリポジトリのうち、認可判定に必要な情報を表す。
type Repository struct {
	ID      int64
	OwnerID int64
	Name    string
	Private bool
}

package usecase

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"charted-server/internal/domain"
)

// BcryptVerifier はbcryptハッシュでパスワードを照合する。
type BcryptVerifier struct{}

// Verify はパスワードがユーザーのハッシュと一致するかを返す。
func (BcryptVerifier) Verify(user *domain.User, plaintext string) bool {
	if user == nil || user.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(plaintext)) == nil
}

// HashPassword はパスワードのbcryptハッシュを生成する。
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

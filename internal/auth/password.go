package auth

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const defaultBcryptCost = bcrypt.DefaultCost

// ErrInvalidCredentials 邮箱或密码错误
var ErrInvalidCredentials = errors.New("invalid email or password")

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// HashPassword 对明文密码进行哈希处理
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), defaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword 验证密码是否与存储的哈希值匹配
func VerifyPassword(hash, candidate string) error {
	if strings.TrimSpace(hash) == "" {
		return errors.New("stored password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate))
}

// CheckCredentials 校验登录凭据。user 不存在时（hash 为空）仍执行一次 bcrypt 比较，
// 使两种失败耗时一致。
func CheckCredentials(hash, candidate string) error {
	if strings.TrimSpace(hash) == "" {
		dummyHashOnce.Do(func() {
			dummyHash, _ = bcrypt.GenerateFromPassword([]byte("comicstrip-dummy-password"), defaultBcryptCost)
		})
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(candidate))
		return ErrInvalidCredentials
	}
	if err := VerifyPassword(hash, candidate); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

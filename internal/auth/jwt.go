// Package auth 提供管理接口的 JWT 认证和权限判定。
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permission 管理接口权限
type Permission string

const (
	PermViewAuditLogs     Permission = "audit_logs.view"      // 查看日志列表（脱敏）
	PermViewFullAuditLogs Permission = "audit_logs.view_full" // 查看完整快照
	PermRetryAudit        Permission = "audit_logs.retry"
	PermManualAudit       Permission = "audit_logs.manual"
)

// 角色到权限的映射
var rolePermissions = map[string][]Permission{
	"admin":     {PermViewAuditLogs, PermViewFullAuditLogs, PermRetryAudit, PermManualAudit},
	"moderator": {PermViewAuditLogs, PermRetryAudit, PermManualAudit},
}

// Claims JWT 载荷
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Has 判断 claims 是否具备某权限
func (c *Claims) Has(perm Permission) bool {
	for _, role := range c.Roles {
		for _, p := range rolePermissions[role] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// Service JWT 签发与校验
type Service struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewService 创建认证服务
func NewService(secret, issuer string, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Service{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}
}

// GenerateToken 签发用户令牌
func (s *Service) GenerateToken(userID string, roles []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("签发令牌失败: %w", err)
	}
	return signed, nil
}

// ValidateToken 校验令牌并返回 claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("令牌校验失败: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("令牌无效")
	}
	return claims, nil
}

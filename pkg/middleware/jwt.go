package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer はプラットフォームのゲートウェイが発行するトークンのissuer。
const tokenIssuer = "case-platform-gateway"

// コンテキストキー。
const (
	contextKeyUserID = "user_id"
	contextKeyRoleID = "role_id"
	contextKeyRole   = "role"
)

// RoleService はプラットフォーム内部のサービスが使うロール種別。
const RoleService = "SERVICE"

// JWTClaims はJWTトークンのクレームを表す。
// 通知フィードはロール単位で管理されるため、使用中のロールIDも持つ。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// RoleID はユーザーが現在使用しているロールのID。
	RoleID string `json:"role_id"`
	// Role はロール種別（INNOVATOR, ACCESSOR など）。
	Role string `json:"role"`
}

// GenerateJWT はユーザーとロールの情報からJWTトークンを生成する。
func GenerateJWT(secret, userID, roleID, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		RoleID: roleID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "role_id" と "role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}
		if claims.RoleID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "ロールが選択されていません",
			})
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyRoleID, claims.RoleID)
		c.Set(contextKeyRole, claims.Role)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
func GetUserID(c *gin.Context) string {
	return getString(c, contextKeyUserID)
}

// GetRoleID はGinコンテキストからロールIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetRoleID(c *gin.Context) string {
	return getString(c, contextKeyRoleID)
}

// GetRole はGinコンテキストからロール種別を取得する。
func GetRole(c *gin.Context) string {
	return getString(c, contextKeyRole)
}

// RequireRole はロール種別がrolesのいずれかでなければ403を返すミドルウェア。
// JWTAuthの後に適用する。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, GetRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

func getString(c *gin.Context, key string) string {
	v, _ := c.Get(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

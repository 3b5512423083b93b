package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultCookieName = "auth-token"
	DefaultTokenTTL   = 7 * 24 * time.Hour

	userIDKey = "user_id"
)

type JWTConfig struct {
	Secret     string
	CookieName string
	TTL        time.Duration
	// Secure 生产环境 cookie 只走 https
	Secure bool
}

func (c *JWTConfig) cookieName() string {
	if c.CookieName == "" {
		return DefaultCookieName
	}
	return c.CookieName
}

func (c *JWTConfig) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultTokenTTL
	}
	return c.TTL
}

type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken 签发 HS256 token，sub 为用户 ID
func GenerateToken(userID uuid.UUID, cfg *JWTConfig) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.ttl())),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken 校验签名和过期时间
func ParseToken(tokenString string, cfg *JWTConfig) (uuid.UUID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	if claims.ExpiresAt == nil {
		return uuid.Nil, errors.New("token has no expiry")
	}
	return uuid.Parse(claims.Subject)
}

func tokenFromRequest(c *gin.Context, cfg *JWTConfig) string {
	if cookie, err := c.Cookie(cfg.cookieName()); err == nil && cookie != "" {
		return cookie
	}
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// Authenticate token 缺失或无效时返回 false，不会报错
func Authenticate(c *gin.Context, cfg *JWTConfig) (uuid.UUID, bool) {
	tokenString := tokenFromRequest(c, cfg)
	if tokenString == "" {
		return uuid.Nil, false
	}
	userID, err := ParseToken(tokenString, cfg)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

// NewJWTAuth 必须登录
func NewJWTAuth(cfg *JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := Authenticate(c, cfg)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Not authenticated"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OptionalJWTAuth 登录态可选，用于 explore、个人主页等
func OptionalJWTAuth(cfg *JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := Authenticate(c, cfg); ok {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(userIDKey)
	if !exists {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}

// Viewer 未登录时返回 nil
func Viewer(c *gin.Context) *uuid.UUID {
	userID, ok := GetUserID(c)
	if !ok {
		return nil
	}
	return &userID
}

func SetAuthCookie(c *gin.Context, token string, cfg *JWTConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.cookieName(), token, int(cfg.ttl().Seconds()), "/", "", cfg.Secure, true)
}

func ClearAuthCookie(c *gin.Context, cfg *JWTConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.cookieName(), "", -1, "/", "", cfg.Secure, true)
}

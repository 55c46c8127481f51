package security

import (
	"net/http"
	"strings"

	"TProject/tools/errs"
	sec "TProject/tools/security"

	"github.com/gin-gonic/gin"
)

// —— context key ——
// 下游 handler 统一用这俩 key 读取。
const (
	CtxUserIDKey = "authUserId"    // string
	CtxTokenKey  = "authorization" // string
)

type Options struct {
	Secret []byte
	// 读取哪个请求头；默认 "Authorization"（兼容 Bearer 前缀）
	HeaderToken string
}

func DefaultOptions(secret []byte) *Options {
	return &Options{Secret: secret, HeaderToken: "Authorization"}
}

// Middleware 校验 Bearer JWT 并把用户ID写进请求上下文。
// 校验失败统一 401 + CodeError，不区分缺头/过期/伪造。
func Middleware(opts *Options) gin.HandlerFunc {
	if opts.HeaderToken == "" {
		opts.HeaderToken = "Authorization"
	}
	jwtOpts := sec.DefaultOptions(opts.Secret)
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired.WithDetail("missing token"))
			return
		}

		claims, err := sec.Verify(jwtOpts, token, "")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired.WithDetail(err.Error()))
			return
		}
		uid := claims.UserID()
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired.WithDetail("token has no subject"))
			return
		}

		c.Set(CtxUserIDKey, uid)
		c.Set(CtxTokenKey, token)
		c.Next()
	}
}

// UserID 从请求上下文取已认证用户ID。
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

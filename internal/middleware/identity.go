// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

const identityCookieName = "player_identity"

// identityHeaderName はCookieを使えないクライアント向けの代替ヘッダー。
const identityHeaderName = "X-Player-Identity"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストにidentityトークンを格納するためのキー。
var identityContextKey = contextKey("identity")

// NewIdentityMiddleware は端末ごとの不透明identityトークンを扱うミドルウェアを返す。
//
// トークンはCookieまたはヘッダーから読み取り、リクエストコンテキストに注入する。
// どちらにもない場合は新しいトークンを発行してHTTP Only Cookieに設定する。
// トークンは認証ではなく、同一端末からのリクエストを束ねる識別にのみ使う。
// サーバーはトークンの構造を検査しない。
func NewIdentityMiddleware(cookieSecure bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ""

			if cookie, err := r.Cookie(identityCookieName); err == nil && cookie.Value != "" {
				identity = cookie.Value
			}
			if identity == "" {
				identity = r.Header.Get(identityHeaderName)
			}

			if identity == "" {
				identity = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     identityCookieName,
					Value:    identity,
					Path:     "/",
					HttpOnly: true,
					Secure:   cookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はリクエストコンテキストからidentityトークンを取得する。
// identityミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (string, error) {
	identity, ok := ctx.Value(identityContextKey).(string)
	if !ok || identity == "" {
		return "", fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストにidentityトークンを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

package middleware

import (
	"net/http"
	"slices"
	"strconv"
)

const corsPreflightMaxAge = 10 * 60

// NewCORSMiddleware は許可リストに含まれるOriginにのみCORSヘッダーを返すミドルウェアを生成する。
// Cookieを伴うため Access-Control-Allow-Origin には一致したOriginをそのまま返す。
// 許可リストが空の場合はクロスオリジンを一切許可しない。
func NewCORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if !OriginAllowed(allowedOrigins, origin) {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")

			// プリフライト
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST")
				h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, "+csrfHeaderName)
				h.Set("Access-Control-Max-Age", strconv.Itoa(corsPreflightMaxAge))
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed はoriginが許可リストに完全一致で含まれるかを返す。空のoriginは常に不一致。
func OriginAllowed(allowedOrigins []string, origin string) bool {
	return origin != "" && slices.Contains(allowedOrigins, origin)
}

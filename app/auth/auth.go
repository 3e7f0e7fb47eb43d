// Package auth reads bearer tokens for the demo API.
package auth

import (
	"net/http"
	"strings"

	gohttp "github.com/km-arc/go-dsi/framework/http"
	"github.com/km-arc/go-dsi/framework/scan"
	"github.com/km-arc/go-dsi/framework/web"
)

func init() {
	scan.Component[TokenFilter]("token-filter")
}

// TokenFilter stores the bearer token as the "token" request attribute.
// Tokens on the deny list are refused.
type TokenFilter struct {
	Denied []string `config:"${demo.auth.denied}"`
}

func (f *TokenFilter) BeanOrder() int { return 10 }

func (f *TokenFilter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := gohttp.NewRequest(r).BearerToken()
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			for _, d := range f.Denied {
				if strings.EqualFold(d, token) {
					gohttp.NewResponse(w).Unauthorized("token revoked")
					return
				}
			}
			next.ServeHTTP(w, web.SetAttribute(r, "token", token))
		})
	}
}

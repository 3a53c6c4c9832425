package httpmw

import (
	"context"
	"net/http"
	"slices"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/pkg/httputil"
)

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// Auth требует Bearer JWT и кладёт identity в контекст.
func Auth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := httputil.BearerToken(r)
			if token == "" {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole пропускает только перечисленные роли. Ставится после Auth.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromCtx(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized", "no identity")
				return
			}
			if !slices.Contains(roles, id.Role) {
				httputil.Error(w, http.StatusForbidden, "forbidden", "role not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func IdentityFromCtx(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(domain.Identity)
	return id, ok
}

package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/JaimeStill/assay/pkg/handlers"
)

// Middleware authenticates requests with v. A nil Verifier disables verification,
// but the credential query parameter is still stripped.
func Middleware(v Verifier, queryParam string, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("middleware", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, fromQuery := stripQueryCredential(r, queryParam)

			if v == nil {
				next.ServeHTTP(w, r)
				return
			}

			raw := bearerToken(r)
			if raw == "" {
				raw = fromQuery
			}
			if raw == "" {
				handlers.RespondError(w, logger, http.StatusUnauthorized, ErrUnauthorized)
				return
			}

			id, err := v.Verify(r.Context(), raw)
			if err != nil {
				logger.Warn("token verification failed", "path", r.URL.Path)
				handlers.RespondError(w, logger, http.StatusUnauthorized, ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// stripQueryCredential removes param from the request URL and returns its value.
func stripQueryCredential(r *http.Request, param string) (*http.Request, string) {
	if param == "" {
		return r, ""
	}

	q := r.URL.Query()
	if !q.Has(param) {
		return r, ""
	}

	token := q.Get(param)
	q.Del(param)

	stripped := r.Clone(r.Context())
	stripped.URL.RawQuery = q.Encode()
	stripped.RequestURI = stripped.URL.RequestURI()
	return stripped, token
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

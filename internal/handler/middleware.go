package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/ledger-sync/internal/session"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SessionMiddleware verifies an optional Bearer token and injects the
// identity into the context. Requests without a token continue as guest;
// a malformed or invalid token is rejected.
func SessionMiddleware(verifier *session.Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := bearerToken(header)
			if !ok {
				logger.Warn("session: malformed authorization header", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				logger.Warn("session: rejected token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("ledger.identity", claims.Subject))
			next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), claims.Subject, raw)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

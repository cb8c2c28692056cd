package httpserver

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ronappleton/lmnp-workflow/internal/workflow"
)

// ActorMiddleware puts the acting user id on the request context. With a
// secret configured the id is the subject of an HS256 bearer token issued by
// the auth provider; without one the X-Actor header is trusted.
func ActorMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			if secret == "" {
				if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
					r = r.WithContext(workflow.WithActor(r.Context(), actor))
				}
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.Fields(r.Header.Get("Authorization"))
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			subject, err := tokenSubject(parts[1], secret)
			if err != nil || subject == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(workflow.WithActor(r.Context(), subject)))
		})
	}
}

func tokenSubject(raw, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return claims.GetSubject()
}

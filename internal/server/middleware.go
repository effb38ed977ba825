package server

import (
	"context"
	"net/http"

	"github.com/rs/cors"

	"github.com/fenggwsx/SlashRelay/internal/auth"
)

type subjectKey struct{}

// withCORS applies the configured origin allow-list. An empty list serves
// same-origin only.
func (a *App) withCORS(h http.Handler) http.Handler {
	if len(a.cfg.CORSAllow) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins: a.cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(h)
}

// requireToken enforces a valid bearer token when JWT is configured.
func (a *App) requireToken(next http.Handler) http.Handler {
	if !a.cfg.JWT.Enabled() {
		return next
	}
	authenticate := auth.NewAuthenticator(a.cfg.JWT)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := authenticate(auth.BearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

func subjectFrom(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}

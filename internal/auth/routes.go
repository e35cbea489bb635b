package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router.
// Register, login, refresh and the session probe are public; logout is a
// state-changing request and therefore runs behind the CSRF check.
func RegisterRoutes(r chi.Router, handler *AuthHandler, csrfMiddleware Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
		r.Get("/session", handler.Session)

		r.Group(func(r chi.Router) {
			r.Use(csrfMiddleware)
			r.Post("/logout", handler.Logout)
		})
	})
}

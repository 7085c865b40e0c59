package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"identity/internal/auth"
	"identity/internal/config"
	"identity/internal/db"
	"identity/internal/identity"
)

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(
	cfg *config.Config,
	database *db.DB,
	jwtService *auth.JWTService,
	service *identity.AuditedService,
) (*Server, error) {
	ips, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	registrationHandler := NewRegistrationHandler(service, ips)
	authHandler := NewAuthHandler(service, ips)
	accountHandler := NewAccountHandler(service)
	healthHandler := NewHealthHandler(database)

	authMiddleware := NewAuthMiddleware(jwtService)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB

		r.Route("/registrations", func(r chi.Router) {
			r.Get("/check-email", registrationHandler.CheckEmail)
			r.Get("/status", registrationHandler.Status)
			r.Get("/password-policy", registrationHandler.PasswordPolicy)
			r.Get("/limits", registrationHandler.Limits)

			r.With(httprate.LimitByIP(10, time.Minute)).Post("/", registrationHandler.Start)
			r.With(httprate.LimitByIP(5, time.Minute)).Post("/resend", registrationHandler.Resend)
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/verify", registrationHandler.Verify)
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", authHandler.Login)
			r.With(httprate.LimitByIP(30, time.Minute)).Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
			r.With(httprate.LimitByIP(5, time.Minute)).Post("/password-reset", accountHandler.RequestPasswordReset)
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/password-reset/confirm", accountHandler.ResetPassword)
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/email-change/confirm", accountHandler.ConfirmEmailChange)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Post("/logout-all", authHandler.LogoutAll)
				r.Get("/sessions", authHandler.ListSessions)
				r.Delete("/sessions/{sessionID}", authHandler.RevokeSession)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/me", accountHandler.GetMe)
			r.Patch("/me/profile", accountHandler.UpdateProfile)
			r.Post("/me/password", accountHandler.ChangePassword)
			r.Post("/me/email-change", accountHandler.RequestEmailChange)
		})
	})

	return &Server{
		router: r,
		config: cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware allows the configured origins plus any loopback origin.
// Requests from other origins are rejected outright rather than left to the
// browser to discard.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !originAllowed(allowed, origin) {
				writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed map[string]struct{}, origin string) bool {
	if _, ok := allowed[strings.TrimRight(origin, "/")]; ok {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
